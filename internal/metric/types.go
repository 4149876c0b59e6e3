package metric

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindSummary   Kind = "summary"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCounter, KindGauge, KindHistogram, KindSummary:
		return true
	}
	return false
}

type ExportMethod string

const (
	ExportTextfile    ExportMethod = "textfile"
	ExportPushgateway ExportMethod = "pushgateway"
)

func (m ExportMethod) Valid() bool {
	return m == ExportTextfile || m == ExportPushgateway
}

// GlobalConfig bounds every metric definition. Invariant: 1 < Min < Max.
type GlobalConfig struct {
	ExecutionTimeout      int `json:"execution_timeout"`
	MinExecutionFrequency int `json:"min_execution_frequency"`
	MaxExecutionFrequency int `json:"max_execution_frequency"`
}

// Definition is one validated metric job. It is immutable once linted.
//
// ExecutionTimeout is derived: frequency-1 when frequency <= the global
// timeout, else the global timeout. So ExecutionTimeout < ExecutionFrequency.
type Definition struct {
	Name               string       `json:"name"`
	Kind               Kind         `json:"metric_type"`
	ExecutionFrequency int          `json:"execution_frequency"`
	ExportMethod       ExportMethod `json:"export_method"`
	Command            string       `json:"bash_command"`
	Help               string       `json:"help"`
	ExecutionTimeout   int          `json:"execution_timeout"`
}

// Profile lists the metric names a class of hosts runs.
type Profile struct {
	Name    string   `json:"profile_name"`
	Metrics []string `json:"metrics"`
}

// ErrInvalid is matched by every *ValidationError.
var ErrInvalid = errors.New("invalid metric config")

// ValidationError reports a rejected config file or field.
type ValidationError struct {
	File   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.File != "":
		return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Reason)
	case e.File != "":
		return fmt.Sprintf("%s: %s", e.File, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

func invalid(file, field, format string, args ...any) *ValidationError {
	return &ValidationError{File: file, Field: field, Reason: fmt.Sprintf(format, args...)}
}
