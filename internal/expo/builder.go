package expo

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"iris/internal/metric"
)

// Prefix is the reserved metric name prefix of this agent.
const Prefix = metric.Prefix

// PrefixedName applies the reserved prefix rule; see metric.PrefixedName.
func PrefixedName(name string) string { return metric.PrefixedName(name) }

// ReturnCodeName is the companion gauge of a job.
func ReturnCodeName(job string) string { return metric.ReturnCodeName(job) }

// Builder accumulates exposition text. The zero value is ready to use.
type Builder struct {
	buf bytes.Buffer
}

// Label is one name="value" pair; order is preserved.
type Label struct {
	Name  string
	Value string
}

// Add appends one metric family with a single sample. name is passed
// through PrefixedName.
func (b *Builder) Add(name, help, kind string, value float64, labels ...Label) *Builder {
	name = PrefixedName(name)

	b.buf.WriteString("# HELP ")
	b.buf.WriteString(name)
	b.buf.WriteByte(' ')
	b.buf.WriteString(escapeHelp(help))
	b.buf.WriteByte('\n')

	b.buf.WriteString("# TYPE ")
	b.buf.WriteString(name)
	b.buf.WriteByte(' ')
	b.buf.WriteString(kind)
	b.buf.WriteByte('\n')

	b.buf.WriteString(name)
	if len(labels) > 0 {
		b.buf.WriteByte('{')
		for i, l := range labels {
			if i > 0 {
				b.buf.WriteByte(',')
			}
			b.buf.WriteString(l.Name)
			b.buf.WriteString(`="`)
			b.buf.WriteString(escapeLabelValue(l.Value))
			b.buf.WriteByte('"')
		}
		b.buf.WriteByte('}')
	}
	b.buf.WriteByte(' ')
	b.buf.WriteString(FormatFloat(value))
	b.buf.WriteByte('\n')
	return b
}

// Bytes returns the text built so far. It aliases the internal buffer.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// String returns the text built so far.
func (b *Builder) String() string { return b.buf.String() }

// JobText renders the file content for one job result.
func JobText(def metric.Definition, value float64, returnCode int) []byte {
	var b Builder
	b.Add(def.Name, def.Help, string(def.Kind), value,
		Label{Name: "execution_frequency", Value: strconv.Itoa(def.ExecutionFrequency)})
	b.Add(ReturnCodeName(def.Name), "the execution return code", "gauge", float64(returnCode))
	return b.Bytes()
}

// FormatFloat matches the Prometheus text encoder.
func FormatFloat(f float64) string {
	switch {
	case f == 1:
		return "1"
	case f == 0:
		return "0"
	case f == -1:
		return "-1"
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, +1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

func escapeHelp(s string) string       { return helpEscaper.Replace(s) }
func escapeLabelValue(s string) string { return labelEscaper.Replace(s) }
