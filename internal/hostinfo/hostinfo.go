// Package hostinfo identifies the current host and reads the tags that
// select its metric profile.
package hostinfo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMissingTags is matched by *MissingTagsError.
var ErrMissingTags = errors.New("missing iris tags")

// Instance is what a Provider knows about the current host.
type Instance struct {
	ID       string
	Hostname string
	Tags     map[string]string
}

type Provider interface {
	Instance(ctx context.Context) (Instance, error)
}

// TagKeys names the tags that carry the agent settings.
type TagKeys struct {
	Profile     string
	Enabled     string
	Name        string
	Environment string
}

// HostTags are the resolved agent settings of a host.
type HostTags struct {
	InstanceID  string
	Profile     string
	Enabled     bool
	HostName    string
	Environment string
}

// MissingTagsError reports a host without the profile and/or enabled tag.
type MissingTagsError struct {
	InstanceID string
	Missing    []string
	Present    []string
}

func (e *MissingTagsError) Error() string {
	return fmt.Sprintf("instance %s is missing tags %s (has %s)",
		e.InstanceID, strings.Join(e.Missing, ", "), strings.Join(e.Present, ", "))
}

func (e *MissingTagsError) Is(target error) bool { return target == ErrMissingTags }

// Resolve extracts HostTags. Both the profile and enabled tags must be
// present; enabled is true only for the literal value "true" (any case).
// Name falls back to the hostname.
func Resolve(inst Instance, keys TagKeys) (HostTags, error) {
	profile, hasProfile := inst.Tags[keys.Profile]
	enabled, hasEnabled := inst.Tags[keys.Enabled]
	if !hasProfile || !hasEnabled {
		e := &MissingTagsError{InstanceID: inst.ID}
		if !hasProfile {
			e.Missing = append(e.Missing, keys.Profile)
		}
		if !hasEnabled {
			e.Missing = append(e.Missing, keys.Enabled)
		}
		for k := range inst.Tags {
			e.Present = append(e.Present, k)
		}
		sort.Strings(e.Present)
		return HostTags{}, e
	}

	name := strings.TrimSpace(inst.Tags[keys.Name])
	if name == "" {
		name = inst.Hostname
	}
	return HostTags{
		InstanceID:  inst.ID,
		Profile:     strings.TrimSpace(profile),
		Enabled:     strings.EqualFold(strings.TrimSpace(enabled), "true"),
		HostName:    name,
		Environment: strings.TrimSpace(inst.Tags[keys.Environment]),
	}, nil
}
