package state

import (
	"strings"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/dynerr"
)

// #region features-builder
var separatorStripper = strings.NewReplacer("|", "", ";", "", "=", "")

// Features accumulates bucketed feature values for BuildState.
// The first invalid Set is remembered and reported by Build.
type Features struct {
	m   map[string]string
	err error
}

// NewFeatures returns an empty builder.
func NewFeatures() *Features {
	return &Features{m: make(map[string]string)}
}

// Set records key=value. Separator characters are stripped from the value;
// an empty key makes Build fail.
func (f *Features) Set(key, value string) *Features {
	if f.err != nil {
		return f
	}
	if strings.TrimSpace(key) == "" {
		f.err = dynerr.New(dynerr.MalformedRecord, "state.features", "empty feature key (value %q)", value)
		return f
	}
	f.m[key] = separatorStripper.Replace(value)
	return f
}

// Build returns a copy of the accumulated features.
func (f *Features) Build() (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(f.m))
	for k, v := range f.m {
		out[k] = v
	}
	return out, nil
}

// MustBuild is Build for literal keys; it panics on an empty key.
func (f *Features) MustBuild() map[string]string {
	m, err := f.Build()
	if err != nil {
		panic(err)
	}
	return m
}

// #endregion features-builder
