package dynerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKindThroughWrapping(t *testing.T) {
	base := Config("estimate", "alpha must be > 0, got %v", -1.0)
	wrapped := fmt.Errorf("build report: %w", base)

	assert.True(t, IsKind(wrapped, ConfigError))
	assert.False(t, IsKind(wrapped, DataUnavailable))
	assert.True(t, errors.Is(wrapped, &Error{Kind: ConfigError}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: ConfigError, Op: "verify"}))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(DataUnavailable, "load", nil))
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("disk gone")
	err := Wrap(DataUnavailable, "load states", cause)
	assert.Equal(t, "load states: data_unavailable: disk gone", err.Error())
	assert.ErrorIs(t, err, cause)

	msg := New(MalformedRecord, "record transition", "empty rollout id").Error()
	assert.Equal(t, "record transition: malformed_record: empty rollout id", msg)
}
