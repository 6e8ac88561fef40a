package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_KindAndFatality(t *testing.T) {
	cause := fmt.Errorf("boom")

	tests := []struct {
		name  string
		err   *Error
		kind  Kind
		fatal bool
	}{
		{"config invalid", ConfigInvalid("port out of range"), KindConfigInvalid, true},
		{"certificate missing", CertificateMissing("key not found", cause), KindCertificateMissing, true},
		{"bind failure", BindFailure("listen", cause), KindBindFailure, false},
		{"reload failure", ReloadFailure("build", cause), KindReloadFailure, false},
		{"shutdown timeout", ShutdownTimeout("drain", nil), KindShutdownTimeout, false},
		{"watcher failure", WatcherFailure("fsnotify", cause), KindWatcherFailure, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, tt.fatal, tt.err.Fatal())
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
			assert.Contains(t, tt.err.Error(), string(tt.kind))
			assert.NotNil(t, tt.err.Context)
		})
	}
}

func TestError_MessageWithAndWithoutCause(t *testing.T) {
	withCause := BindFailure("listen on :3000", fmt.Errorf("address already in use"))
	assert.Equal(t, "bind_failure: listen on :3000: address already in use", withCause.Error())

	withoutCause := ConfigInvalid("watch paths are empty")
	assert.Equal(t, "config_invalid: watch paths are empty", withoutCause.Error())
	assert.NotContains(t, withoutCause.Error(), "<nil>")
}

func TestError_UnwrapAndKindOf(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := fmt.Errorf("restart: %w", ReloadFailure("build entry", cause))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindReloadFailure, KindOf(err))
	assert.True(t, IsKind(err, KindReloadFailure))
	assert.False(t, IsKind(err, KindBindFailure))
	assert.False(t, IsKind(nil, KindBindFailure))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestError_AsFatal(t *testing.T) {
	err := ShutdownTimeout("force close did not converge", nil).AsFatal()

	assert.True(t, err.Fatal())
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", err)))
}

func TestError_WithContextAndLogAttrs(t *testing.T) {
	err := BindFailure("listen", nil).WithContext("port", 3000)

	assert.Equal(t, 3000, err.Context["port"])

	attrs := err.LogAttrs()
	require.Len(t, attrs, 6)
	assert.Equal(t, "kind", attrs[0])
	assert.Equal(t, "bind_failure", attrs[1])
	assert.Equal(t, "port", attrs[4])
	assert.Equal(t, 3000, attrs[5])
}

func TestError_WithContextOnNilMap(t *testing.T) {
	err := &Error{Kind: KindBindFailure, Message: "x"}
	err.WithContext("k", "v")
	assert.Equal(t, "v", err.Context["k"])
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(CertificateMissing("missing key", nil)))
	assert.Equal(t, 1, ExitCode(errors.New("anything")))
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil, KindWatcherFailure))

	original := ReloadFailure("load", nil)
	assert.Same(t, original, AsStructuredError(fmt.Errorf("wrap: %w", original), KindWatcherFailure))

	converted := AsStructuredError(errors.New("inotify limit"), KindWatcherFailure)
	assert.Equal(t, KindWatcherFailure, converted.Kind)
	assert.True(t, converted.Fatal())
}
