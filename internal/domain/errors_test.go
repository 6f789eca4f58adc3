package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Launcher.Launch", ErrLaunchFailed, "exec: \"nope\": not found")
	want := "Launcher.Launch: exec: \"nope\": not found: process launch failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Service.Start", ErrRunActive, "")
	want := "Service.Start: a migration is already running"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Launcher.Launch", ErrLaunchFailed, "permission denied")
	if !errors.Is(err, ErrLaunchFailed) {
		t.Error("errors.Is should match ErrLaunchFailed")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewDomainError("Store.Get", ErrHistoryStore, "db closed"))
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "Store.Get" {
		t.Errorf("Op = %q, want %q", de.Op, "Store.Get")
	}
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
	err := WrapOp("history.Save", ErrHistoryStore)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHistoryStore)
	assert.Equal(t, "history.Save: history store failed", err.Error())
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeLaunchFailed, ErrorCodeOf(ErrLaunchFailed))
	assert.Equal(t, CodeRunActive, ErrorCodeOf(ErrRunActive))
	assert.Equal(t, CodeNotFound, ErrorCodeOf(ErrNotFound))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"process not found", NewSubSystemError("process", "Launcher.Wait", ErrNotFound, "01H"), CodeProcessNotFound},
		{"process limit", NewSubSystemError("process", "Launcher.Launch", ErrLimitReached, "4/4"), CodeProcessMaxRunning},
		{"run not found", NewSubSystemError("history", "Store.Get", ErrNotFound, "x"), CodeRunNotFound},
		{"test mode disabled", NewSubSystemError("migration", "BuildEnv", ErrDisabled, "small"), CodeTestModeDisabled},
		{"unknown subsystem falls back", NewSubSystemError("other", "Op", ErrNotFound, ""), CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestErrorCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrRPCPayload))
	assert.Equal(t, CodeRPCPayload, ErrorCodeOf(err))

	de := NewDomainError("Launcher.Launch", fmt.Errorf("start: %w", ErrLaunchFailed), "")
	assert.Equal(t, CodeLaunchFailed, de.Code())
}

func TestErrorCodeOf_Unknown(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(errors.New("something else")))
}
