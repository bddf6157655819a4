package remote

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoteError_UnwrapsKindAndCause(t *testing.T) {
	cause := &exec.ExitError{}
	err := error(&RemoteError{
		Op:     "remote-expr",
		Server: "VIMPILOT_1",
		Input:  "1 + []",
		Stderr: "E745: Using a List as a Number\n",
		Kind:   ErrInvalidExpression,
		Err:    cause,
	})

	require.ErrorIs(t, err, ErrInvalidExpression)
	require.NotErrorIs(t, err, ErrInvalidKeystrokeInput)
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, "remote-expr to VIMPILOT_1: invalid expression: E745: Using a List as a Number", err.Error())
}

func TestRemoteError_MessageFallsBackToCause(t *testing.T) {
	err := &RemoteError{
		Op:     "remote-send",
		Server: "VIMPILOT_2",
		Kind:   ErrInvalidKeystrokeInput,
		Err:    errors.New("exit status 1"),
	}
	require.Equal(t, "remote-send to VIMPILOT_2: invalid keystroke input: exit status 1", err.Error())
}
