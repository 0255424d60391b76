package stoerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTriggersRollback(t *testing.T) {
	require.True(t, TransportError.TriggersRollback())
	require.True(t, ExecutorError.TriggersRollback())
	require.True(t, StepFailure.TriggersRollback())
	require.False(t, InvalidArgument.TriggersRollback())
	require.False(t, NotInitialized.TriggersRollback())
	require.False(t, OutOfMemory.TriggersRollback())
	require.False(t, AlreadyExists.TriggersRollback())
	require.False(t, NotFound.TriggersRollback())
}

func TestAsFindsWrappedStoError(t *testing.T) {
	inner := NotFoundf("device %s", "nvme0")
	wrapped := fmt.Errorf("lookup failed: %w", inner)

	found, ok := As(wrapped)
	require.True(t, ok)
	require.Same(t, inner, found)
	require.Equal(t, NotFound, found.Kind)
	require.Equal(t, -2, found.Errno)
}

func TestAsRejectsPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	require.False(t, ok)
}

func TestFromErrnoRecoversKnownKinds(t *testing.T) {
	require.Equal(t, AlreadyExists, FromErrno(-17, "x").Kind)
	require.Equal(t, NotFound, FromErrno(-2, "x").Kind)
	require.Equal(t, InvalidArgument, FromErrno(-22, "x").Kind)
	require.Equal(t, StepFailure, FromErrno(-5, "x").Kind)
}
