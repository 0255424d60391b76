package obslog

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewDoesNotPanicInEitherMode(t *testing.T) {
	require.NotPanics(t, func() {
		New(true).Info("hello")
		New(false).Info("hello")
	})
}

func TestWithRequestIDReturnsDistinctLogger(t *testing.T) {
	l := New(false)
	scoped := l.WithRequestID(uuid.New())
	require.NotSame(t, l, scoped)
}
