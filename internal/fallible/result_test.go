package fallible

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOkUnwrap(t *testing.T) {
	r := Ok(42)
	v, err := r.Unwrap()
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.False(t, r.IsErr())
}

func TestErrUnwrap(t *testing.T) {
	sentinel := errors.New("boom")
	r := Err[int](sentinel)
	_, err := r.Unwrap()
	require.ErrorIs(t, err, sentinel)
	require.True(t, r.IsErr())
}

func TestMustPanicsOnError(t *testing.T) {
	r := Err[string](errors.New("boom"))
	require.Panics(t, func() { r.Must() })
}

func TestErrPanicsOnNil(t *testing.T) {
	require.Panics(t, func() { Err[int](nil) })
}
