package executor

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/dhamidi/storectl/internal/stoerr"
)

func send(t *testing.T, e *FakeExecutor, method string, params any) (json.RawMessage, error) {
	t.Helper()
	var result json.RawMessage
	var callErr error
	require.NoError(t, e.Send(method, params, func(r json.RawMessage, err error) {
		result = r
		callErr = err
	}))
	return result, callErr
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	e := NewFakeExecutor(afero.NewMemMapFs())

	buf := base64.StdEncoding.EncodeToString([]byte("hello"))
	oflag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	raw, err := send(t, e, "writefile", WriteFileRequest{Filepath: "/tmp/t", Oflag: oflag, Buf: buf})
	require.NoError(t, err)
	var wresp WriteFileResponse
	require.NoError(t, json.Unmarshal(raw, &wresp))
	require.Equal(t, 0, wresp.Returncode)

	raw, err = send(t, e, "readfile", ReadFileRequest{Filepath: "/tmp/t"})
	require.NoError(t, err)
	var rresp ReadFileResponse
	require.NoError(t, json.Unmarshal(raw, &rresp))
	require.Equal(t, 0, rresp.Returncode)

	decoded, err := base64.StdEncoding.DecodeString(rresp.Buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(decoded))
}

func TestReadMissingFileReturnsNotFoundErrno(t *testing.T) {
	e := NewFakeExecutor(afero.NewMemMapFs())
	raw, err := send(t, e, "readfile", ReadFileRequest{Filepath: "/nope"})
	require.NoError(t, err)
	var resp ReadFileResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, -2, resp.Returncode)
}

func TestReaddirSkipsHiddenAndExcluded(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dir/a.txt", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dir/.hidden", []byte("h"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dir/lockfile", []byte("l"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dir/b.txt", []byte("b"), 0o644))

	e := NewFakeExecutor(fs)
	raw, err := send(t, e, "readdir", ReaddirRequest{Dirpath: "/dir", SkipHidden: true, ExcludeList: []string{"lockfile"}})
	require.NoError(t, err)

	var resp ReaddirResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, 0, resp.Returncode)

	var names []string
	for _, d := range resp.Dirents {
		names = append(names, d.Name)
	}
	require.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestUnknownMethodIsInvalidArgument(t *testing.T) {
	e := NewFakeExecutor(afero.NewMemMapFs())
	_, err := send(t, e, "bogus", map[string]any{})
	require.Error(t, err)
	se, ok := stoerr.As(err)
	require.True(t, ok)
	require.Equal(t, stoerr.InvalidArgument, se.Kind)
}
