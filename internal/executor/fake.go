package executor

import (
	"encoding/base64"
	"encoding/json"
	"io/fs"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/dhamidi/storectl/internal/rpcpool"
	"github.com/dhamidi/storectl/internal/stoerr"
)

// FakeExecutor answers the five outbound methods (spec.md §6) in-process
// against an afero.Fs, standing in for the real sidecar in tests and in a
// -fake-executor development mode. It satisfies dispatch.OutboundSender.
type FakeExecutor struct {
	fs afero.Fs
}

// NewFakeExecutor builds a FakeExecutor over fs. Pass afero.NewMemMapFs()
// for a fully in-memory fake; afero.NewOsFs() to exercise real disk paths
// under a test's t.TempDir().
func NewFakeExecutor(fs afero.Fs) *FakeExecutor {
	return &FakeExecutor{fs: fs}
}

// Send implements dispatch.OutboundSender, dispatching by method name the
// same way rpcpool.Pool would deliver a real sidecar's response: always
// synchronous here, but invoked through the same onResponse callback shape
// so callers can't tell the difference at the step level.
func (e *FakeExecutor) Send(method string, params any, onResponse rpcpool.ResponseHandler) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return stoerr.OutOfMemoryf("fakeexecutor: marshal params: %v", err)
	}

	var result any
	var callErr error

	switch method {
	case "writefile":
		var req WriteFileRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			callErr = stoerr.InvalidArgumentf("fakeexecutor: writefile params: %v", err)
			break
		}
		result, callErr = e.writefile(req)
	case "readfile":
		var req ReadFileRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			callErr = stoerr.InvalidArgumentf("fakeexecutor: readfile params: %v", err)
			break
		}
		result, callErr = e.readfile(req)
	case "readlink":
		var req ReadlinkRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			callErr = stoerr.InvalidArgumentf("fakeexecutor: readlink params: %v", err)
			break
		}
		result, callErr = e.readlink(req)
	case "readdir":
		var req ReaddirRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			callErr = stoerr.InvalidArgumentf("fakeexecutor: readdir params: %v", err)
			break
		}
		result, callErr = e.readdir(req)
	case "subprocess":
		var req SubprocessRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			callErr = stoerr.InvalidArgumentf("fakeexecutor: subprocess params: %v", err)
			break
		}
		result, callErr = e.subprocess(req)
	default:
		callErr = stoerr.InvalidArgumentf("fakeexecutor: unknown method %q", method)
	}

	if callErr != nil {
		onResponse(nil, callErr)
		return nil
	}

	resultRaw, err := json.Marshal(result)
	if err != nil {
		onResponse(nil, stoerr.OutOfMemoryf("fakeexecutor: marshal result: %v", err))
		return nil
	}
	onResponse(resultRaw, nil)
	return nil
}

func (e *FakeExecutor) writefile(req WriteFileRequest) (WriteFileResponse, error) {
	buf, err := decodeBuf(req.Buf)
	if err != nil {
		return WriteFileResponse{}, err
	}
	if dir := filepath.Dir(req.Filepath); dir != "." {
		_ = e.fs.MkdirAll(dir, 0o755)
	}
	f, err := e.fs.OpenFile(req.Filepath, req.Oflag, 0o644)
	if err != nil {
		return WriteFileResponse{Returncode: -5}, nil
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return WriteFileResponse{Returncode: -5}, nil
	}
	return WriteFileResponse{Returncode: 0}, nil
}

func (e *FakeExecutor) readfile(req ReadFileRequest) (ReadFileResponse, error) {
	size := req.Size
	if size == 0 {
		info, err := e.fs.Stat(req.Filepath)
		if err != nil {
			return ReadFileResponse{Returncode: -2}, nil
		}
		size = uint32(info.Size())
	}

	f, err := e.fs.Open(req.Filepath)
	if err != nil {
		return ReadFileResponse{Returncode: -2}, nil
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return ReadFileResponse{Returncode: -5}, nil
	}
	return ReadFileResponse{Returncode: 0, Buf: encodeBuf(buf[:n])}, nil
}

func (e *FakeExecutor) readlink(req ReadlinkRequest) (ReadlinkResponse, error) {
	linker, ok := e.fs.(afero.LinkReader)
	if !ok {
		return ReadlinkResponse{Returncode: -38}, nil // -ENOSYS
	}
	target, err := linker.ReadlinkIfPossible(req.Filepath)
	if err != nil {
		return ReadlinkResponse{Returncode: -2}, nil
	}
	return ReadlinkResponse{Returncode: 0, Buf: target}, nil
}

func (e *FakeExecutor) readdir(req ReaddirRequest) (ReaddirResponse, error) {
	entries, err := afero.ReadDir(e.fs, req.Dirpath)
	if err != nil {
		return ReaddirResponse{Returncode: -2}, nil
	}

	exclude := make(map[string]bool, len(req.ExcludeList))
	for _, name := range req.ExcludeList {
		exclude[name] = true
	}

	dirents := make([]Dirent, 0, len(entries))
	for _, info := range entries {
		if req.SkipHidden && strings.HasPrefix(info.Name(), ".") {
			continue
		}
		if exclude[info.Name()] {
			continue
		}
		dirents = append(dirents, Dirent{Name: info.Name(), Mode: uint32(info.Mode() & fs.ModePerm)})
	}
	sort.Slice(dirents, func(i, j int) bool { return dirents[i].Name < dirents[j].Name })

	return ReaddirResponse{Returncode: 0, Dirents: dirents}, nil
}

func (e *FakeExecutor) subprocess(req SubprocessRequest) (SubprocessResponse, error) {
	if len(req.Cmd) == 0 {
		return SubprocessResponse{Returncode: -22}, nil
	}
	cmd := exec.Command(req.Cmd[0], req.Cmd[1:]...)
	if req.CaptureOutput {
		out, err := cmd.CombinedOutput()
		rc := 0
		if err != nil {
			rc = -5
		}
		return SubprocessResponse{Returncode: rc, Output: string(out)}, nil
	}
	if err := cmd.Run(); err != nil {
		return SubprocessResponse{Returncode: -5}, nil
	}
	return SubprocessResponse{Returncode: 0}, nil
}

func decodeBuf(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, stoerr.InvalidArgumentf("fakeexecutor: buf is not base64: %v", err)
	}
	return b, nil
}

func encodeBuf(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
