// Package executor defines the wire contract to the sidecar process that
// performs blocking POSIX work (file I/O, directory scans, subprocess
// launches) on the control plane's behalf, plus a FakeExecutor that answers
// the same contract in-memory (backed by afero.Fs) for tests and for
// development without a real sidecar.
package executor

// WriteFileRequest is the "writefile" outbound method's params (spec.md §6).
type WriteFileRequest struct {
	Filepath string `json:"filepath"`
	Oflag    int    `json:"oflag"`
	Buf      string `json:"buf"`
}

// WriteFileResponse is the "writefile" outbound method's result.
type WriteFileResponse struct {
	Returncode int `json:"returncode"`
}

// ReadFileRequest is the "readfile" outbound method's params. Size == 0
// means "stat the file first and read it whole" (spec.md §6).
type ReadFileRequest struct {
	Filepath string `json:"filepath"`
	Size     uint32 `json:"size"`
}

// ReadFileResponse is the "readfile" outbound method's result.
type ReadFileResponse struct {
	Returncode int    `json:"returncode"`
	Buf        string `json:"buf"`
}

// ReadlinkRequest is the "readlink" outbound method's params.
type ReadlinkRequest struct {
	Filepath string `json:"filepath"`
}

// ReadlinkResponse is the "readlink" outbound method's result.
type ReadlinkResponse struct {
	Returncode int    `json:"returncode"`
	Buf        string `json:"buf"`
}

// ReaddirRequest is the "readdir" outbound method's params. ExcludeList is
// a supplemented field (original_source/control/src/lib/sto_req.c's
// sto_dirents_json_cfg.exclude_list) absent from spec.md's distilled table;
// entries named here are filtered out in addition to SkipHidden.
type ReaddirRequest struct {
	Dirpath     string   `json:"dirpath"`
	SkipHidden  bool     `json:"skip_hidden"`
	ExcludeList []string `json:"exclude_list,omitempty"`
}

// Dirent is one entry of a ReaddirResponse.
type Dirent struct {
	Name string `json:"name"`
	Mode uint32 `json:"mode"`
}

// ReaddirResponse is the "readdir" outbound method's result.
type ReaddirResponse struct {
	Returncode int      `json:"returncode"`
	Dirents    []Dirent `json:"dirents"`
}

// SubprocessRequest is the "subprocess" outbound method's params.
type SubprocessRequest struct {
	Cmd            []string `json:"cmd"`
	CaptureOutput  bool     `json:"capture_output"`
}

// SubprocessResponse is the "subprocess" outbound method's result. Output is
// only populated when CaptureOutput was set.
type SubprocessResponse struct {
	Returncode int    `json:"returncode"`
	Output     string `json:"output,omitempty"`
}
