package storage

import (
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"
)

// Workspace creates and populates the per-run directory tree beneath a
// configured storage root, via an afero filesystem so admission-controller
// tests can substitute an in-memory one instead of touching disk.
type Workspace struct {
	fs   afero.Fs
	root string
}

// NewWorkspace returns a Workspace rooted at root, using fs for all
// filesystem operations. Pass afero.NewOsFs() in production,
// afero.NewMemMapFs() in tests.
func NewWorkspace(fs afero.Fs, root string) *Workspace {
	return &Workspace{fs: fs, root: root}
}

// CreateRunDir creates the workspace directory for runID beneath root with
// parents=false, exist_ok=false semantics: a pre-existing directory returns
// os.ErrExist (the caller retries with a different runID); a missing root
// returns a FileError with Op "create_run_dir" wrapping
// ErrStoreNotInitialized, for the caller to classify.
func (w *Workspace) CreateRunDir(runID string) (string, error) {
	dir := filepath.Join(w.root, runID)
	if _, err := w.fs.Stat(dir); err == nil {
		return "", NewFileError("create_run_dir", runID, os.ErrExist)
	}
	if _, err := w.fs.Stat(w.root); err != nil {
		return "", NewFileError("create_run_dir", runID, ErrStoreNotInitialized)
	}
	if err := w.fs.Mkdir(dir, 0o755); err != nil {
		return "", NewFileError("create_run_dir", runID, err)
	}
	return dir, nil
}

// RemoveRunDir removes a workspace directory created by CreateRunDir, used
// to roll back a duplicate-key collision during admission (§4.3 step 4).
func (w *Workspace) RemoveRunDir(dir string) error {
	return w.fs.Remove(dir)
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SecureFilename sanitizes name for safe use as a path component beneath a
// workspace directory: strips any directory components, collapses unsafe
// characters, and falls back to fallback when nothing safe remains.
func SecureFilename(name, fallback string) string {
	base := filepath.Base(name)
	secured := unsafeFilenameChars.ReplaceAllString(base, "_")
	secured = regexp.MustCompile(`^[._]+`).ReplaceAllString(secured, "")
	if secured == "" || secured == "." || secured == ".." {
		return fallback
	}
	return secured
}

// SaveAttachment streams src to filename beneath dir without buffering the
// whole upload in memory (§9 "attachment streaming"), returning the
// destination path and byte count written.
func (w *Workspace) SaveAttachment(dir, filename string, src io.Reader) (path string, n int64, err error) {
	path = filepath.Join(dir, filename)
	dst, err := w.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, NewFileError("save_attachment", filename, err)
	}
	defer dst.Close()

	n, err = io.Copy(dst, src)
	if err != nil {
		return "", 0, NewFileError("save_attachment", filename, err)
	}
	return path, n, nil
}
