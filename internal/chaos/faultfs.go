package chaos

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"consolemart/internal/filestore"
)

// ErrInjected is returned by operations a Fault fails without its own error.
var ErrInjected = errors.New("chaos: injected fault")

// Op names a filesystem call that can be failed.
type Op string

const (
	OpOpen       Op = "open"
	OpOpenFile   Op = "openfile"
	OpCreateTemp Op = "create-temp"
	OpWrite      Op = "write"
	OpSync       Op = "sync"
	OpClose      Op = "close"
	OpRename     Op = "rename"
	OpRemove     Op = "remove"
	OpTruncate   Op = "truncate"
)

// Fault fails Op on paths accepted by Match. For rename the destination is
// matched; for create-temp the directory joined with the pattern. The first
// After matching calls go through.
type Fault struct {
	Op    Op
	Match func(path string) bool
	Err   error
	After int
}

// Path matches one exact path.
func Path(p string) func(string) bool {
	p = filepath.Clean(p)
	return func(name string) bool { return filepath.Clean(name) == p }
}

// TempOf matches the scratch files a rewrite of p creates.
func TempOf(p string) func(string) bool {
	prefix := filepath.Clean(p) + strings.TrimSuffix(filestore.TempPattern, "*")
	return func(name string) bool { return strings.HasPrefix(filepath.Clean(name), prefix) }
}

type armed struct {
	Fault
	seen int
}

// FaultFS wraps a filestore.FS and fails the calls its faults select.
type FaultFS struct {
	base filestore.FS

	mu       sync.Mutex
	faults   []*armed
	injected int
}

var _ filestore.FS = (*FaultFS)(nil)

func NewFaultFS(base filestore.FS) *FaultFS {
	if base == nil {
		base = filestore.OSFS{}
	}
	return &FaultFS{base: base}
}

// Inject arms a fault until Clear is called.
func (f *FaultFS) Inject(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &armed{Fault: fault})
}

// Clear disarms every fault. The injected count is kept.
func (f *FaultFS) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = nil
}

// Injected reports how many calls have been failed so far.
func (f *FaultFS) Injected() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.injected
}

func (f *FaultFS) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.faults {
		if a.Op != op || (a.Match != nil && !a.Match(path)) {
			continue
		}
		a.seen++
		if a.seen <= a.After {
			continue
		}
		f.injected++
		err := a.Err
		if err == nil {
			err = ErrInjected
		}
		return &fs.PathError{Op: string(op), Path: path, Err: err}
	}
	return nil
}

func (f *FaultFS) Open(name string) (filestore.File, error) {
	if err := f.check(OpOpen, name); err != nil {
		return nil, err
	}
	file, err := f.base.Open(name)
	if err != nil {
		return nil, err
	}
	return &faultFile{File: file, fs: f}, nil
}

func (f *FaultFS) OpenFile(name string, flag int, perm fs.FileMode) (filestore.File, error) {
	if err := f.check(OpOpenFile, name); err != nil {
		return nil, err
	}
	file, err := f.base.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultFile{File: file, fs: f}, nil
}

func (f *FaultFS) CreateTemp(dir, pattern string) (filestore.File, error) {
	if err := f.check(OpCreateTemp, filepath.Join(dir, pattern)); err != nil {
		return nil, err
	}
	file, err := f.base.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &faultFile{File: file, fs: f}, nil
}

func (f *FaultFS) Rename(oldpath, newpath string) error {
	if err := f.check(OpRename, newpath); err != nil {
		return err
	}
	return f.base.Rename(oldpath, newpath)
}

func (f *FaultFS) Remove(name string) error {
	if err := f.check(OpRemove, name); err != nil {
		return err
	}
	return f.base.Remove(name)
}

func (f *FaultFS) Truncate(name string, size int64) error {
	if err := f.check(OpTruncate, name); err != nil {
		return err
	}
	return f.base.Truncate(name, size)
}

type faultFile struct {
	filestore.File
	fs *FaultFS
}

func (ff *faultFile) Write(p []byte) (int, error) {
	if err := ff.fs.check(OpWrite, ff.Name()); err != nil {
		return 0, err
	}
	return ff.File.Write(p)
}

func (ff *faultFile) Sync() error {
	if err := ff.fs.check(OpSync, ff.Name()); err != nil {
		return err
	}
	return ff.File.Sync()
}

// Close always releases the underlying handle, even when failing.
func (ff *faultFile) Close() error {
	err := ff.File.Close()
	if ferr := ff.fs.check(OpClose, ff.Name()); ferr != nil {
		return ferr
	}
	return err
}
