package host

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrOutsideRoot = errors.New("path escapes the root directory")

// OSFS serves guest file syscalls from the host filesystem. With a
// non-empty root, every guest path is resolved inside it and attempts
// to climb out are refused; with an empty root, paths are taken as the
// process would see them.
type OSFS struct {
	root string

	mu     sync.Mutex
	files  map[int]*os.File
	nextFD int
}

func NewOSFS(root string) *OSFS {
	return &OSFS{
		root:   root,
		files:  make(map[int]*os.File),
		nextFD: 3,
	}
}

func (fs *OSFS) resolve(path string) (string, error) {
	if fs.root == "" {
		return path, nil
	}
	full := filepath.Join(fs.root, filepath.Clean("/"+path))
	rel, err := filepath.Rel(fs.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return full, nil
}

// Open implements the machine's file service.
func (fs *OSFS) Open(path string) (int, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		return 0, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fd := fs.nextFD
	fs.nextFD++
	fs.files[fd] = f
	return fd, nil
}

// Read implements the machine's file service. End of file reads as 0
// bytes, not as an error.
func (fs *OSFS) Read(fd int, p []byte) (int, error) {
	fs.mu.Lock()
	f, ok := fs.files[fd]
	fs.mu.Unlock()
	if !ok {
		return 0, ErrBadFD
	}
	n, err := f.Read(p)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

// Close implements the machine's file service.
func (fs *OSFS) Close(fd int) error {
	fs.mu.Lock()
	f, ok := fs.files[fd]
	delete(fs.files, fd)
	fs.mu.Unlock()
	if !ok {
		return ErrBadFD
	}
	return f.Close()
}
