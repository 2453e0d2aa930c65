package host

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

// MaxMemBytes caps the total payload a MemFS will hold.
const MaxMemBytes = 16 << 20

// validName is the regex for sanitizing MemFS paths.
var validName = regexp.MustCompile(`^[a-zA-Z0-9._/\-]{1,128}$`)

var (
	ErrFileNotFound  = errors.New("file not found")
	ErrInvalidName   = errors.New("invalid file name")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrBadFD         = errors.New("bad file descriptor")
)

type memHandle struct {
	name string
	off  int
}

// MemFS is an in-memory file service for the machine's open, read and
// close syscalls. Tests and embedders populate it with Write or
// LoadFrom; the guest only ever reads. Descriptors start at 3 and each
// carries its own cursor, so the same file can be open more than once.
type MemFS struct {
	mu      sync.RWMutex
	files   map[string][]byte
	used    int
	handles map[int]*memHandle
	nextFD  int
}

func NewMemFS() *MemFS {
	return &MemFS{
		files:   make(map[string][]byte),
		handles: make(map[int]*memHandle),
		nextFD:  3,
	}
}

// Write stores a file, replacing any previous content. The data is
// copied, so the caller's slice stays its own.
func (fs *MemFS) Write(name string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !validName.MatchString(name) {
		return ErrInvalidName
	}
	oldSize := len(fs.files[name])
	if fs.used-oldSize+len(data) > MaxMemBytes {
		return ErrQuotaExceeded
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	fs.files[name] = cp
	fs.used = fs.used - oldSize + len(data)
	return nil
}

// Remove deletes a file. Descriptors resolve their file on every read,
// so reads through an already open descriptor fail after Remove.
func (fs *MemFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.files[name]; !ok {
		return ErrFileNotFound
	}
	fs.used -= len(fs.files[name])
	delete(fs.files, name)
	return nil
}

// List returns the stored names in sorted order.
func (fs *MemFS) List() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	names := make([]string, 0, len(fs.files))
	for name := range fs.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFrom populates the MemFS from the regular files directly under
// dir. Files whose names do not sanitize are skipped. A missing
// directory is not an error.
func (fs *MemFS) LoadFrom(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !validName.MatchString(name) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if err := fs.Write(name, raw); err != nil {
			return err
		}
	}
	return nil
}

// Open implements the machine's file service.
func (fs *MemFS) Open(path string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !validName.MatchString(path) {
		return 0, ErrInvalidName
	}
	if _, ok := fs.files[path]; !ok {
		return 0, ErrFileNotFound
	}
	fd := fs.nextFD
	fs.nextFD++
	fs.handles[fd] = &memHandle{name: path}
	return fd, nil
}

// Read implements the machine's file service. It returns 0 at end of
// file, matching what the guest's read() contract expects.
func (fs *MemFS) Read(fd int, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, ok := fs.handles[fd]
	if !ok {
		return 0, ErrBadFD
	}
	data, ok := fs.files[h.name]
	if !ok {
		return 0, ErrFileNotFound
	}
	if h.off >= len(data) {
		return 0, nil
	}
	n := copy(p, data[h.off:])
	h.off += n
	return n, nil
}

// Close implements the machine's file service.
func (fs *MemFS) Close(fd int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.handles[fd]; !ok {
		return ErrBadFD
	}
	delete(fs.handles, fd)
	return nil
}
