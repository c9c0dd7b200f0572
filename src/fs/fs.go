// Package fs simulates the filesystem collaborator spec.md section 1
// declares out of scope ("open/close/read/write/seek/tell/length/create/
// remove/duplicate/deny-write"). A real filesystem (blocks, inodes,
// directories) is its own subsystem; this package supplies only the named
// primitives, in-memory, so the loader (C5) and the open/read/write/close
// syscall handlers (C7) have something concrete to exercise and test
// against. It is new code: the teacher's own fs package implements an
// on-disk block layer (fs/blk.go, fs/super.go) that is out of scope here by
// spec.md's own declaration, so nothing from it is reused — only its
// general shape (a mutex-guarded struct of small, focused methods) carries
// over as house style.
package fs

import (
	"io"
	"sync"

	"userproc/defs"
	"userproc/fdops"
)

type inode struct {
	mu       sync.Mutex
	data     []byte
	denied   int // outstanding deny-write handles
	unlinked bool
}

/// FS is an in-memory filesystem: a flat namespace from path to inode.
type FS struct {
	mu    sync.Mutex
	files map[string]*inode
}

/// New returns an empty filesystem.
func New() *FS {
	return &FS{files: make(map[string]*inode)}
}

/// Create makes an empty file at path. Per spec.md 4.6, size currently
/// only pre-sizes the file; writes may still grow it.
func (f *FS) Create(path string, size int) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; ok {
		return defs.EINVAL
	}
	f.files[path] = &inode{data: make([]byte, size)}
	return 0
}

/// Remove unlinks path from the namespace. Handles already open on path
/// keep working (spec.md scenario S4: "succeeds in directory sense" while
/// a held handle continues to reference the inode) until the last handle
/// closes.
func (f *FS) Remove(path string) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	ino, ok := f.files[path]
	if !ok {
		return defs.ENOENT
	}
	delete(f.files, path)
	ino.mu.Lock()
	ino.unlinked = true
	ino.mu.Unlock()
	return 0
}

/// Open returns a fresh handle onto path's inode, or ENOENT if absent.
func (f *FS) Open(path string) (fdops.File, defs.Err_t) {
	f.mu.Lock()
	ino, ok := f.files[path]
	f.mu.Unlock()
	if !ok {
		return nil, defs.ENOENT
	}
	return &handle{ino: ino}, 0
}

/// handle is one open reference onto an inode; Duplicate shares the same
/// *inode but tracks an independent offset, matching spec.md's "duplicate
/// yields an independent handle sharing the underlying inode".
type handle struct {
	ino *inode
	off int
}

func (h *handle) Read(dst []uint8) (int, defs.Err_t) {
	h.ino.mu.Lock()
	defer h.ino.mu.Unlock()
	if h.off >= len(h.ino.data) {
		return 0, 0
	}
	n := copy(dst, h.ino.data[h.off:])
	h.off += n
	return n, 0
}

func (h *handle) Write(src []uint8) (int, defs.Err_t) {
	h.ino.mu.Lock()
	defer h.ino.mu.Unlock()
	if h.ino.denied > 0 {
		return 0, defs.EINVAL
	}
	need := h.off + len(src)
	if need > len(h.ino.data) {
		grown := make([]byte, need)
		copy(grown, h.ino.data)
		h.ino.data = grown
	}
	n := copy(h.ino.data[h.off:], src)
	h.off += n
	return n, 0
}

func (h *handle) Seek(off int) defs.Err_t {
	if off < 0 {
		return defs.EINVAL
	}
	h.off = off
	return 0
}

func (h *handle) Tell() int { return h.off }

func (h *handle) Filesize() int {
	h.ino.mu.Lock()
	defer h.ino.mu.Unlock()
	return len(h.ino.data)
}

func (h *handle) Close() defs.Err_t { return 0 }

func (h *handle) Duplicate() (fdops.File, defs.Err_t) {
	return &handle{ino: h.ino}, 0
}

func (h *handle) DenyWrite() {
	h.ino.mu.Lock()
	h.ino.denied++
	h.ino.mu.Unlock()
}

func (h *handle) AllowWrite() {
	h.ino.mu.Lock()
	if h.ino.denied > 0 {
		h.ino.denied--
	}
	h.ino.mu.Unlock()
}

// ReaderAt exposes read-only, offset-addressed access to an open handle's
// bytes without disturbing its seek position, so the loader (src/elf) can
// hand it to the standard library's debug/elf decoder.
type ReaderAt struct {
	ino *inode
}

/// AsReaderAt adapts h into an io.ReaderAt-compatible view for ELF
/// decoding, independent of h's own Seek/Tell position.
func AsReaderAt(f fdops.File) *ReaderAt {
	h, ok := f.(*handle)
	if !ok {
		return nil
	}
	return &ReaderAt{ino: h.ino}
}

func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.ino.mu.Lock()
	defer r.ino.mu.Unlock()
	if off < 0 || int(off) >= len(r.ino.data) {
		return 0, io.EOF
	}
	n := copy(p, r.ino.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
