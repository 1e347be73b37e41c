// Package flash writes firmware images to persistent storage and verifies
// them against an MD5 digest before committing.
package flash

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/autopeer-io/sensornode/pkg/log"
)

const partialSuffix = ".part"

var (
	ErrBadSize      = errors.New("Bad Size Given")
	ErrNotStarted   = errors.New("No Update In Progress")
	ErrInProgress   = errors.New("Update Already Started")
	ErrMD5Mismatch  = errors.New("MD5 Check Failed")
	ErrIncomplete   = errors.New("Image Incomplete")
	ErrBadMD5Format = errors.New("Bad MD5 Given")
)

// Flasher stages an image in <dir>/<name>.part and renames it to
// <dir>/<name> once the digest matches. Not safe for concurrent use.
type Flasher struct {
	fs   afero.Fs
	dir  string
	name string

	expected string
	file     afero.File
	digest   hash.Hash
	size     uint64
	written  uint64
	active   bool
}

func New(fs afero.Fs, dir, name string) *Flasher {
	return &Flasher{fs: fs, dir: dir, name: name}
}

// NewOS returns a Flasher on the real filesystem.
func NewOS(dir, name string) *Flasher {
	return New(afero.NewOsFs(), dir, name)
}

func (f *Flasher) ImagePath() string {
	return filepath.Join(f.dir, f.name)
}

func (f *Flasher) partialPath() string {
	return f.ImagePath() + partialSuffix
}

// SetExpectedHash records the hex MD5 digest the image must match.
// An empty hash disables verification.
func (f *Flasher) SetExpectedHash(md5Hex string) {
	f.expected = strings.ToLower(strings.TrimSpace(md5Hex))
}

// Begin opens a write session for an image of size bytes.
func (f *Flasher) Begin(size uint64) error {
	if f.active {
		return ErrInProgress
	}
	if size == 0 {
		return ErrBadSize
	}
	if f.expected != "" {
		if _, err := hex.DecodeString(f.expected); err != nil || len(f.expected) != md5.Size*2 {
			return ErrBadMD5Format
		}
	}

	if err := f.fs.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create firmware dir: %w", err)
	}
	file, err := f.fs.OpenFile(f.partialPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}

	f.file = file
	f.digest = md5.New()
	f.size = size
	f.written = 0
	f.active = true

	log.Info("Flash write session started", "path", f.partialPath(), "size", size)
	return nil
}

// Write appends p to the staged image. Bytes past the announced size are
// accepted.
func (f *Flasher) Write(p []byte) (int, error) {
	if !f.active {
		return 0, ErrNotStarted
	}
	n, err := f.file.Write(p)
	f.digest.Write(p[:n])
	f.written += uint64(n)
	if err != nil {
		return n, fmt.Errorf("write staging file: %w", err)
	}
	return n, nil
}

func (f *Flasher) BytesWritten() uint64 {
	return f.written
}

func (f *Flasher) IsComplete() bool {
	return f.active && f.written >= f.size
}

// Finalize verifies the digest and commits the image. On any failure the
// staged file is removed and the session is closed.
func (f *Flasher) Finalize() error {
	if !f.active {
		return ErrNotStarted
	}
	defer f.reset()

	if err := f.file.Close(); err != nil {
		_ = f.fs.Remove(f.partialPath())
		return fmt.Errorf("close staging file: %w", err)
	}
	f.file = nil

	if f.written < f.size {
		_ = f.fs.Remove(f.partialPath())
		return ErrIncomplete
	}

	if f.expected != "" {
		sum := hex.EncodeToString(f.digest.Sum(nil))
		if sum != f.expected {
			_ = f.fs.Remove(f.partialPath())
			log.Warn("Firmware digest mismatch", "expected", f.expected, "actual", sum)
			return ErrMD5Mismatch
		}
	}

	if err := f.fs.Rename(f.partialPath(), f.ImagePath()); err != nil {
		_ = f.fs.Remove(f.partialPath())
		return fmt.Errorf("commit image: %w", err)
	}

	log.Info("Firmware image committed", "path", f.ImagePath(), "bytes", f.written)
	return nil
}

// Abort discards a partially written image. It is a no-op without a session.
func (f *Flasher) Abort() {
	if !f.active {
		return
	}
	if f.file != nil {
		_ = f.file.Close()
	}
	if err := f.fs.Remove(f.partialPath()); err != nil {
		log.Warn("Failed to remove staged image", "path", f.partialPath(), "err", err)
	}
	log.Info("Flash write session aborted", "written", f.written, "size", f.size)
	f.reset()
}

func (f *Flasher) reset() {
	f.file = nil
	f.digest = nil
	f.size = 0
	f.written = 0
	f.active = false
}
