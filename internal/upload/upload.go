package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"loja/backend/internal/store"
)

// MaxSize caps a single photo upload.
const MaxSize = 8 << 20

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// LocalStorage keeps uploaded photos in one directory and hands out file names as references.
type LocalStorage struct {
	dir string
	now func() time.Time
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStorage{dir: dir, now: time.Now}, nil
}

// Save copies r to a new file and returns its reference: "<unix-nanos>_<sanitized name>".
func (l *LocalStorage) Save(name string, r io.Reader) (string, error) {
	clean := Sanitize(name)
	if clean == "" {
		return "", store.Invalid("file name is required")
	}
	if !allowedExtensions[strings.ToLower(filepath.Ext(clean))] {
		return "", store.Invalid("unsupported photo type %q", filepath.Ext(clean))
	}

	ref := fmt.Sprintf("%d_%s", l.now().UnixNano(), clean)
	f, err := os.OpenFile(filepath.Join(l.dir, ref), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	written, err := io.Copy(f, io.LimitReader(r, MaxSize+1))
	closeErr := f.Close()
	if err == nil && written > MaxSize {
		err = store.Invalid("photo is larger than %d bytes", MaxSize)
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(filepath.Join(l.dir, ref))
		return "", err
	}
	return ref, nil
}

// Open returns the stored file for a reference produced by Save.
func (l *LocalStorage) Open(ref string) (*os.File, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return nil, store.ErrNotFound
	}
	f, err := os.Open(filepath.Join(l.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	return f, err
}

// Remove deletes a stored file. Missing files are ignored.
func (l *LocalStorage) Remove(ref string) error {
	if ref == "" || ref != filepath.Base(ref) {
		return nil
	}
	err := os.Remove(filepath.Join(l.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Sanitize reduces an uploaded file name to letters, digits, dot, dash and underscore.
func Sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
