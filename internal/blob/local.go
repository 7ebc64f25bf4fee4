package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrTooLarge reports a write that exceeded the declared maximum.
var ErrTooLarge = errors.New("blob exceeds maximum size")

// Store stages submitted files. Paths are the opaque storage locations
// recorded on sessions and jobs.
type Store interface {
	Save(ctx context.Context, path string, r io.Reader, max int64) (int64, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Local keeps blobs on a local disk under root. The interface keeps an
// object store swappable behind it.
type Local struct{ root string }

func NewLocal(root string) *Local { return &Local{root} }

func (l *Local) abs(path string) string {
	return filepath.Join(l.root, filepath.Clean("/"+path))
}

func (l *Local) Save(_ context.Context, path string, r io.Reader, max int64) (int64, error) {
	dst := l.abs(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, errors.Wrap(err, "create blob dir")
	}
	f, err := os.Create(dst)
	if err != nil {
		return 0, errors.Wrap(err, "create blob")
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, max+1))
	if err != nil {
		os.Remove(dst)
		return 0, errors.Wrap(err, "write blob")
	}
	if n > max {
		os.Remove(dst)
		return 0, ErrTooLarge
	}
	return n, nil
}

func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(l.abs(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "stat blob")
}
