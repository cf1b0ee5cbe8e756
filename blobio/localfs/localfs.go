// Package localfs implements blobio.Backend over the local filesystem,
// grounded on the teacher's storage/s3aws.go MinioGetObject pattern of
// os.MkdirAll-then-stream for directory creation and atomic-enough local
// writes, adapted into the full Backend contract.
package localfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"hygge.dev/ferrors"
)

// Backend is a blobio.Backend rooted at the local filesystem; paths are
// relative to the process's working directory unless absolute.
type Backend struct{}

// New returns a local filesystem Backend.
func New() *Backend { return &Backend{} }

func (b *Backend) Upload(ctx context.Context, path string, data []byte) error {
	if err := b.EnsureParents(ctx, path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return ferrors.NewSinkError("writing local file "+path, err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, ferrors.NewSourceError("reading local file "+path, err)
	}
	return data, true, nil
}

// Move renames src to dst, falling back to copy-then-delete when the
// rename fails (e.g. src and dst sit on different filesystems/devices,
// where os.Rename cannot succeed atomically).
func (b *Backend) Move(ctx context.Context, src, dst string) error {
	if err := b.EnsureParents(ctx, dst); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return b.copyThenDelete(src, dst)
}

func (b *Backend) copyThenDelete(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return ferrors.NewSinkError("opening "+src+" for cross-device move", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return ferrors.NewSinkError("creating "+dst+" for cross-device move", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return ferrors.NewSinkError("copying "+src+" to "+dst, err)
	}
	if err := out.Close(); err != nil {
		return ferrors.NewSinkError("closing "+dst, err)
	}
	if err := os.Remove(src); err != nil {
		return ferrors.NewSinkError("removing "+src+" after cross-device move", err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ferrors.NewSinkError("deleting "+path, err)
	}
	return nil
}

func (b *Backend) DeleteDirectory(ctx context.Context, path string, recursive bool) error {
	if !recursive {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return ferrors.NewSinkError("deleting directory "+path, err)
		}
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return ferrors.NewSinkError("deleting directory tree "+path, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, ferrors.NewSourceError("checking existence of "+path, err)
}

func (b *Backend) EnsureParents(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "/" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ferrors.NewSinkError("creating parent directories for "+path, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(prefix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ferrors.NewSourceError("listing directory "+prefix, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type()&fs.ModeDir != 0 {
			continue
		}
		out = append(out, filepath.Join(prefix, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
