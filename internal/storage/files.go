package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Files handles input resolution and result bookkeeping: incoming media
// lands in the inbox, finished results move to the media dir. MinFree
// is the free-byte floor under which new submissions are refused.
type Files struct {
	InboxDir string
	MediaDir string
	MinFree  int64
}

func NewFiles(inboxDir, mediaDir string, minFree int64) (*Files, error) {
	for _, dir := range []string{inboxDir, mediaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return &Files{InboxDir: inboxDir, MediaDir: mediaDir, MinFree: minFree}, nil
}

// CheckCapacity reports an error when the media dir's filesystem has
// less than MinFree bytes available. A zero floor disables the guard.
func (f *Files) CheckCapacity() error {
	if f.MinFree <= 0 {
		return nil
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(f.MediaDir, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", f.MediaDir, err)
	}
	free := int64(st.Bavail) * st.Bsize
	if free < f.MinFree {
		return fmt.Errorf("low disk space: %d bytes free, need %d", free, f.MinFree)
	}
	return nil
}

// ResolveInput maps a task's input reference to a local path. Absolute
// or relative paths that exist pass through; bare names resolve under
// the inbox dir.
func (f *Files) ResolveInput(_ context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty input reference")
	}
	if strings.ContainsAny(ref, "/\\") || strings.HasPrefix(ref, ".") {
		if _, err := os.Stat(ref); err != nil {
			return "", fmt.Errorf("input %s: %w", ref, err)
		}
		return ref, nil
	}
	path := filepath.Join(f.InboxDir, ref)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("input %s not found in inbox: %w", ref, err)
	}
	return path, nil
}

// FinalizeResult moves a tool's output into the media dir under a
// stable processed_ name and returns the new path.
func (f *Files) FinalizeResult(_ context.Context, taskID, path string) (string, error) {
	name := fmt.Sprintf("processed_%s_%s%s", taskID, time.Now().UTC().Format("20060102_150405"), filepath.Ext(path))
	dest := filepath.Join(f.MediaDir, name)
	if err := moveFile(path, dest); err != nil {
		return "", fmt.Errorf("move result: %w", err)
	}
	return dest, nil
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
