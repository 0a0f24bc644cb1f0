package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Touch creates path if needed and truncates it. Mode is applied only when
// the file is created and is still subject to the process umask.
func Touch(path string, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	return f.Close()
}

// Exists reports whether path names an existing file. Errors other than
// not-exist are returned to the caller.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// WriteAttr writes value into an existing attribute file such as a sysfs
// control node. The file is never created or truncated.
func WriteAttr(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, value); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// StreamFile copies src into an existing file dst without creating or
// truncating it. It returns the number of bytes written.
func StreamFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY, 0)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	written, err := io.Copy(out, in)
	if err != nil {
		return written, err
	}
	return written, out.Close()
}
