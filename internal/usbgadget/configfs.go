package usbgadget

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// configfs reads and writes gadget nodes relative to the configfs mount.
type configfs struct {
	fs billy.Filesystem
}

func newConfigfs(fs billy.Filesystem) *configfs {
	return &configfs{fs: fs}
}

// OpenFilesystem returns an OS filesystem rooted at root, such as
// /sys/kernel/config.
func OpenFilesystem(root string) billy.Filesystem {
	return osfs.New(root)
}

// available fails unless the usb_gadget directory exists, which requires
// both the configfs mount and libcomposite.
func (c *configfs) available() error {
	fi, err := c.fs.Stat(gadgetRootDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigfsUnavailable, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrConfigfsUnavailable, gadgetRootDir)
	}
	return nil
}

func (c *configfs) exists(p string) bool {
	_, err := c.fs.Lstat(p)
	return err == nil
}

func (c *configfs) isDir(p string) bool {
	fi, err := c.fs.Lstat(p)
	return err == nil && fi.IsDir()
}

// readAttr returns the attribute value without its trailing newline.
func (c *configfs) readAttr(p string) (string, error) {
	f, err := c.fs.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", p, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// writeAttr stores value. An empty value is written as a lone newline since
// configfs never sees zero-length writes.
func (c *configfs) writeAttr(p string, value string) error {
	if value == "" {
		value = "\n"
	}

	f, err := c.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(value)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (c *configfs) mkdir(p string) (Outcome, error) {
	if c.isDir(p) {
		return NotApplicable, nil
	}
	if err := c.fs.MkdirAll(p, 0755); err != nil {
		return Applied, err
	}
	return Applied, nil
}

func (c *configfs) symlink(target, link string) (Outcome, error) {
	if c.exists(link) {
		return NotApplicable, nil
	}
	if err := c.fs.Symlink(target, link); err != nil {
		return Applied, err
	}
	return Applied, nil
}

// remove deletes a single node; a node that is already gone is
// NotApplicable.
func (c *configfs) remove(p string) (Outcome, error) {
	err := c.fs.Remove(p)
	switch {
	case err == nil:
		return Applied, nil
	case isNotExist(err):
		return NotApplicable, nil
	default:
		return Applied, err
	}
}
