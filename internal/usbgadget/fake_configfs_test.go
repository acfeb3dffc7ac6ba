package usbgadget

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// directories the kernel creates inside gadgets and functions; rmdir on the
// parent takes them along
var kernelDefaultGroups = map[string]bool{
	"configs":   true,
	"functions": true,
	"strings":   true,
	"os_desc":   true,
	"webusb":    true,
	lunName:     true,
}

// fakeConfigfs is a memfs that records every mutation and mimics the
// configfs behaviours the controller relies on: LUN attributes refuse
// writes while the gadget is bound, and a directory can only be removed
// once it has no links or user-created subdirectories left.
type fakeConfigfs struct {
	billy.Filesystem

	ops []string

	// removeBusy fails Remove of a path with EBUSY this many times
	removeBusy map[string]int
	// writeErr fails writes to a path, or to "path=value", with the given errno
	writeErr map[string]error
	// writeStore makes the next accepted write of "path=value" store another
	// value instead, the way the kernel reports a different state than requested
	writeStore map[string]string
}

func newFakeConfigfs(t *testing.T) *fakeConfigfs {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll(gadgetRootDir, 0755))
	return &fakeConfigfs{
		Filesystem: fs,
		removeBusy: map[string]int{},
		writeErr:   map[string]error{},
		writeStore: map[string]string{},
	}
}

func (f *fakeConfigfs) record(format string, args ...interface{}) {
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
}

// index returns the position of the first op equal to op, or -1.
func (f *fakeConfigfs) index(op string) int {
	for i, o := range f.ops {
		if o == op {
			return i
		}
	}
	return -1
}

func (f *fakeConfigfs) lastIndex(op string) int {
	for i := len(f.ops) - 1; i >= 0; i-- {
		if f.ops[i] == op {
			return i
		}
	}
	return -1
}

func (f *fakeConfigfs) writes() []string {
	var w []string
	for _, o := range f.ops {
		if strings.HasPrefix(o, "write ") {
			w = append(w, o)
		}
	}
	return w
}

func (f *fakeConfigfs) read(p string) string {
	file, err := f.Filesystem.Open(p)
	if err != nil {
		return ""
	}
	defer file.Close()
	b, _ := io.ReadAll(file)
	return strings.TrimSpace(string(b))
}

func (f *fakeConfigfs) exists(p string) bool {
	_, err := f.Filesystem.Lstat(p)
	return err == nil
}

// seed writes attributes directly, without recording.
func (f *fakeConfigfs) seed(t *testing.T, attrs map[string]string) {
	t.Helper()
	for p, v := range attrs {
		require.NoError(t, util.WriteFile(f.Filesystem, p, []byte(v+"\n"), 0644))
	}
}

func (f *fakeConfigfs) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return f.Filesystem.OpenFile(filename, flag, perm)
	}

	// truncation is deferred to an accepted write, a rejected store leaves
	// the attribute as it was
	file, err := f.Filesystem.OpenFile(filename, flag&^os.O_TRUNC, perm)
	if err != nil {
		return nil, err
	}
	return &fakeFile{File: file, fs: f, path: filename}, nil
}

func (f *fakeConfigfs) MkdirAll(filename string, perm os.FileMode) error {
	f.record("mkdir %s", filename)
	return f.Filesystem.MkdirAll(filename, perm)
}

func (f *fakeConfigfs) Symlink(target, link string) error {
	f.record("symlink %s -> %s", link, target)
	return f.Filesystem.Symlink(target, link)
}

func (f *fakeConfigfs) Remove(filename string) error {
	if n := f.removeBusy[filename]; n > 0 {
		f.removeBusy[filename] = n - 1
		f.record("remove %s: busy", filename)
		return &os.PathError{Op: "remove", Path: filename, Err: unix.EBUSY}
	}

	fi, err := f.Filesystem.Lstat(filename)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		if blocker := f.liveChild(filename); blocker != "" {
			f.record("remove %s: not empty", filename)
			return &os.PathError{Op: "remove", Path: filename, Err: unix.ENOTEMPTY}
		}
		f.record("remove %s", filename)
		return util.RemoveAll(f.Filesystem, filename)
	}

	f.record("remove %s", filename)
	return f.Filesystem.Remove(filename)
}

// liveChild returns the first link or user-created directory below dir.
func (f *fakeConfigfs) liveChild(dir string) string {
	entries, err := f.Filesystem.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		p := path.Join(dir, e.Name())
		fi, err := f.Filesystem.Lstat(p)
		if err != nil {
			continue
		}
		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			return p
		case fi.IsDir() && !kernelDefaultGroups[e.Name()]:
			return p
		case fi.IsDir():
			if blocker := f.liveChild(p); blocker != "" {
				return blocker
			}
		}
	}
	return ""
}

// snapshot maps every node below usb_gadget to its content or link target.
func (f *fakeConfigfs) snapshot(t *testing.T) map[string]string {
	t.Helper()
	out := map[string]string{}

	var walk func(dir string)
	walk = func(dir string) {
		entries, err := f.Filesystem.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			p := path.Join(dir, e.Name())
			fi, err := f.Filesystem.Lstat(p)
			require.NoError(t, err)
			switch {
			case fi.Mode()&os.ModeSymlink != 0:
				target, err := f.Filesystem.Readlink(p)
				require.NoError(t, err)
				out[p] = "-> " + target
			case fi.IsDir():
				out[p+"/"] = ""
				walk(p)
			default:
				out[p] = f.read(p)
			}
		}
	}
	walk(gadgetRootDir)
	return out
}

// checkWrite applies the kernel's refusals for LUN attributes: nothing
// while the gadget is bound, and no ro change while a file is attached.
func (f *fakeConfigfs) checkWrite(p, value string) error {
	if err := f.writeErr[p]; err != nil {
		return err
	}
	if err := f.writeErr[p+"="+value]; err != nil {
		return err
	}

	parts := strings.Split(p, "/")
	if len(parts) < 2 || !strings.Contains(p, "/"+lunName+"/") {
		return nil
	}
	gadget := parts[1]

	if f.read(gadgetPath(gadget, udcAttr...)) != "" {
		return unix.EBUSY
	}
	if strings.HasSuffix(p, "/ro") && f.read(gadgetPath(gadget, lunFileAttr...)) != "" {
		return unix.EBUSY
	}
	return nil
}

type fakeFile struct {
	billy.File
	fs   *fakeConfigfs
	path string
}

func (f *fakeFile) Write(p []byte) (int, error) {
	value := strings.TrimSpace(string(p))
	if err := f.fs.checkWrite(f.path, value); err != nil {
		f.fs.record("write %s: %v", f.path, err)
		return 0, &os.PathError{Op: "write", Path: f.path, Err: err}
	}
	f.fs.record("write %s=%s", f.path, value)
	if err := f.File.Truncate(0); err != nil {
		return 0, err
	}
	if stored, ok := f.fs.writeStore[f.path+"="+value]; ok {
		delete(f.fs.writeStore, f.path+"="+value)
		if _, err := f.File.Write([]byte(stored + "\n")); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return f.File.Write(p)
}
