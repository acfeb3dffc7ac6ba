package usbgadget

import (
	"testing"

	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSwitchToExportMode(t *testing.T) {
	assert := assert.New(t)
	e := newTestEnv(t)
	e.seedL4t(t)
	e.fs.seed(t, map[string]string{gadgetPath("l4t", udcAttr...): testUdc})

	require.NoError(t, e.c.SwitchToExportMode())

	assert.Equal(testUdc, e.udcOf("g1"))
	assert.Equal("", e.udcOf("l4t"))
	assert.Equal(testImage, e.fs.read(gadgetPath("g1", lunFileAttr...)))
	assert.Equal("0", e.fs.read(gadgetPath("g1", lunRoAttr...)))

	devUnbind := e.fs.index("write " + gadgetPath("l4t", udcAttr...) + "=")
	exportBind := e.fs.index("write " + gadgetPath("g1", udcAttr...) + "=" + testUdc)
	assert.NotEqual(-1, devUnbind)
	assert.Less(devUnbind, exportBind, "the UDC is released before it is rebound")

	udc, err := e.c.Udc()
	require.NoError(t, err)
	assert.Equal("g1", udc.Holder())
}

func TestSwitchToExportModeIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	e.seedL4t(t)
	require.NoError(t, e.c.SwitchToExportMode())
	require.NoError(t, e.c.SwitchToExportMode())

	report := e.c.Status()
	assert.Equal(t, ModeExport, report.Mode)
	assert.Equal(t, testImage, report.Gadget("g1").Lun.File)
}

func TestSwitchToExportModeMissingImage(t *testing.T) {
	e := newTestEnv(t)
	e.seedL4t(t)
	e.fs.seed(t, map[string]string{gadgetPath("l4t", udcAttr...): testUdc})
	require.NoError(t, e.host.Remove(testImage))

	err := e.c.SwitchToExportMode()
	assert.ErrorIs(t, err, ErrBackingFileNotFound)
	assert.Empty(t, e.fs.ops, "nothing is touched before the image is found")
	assert.Equal(t, testUdc, e.udcOf("l4t"))
}

func TestSwitchToDevMode(t *testing.T) {
	assert := assert.New(t)
	e := newTestEnv(t)
	e.seedL4t(t)
	require.NoError(t, e.c.SwitchToExportMode())

	require.NoError(t, e.c.SwitchToDevMode())

	assert.Equal("", e.udcOf("g1"))
	assert.Equal(testUdc, e.udcOf("l4t"))

	exportUnbind := e.fs.lastIndex("write " + gadgetPath("g1", udcAttr...) + "=")
	devBind := e.fs.index("write " + gadgetPath("l4t", udcAttr...) + "=" + testUdc)
	assert.Less(exportUnbind, devBind)

	// the vendor gadget is never rewritten
	for _, w := range e.fs.writes() {
		if w == "write "+gadgetPath("l4t", udcAttr...)+"="+testUdc {
			continue
		}
		assert.NotContains(w, gadgetPath("l4t"))
	}

	report := e.c.Status()
	assert.Equal(ModeDev, report.Mode)
}

func TestSwitchToDevModeWithoutDevGadget(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.c.SwitchToExportMode())

	err := e.c.SwitchToDevMode()
	assert.ErrorIs(t, err, ErrMissingDependency)
	assert.Equal(t, "", e.udcOf("g1"), "export gadget stays unbound")
	assert.Equal(t, -1, e.fs.index("write "+gadgetPath("l4t", udcAttr...)+"="+testUdc))
	assert.Equal(t, ModeUnbound, e.c.Status().Mode)
}

func TestModesAreMutuallyExclusive(t *testing.T) {
	e := newTestEnv(t)
	e.seedL4t(t)

	for _, step := range []func() error{
		e.c.SwitchToExportMode,
		e.c.SwitchToDevMode,
		e.c.SwitchToExportMode,
		e.c.SwitchToDevMode,
	} {
		require.NoError(t, step())
		report := e.c.Status()
		assert.NotEqual(t, ModeConflict, report.Mode)
		assert.False(t, report.Gadgets[0].Bound() && report.Gadgets[1].Bound())
	}
}

func TestSetBackingFileOrdering(t *testing.T) {
	assert := assert.New(t)
	e := newTestEnv(t)
	require.NoError(t, e.c.SwitchToExportMode())

	next := "/mnt/teslacam/usb_image/next.img"
	require.NoError(t, util.WriteFile(e.host, next, []byte("FAT32"), 0644))

	def := e.c.ExportGadget()
	udc, err := e.c.Udc()
	require.NoError(t, err)
	require.NoError(t, e.c.SetBackingFile(def, next, true))
	require.NoError(t, e.c.Bind(def, udc))

	unbind := e.fs.lastIndex("write " + gadgetPath("g1", udcAttr...) + "=")
	detach := e.fs.lastIndex("write " + gadgetPath("g1", lunFileAttr...) + "=")
	ro := e.fs.index("write " + gadgetPath("g1", lunRoAttr...) + "=1")
	file := e.fs.index("write " + gadgetPath("g1", lunFileAttr...) + "=" + next)
	rebind := e.fs.lastIndex("write " + gadgetPath("g1", udcAttr...) + "=" + testUdc)

	assert.Less(unbind, detach)
	assert.Less(detach, ro)
	assert.Less(ro, file)
	assert.Less(file, rebind)

	lun := e.c.Status().Gadget("g1").Lun
	assert.Equal(next, lun.File)
	assert.True(lun.ReadOnly)
}

func TestSetBackingFileMissing(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.c.Create(e.c.ExportGadget()))
	ops := len(e.fs.ops)

	err := e.c.SetBackingFile(e.c.ExportGadget(), "/mnt/teslacam/missing.img", false)
	assert.ErrorIs(t, err, ErrBackingFileNotFound)
	assert.Len(t, e.fs.ops, ops)
}

func TestSetBackingFileBlockDevice(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.c.Create(e.c.ExportGadget()))

	require.NoError(t, e.c.SetBackingFile(e.c.ExportGadget(), "/dev/mmcblk0p3", false))
	assert.Equal(t, "/dev/mmcblk0p3", e.fs.read(gadgetPath("g1", lunFileAttr...)))
}

func TestSetBackingFileRejectedByKernel(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.c.Create(e.c.ExportGadget()))
	e.fs.writeErr[gadgetPath("g1", lunFileAttr...)+"="+testImage] = unix.EBUSY

	err := e.c.SetBackingFile(e.c.ExportGadget(), testImage, false)
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.ErrorIs(t, err, unix.EBUSY)
	assert.Equal(t, "", e.fs.read(gadgetPath("g1", lunFileAttr...)))
}

func TestSetBackingFileNotConfirmed(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.c.Create(e.c.ExportGadget()))
	e.fs.writeStore[gadgetPath("g1", lunFileAttr...)+"="+testImage] = ""

	err := e.c.SetBackingFile(e.c.ExportGadget(), testImage, false)
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.Contains(t, err.Error(), "backing file not confirmed")
}

func TestSwitchToExportModeBindNotConfirmed(t *testing.T) {
	e := newTestEnv(t)
	e.seedL4t(t)
	require.NoError(t, e.c.Create(e.c.ExportGadget()))
	e.fs.writeStore[gadgetPath("g1", udcAttr...)+"="+testUdc] = ""

	assert.ErrorIs(t, e.c.SwitchToExportMode(), ErrDeviceBusy)
	assert.Equal(t, "", e.udcOf("g1"))
}

func TestSetBackingFileWithoutGadget(t *testing.T) {
	e := newTestEnv(t)
	err := e.c.SetBackingFile(e.c.ExportGadget(), testImage, false)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestDown(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.c.SwitchToExportMode())

	require.NoError(t, e.c.Down())
	assert.Equal(t, "", e.udcOf("g1"))
	assert.Equal(t, "", e.fs.read(gadgetPath("g1", lunFileAttr...)))
	assert.True(t, e.fs.exists(gadgetPath("g1", massStorageLink...)), "tree is kept")

	udc, err := e.c.Udc()
	require.NoError(t, err)
	assert.Equal(t, "", udc.Holder())
}

func TestDownWithoutGadget(t *testing.T) {
	e := newTestEnv(t)
	assert.ErrorIs(t, e.c.Down(), ErrMissingDependency)
}
