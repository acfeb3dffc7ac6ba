package usbgadget

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrConfigfsUnavailable means configfs is not mounted or libcomposite
	// is not loaded.
	ErrConfigfsUnavailable = errors.New("configfs usb_gadget unavailable")
	ErrBackingFileNotFound = errors.New("backing file not found")
	// ErrDeviceBusy is a write the kernel rejected, typically because a host
	// still holds the LUN open.
	ErrDeviceBusy = errors.New("device busy")
	// ErrResourceBusy is a configfs node that could not be removed within
	// the retry budget.
	ErrResourceBusy      = errors.New("resource busy")
	ErrMissingDependency = errors.New("missing dependency")
	ErrUdcOccupied       = errors.New("udc already bound to another gadget")
	ErrUnmanagedGadget   = errors.New("gadget is externally managed")
)

// Outcome tells a step that changed something apart from one that had
// nothing to do.
type Outcome int

const (
	Applied Outcome = iota
	NotApplicable
)

func (o Outcome) String() string {
	if o == NotApplicable {
		return "not applicable"
	}
	return "applied"
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// isBusy reports errno values the kernel returns for nodes still in use.
func isBusy(err error) bool {
	return errors.Is(err, unix.EBUSY) || errors.Is(err, unix.ENOTEMPTY)
}

// isRejectedWrite reports errno values configfs returns for refused
// attribute stores.
func isRejectedWrite(err error) bool {
	return isBusy(err) || errors.Is(err, unix.ENODEV) || errors.Is(err, unix.EINVAL)
}
