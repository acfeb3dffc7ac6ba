package usbgadget

import (
	"fmt"
	"sort"

	"github.com/go-git/go-billy/v5"
)

// Udc is a handle on one USB Device Controller. It holds at most one gadget:
// binding a second gadget requires unbinding the holder first.
type Udc struct {
	Name   string
	holder string
}

// Holder returns the gadget currently bound through this handle, or "".
func (u *Udc) Holder() string {
	return u.holder
}

// free fails if the handle is held by a gadget other than gadget.
func (u *Udc) free(gadget string) error {
	if u.holder != "" && u.holder != gadget {
		return fmt.Errorf("%w: %s is held by %s", ErrUdcOccupied, u.Name, u.holder)
	}
	return nil
}

func (u *Udc) claim(gadget string) error {
	if err := u.free(gadget); err != nil {
		return err
	}
	u.holder = gadget
	return nil
}

func (u *Udc) release(gadget string) {
	if u.holder == gadget {
		u.holder = ""
	}
}

// ListUdcs returns the controllers registered under /sys/class/udc, with
// class rooted at that directory.
func ListUdcs(class billy.Filesystem) ([]string, error) {
	entries, err := class.ReadDir("/")
	if err != nil {
		return nil, fmt.Errorf("%w: no usb device controller class: %v", ErrConfigfsUnavailable, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
