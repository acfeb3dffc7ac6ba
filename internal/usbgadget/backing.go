package usbgadget

import (
	"fmt"
	"strings"
)

// block devices are exported as they are; their nodes may only appear once
// the host side attaches them
func isBlockDevicePath(p string) bool {
	return strings.HasPrefix(p, "/dev/")
}

func (c *Controller) checkBackingFile(p string) error {
	if isBlockDevicePath(p) {
		return nil
	}
	fi, err := c.host.Stat(p)
	if err != nil {
		if isNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBackingFileNotFound, p)
		}
		return fmt.Errorf("failed to stat backing file %s: %w", p, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrBackingFileNotFound, p)
	}
	return nil
}

// SetBackingFile points LUN 0 of def at p. The gadget is unbound first and
// the LUN cleared so the kernel drops any open handle; def is left unbound
// for the caller to rebind.
func (c *Controller) SetBackingFile(def *GadgetDefinition, p string, readOnly bool) error {
	if err := c.checkBackingFile(p); err != nil {
		return err
	}
	if !c.gadgetExists(def) {
		return fmt.Errorf("%w: gadget %s does not exist", ErrMissingDependency, def.Name)
	}

	if _, err := c.Unbind(def); err != nil {
		return err
	}

	lunFile := gadgetPath(def.Name, lunFileAttr...)
	if err := c.clearLun(def); err != nil {
		return err
	}

	ro := gadgetPath(def.Name, lunRoAttr...)
	if err := c.configfs.writeAttr(ro, boolAttr(readOnly)); err != nil {
		return fmt.Errorf("failed to set ro flag: %w", err)
	}

	if err := c.configfs.writeAttr(lunFile, p); err != nil {
		if isRejectedWrite(err) {
			return fmt.Errorf("%w: failed to set backing file %s: %w", ErrDeviceBusy, p, err)
		}
		return fmt.Errorf("failed to set backing file %s: %w", p, err)
	}

	attached, err := c.configfs.readAttr(lunFile)
	if err != nil {
		return fmt.Errorf("failed to verify backing file: %w", err)
	}
	if attached != p {
		return fmt.Errorf("%w: backing file not confirmed, expected %s, got %q", ErrDeviceBusy, p, attached)
	}

	c.log.Info().Str("gadget", def.Name).Str("file", p).Bool("ro", readOnly).Msg("backing file attached")
	return nil
}

// clearLun detaches the backing file. def must already be unbound.
func (c *Controller) clearLun(def *GadgetDefinition) error {
	lunFile := gadgetPath(def.Name, lunFileAttr...)
	if err := c.configfs.writeAttr(lunFile, ""); err != nil {
		if isRejectedWrite(err) {
			return fmt.Errorf("%w: failed to clear lun file: %w", ErrDeviceBusy, err)
		}
		return fmt.Errorf("failed to clear lun file: %w", err)
	}
	return nil
}
