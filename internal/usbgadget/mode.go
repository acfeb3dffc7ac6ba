package usbgadget

import (
	"fmt"
)

// gadgetComplete reports whether the export tree is fully linked.
func (c *Controller) gadgetComplete(def *GadgetDefinition) bool {
	return c.configfs.exists(gadgetPath(def.Name, massStorageLink...))
}

// SwitchToExportMode exposes the export image through the export gadget.
// The developer gadget is unbound first. A failure part way leaves the
// gadgets as the failing step found them.
func (c *Controller) SwitchToExportMode() error {
	if err := c.checkBackingFile(c.imagePath); err != nil {
		return err
	}

	udc, err := c.Udc()
	if err != nil {
		return err
	}

	if _, err := c.Unbind(c.dev); err != nil {
		return err
	}

	if !c.gadgetComplete(c.export) {
		if err := c.Create(c.export); err != nil {
			return err
		}
	}

	if err := c.SetBackingFile(c.export, c.imagePath, false); err != nil {
		return err
	}

	if err := c.Bind(c.export, udc); err != nil {
		return err
	}

	c.log.Info().Str("udc", udc.Name).Str("file", c.imagePath).Msg("export mode active")
	return nil
}

// SwitchToDevMode unbinds the export gadget and binds the developer gadget,
// which must already exist.
func (c *Controller) SwitchToDevMode() error {
	udc, err := c.Udc()
	if err != nil {
		return err
	}

	if _, err := c.Unbind(c.export); err != nil {
		return err
	}

	if !c.gadgetExists(c.dev) {
		return fmt.Errorf("%w: developer gadget %s does not exist", ErrMissingDependency, c.dev.Name)
	}

	if err := c.Bind(c.dev, udc); err != nil {
		return err
	}

	c.log.Info().Str("udc", udc.Name).Msg("developer mode active")
	return nil
}

// Down unbinds the export gadget and detaches its backing file, leaving
// the tree in place.
func (c *Controller) Down() error {
	if _, err := c.Unbind(c.export); err != nil {
		return err
	}
	if !c.gadgetExists(c.export) {
		return fmt.Errorf("%w: gadget %s does not exist", ErrMissingDependency, c.export.Name)
	}
	if err := c.clearLun(c.export); err != nil {
		return err
	}

	c.log.Info().Str("gadget", c.export.Name).Msg("export gadget down")
	return nil
}
