package usbgadget

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Create makes sure the configfs tree of a managed gadget exists. It is
// idempotent and completes a partially created tree; existing attributes
// that already hold the wanted value are left untouched.
func (c *Controller) Create(def *GadgetDefinition) error {
	if !def.Managed {
		return fmt.Errorf("%w: refusing to create %s", ErrUnmanagedGadget, def.Name)
	}
	if err := c.configfs.available(); err != nil {
		return err
	}

	root := gadgetPath(def.Name)
	outcome, err := c.configfs.mkdir(root)
	if _, err := c.logOutcome("mkdir", root, outcome, err); err != nil {
		return fmt.Errorf("failed to create gadget %s: %w", def.Name, err)
	}

	bound, err := c.configfs.readAttr(gadgetPath(def.Name, udcAttr...))
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to read UDC of %s: %w", def.Name, err)
	}

	for _, item := range def.configItems() {
		if err := c.applyConfigItem(def, item, bound != ""); err != nil {
			return err
		}
	}

	c.log.Info().Str("gadget", def.Name).Msg("gadget tree ready")
	return nil
}

func (c *Controller) applyConfigItem(def *GadgetDefinition, item gadgetConfigItem, bound bool) error {
	dir := gadgetPath(def.Name, item.path...)
	outcome, err := c.configfs.mkdir(dir)
	if _, err := c.logOutcome("mkdir", dir, outcome, err); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	for _, name := range item.attrs.sortedKeys() {
		value := item.attrs[name]
		if value == "" {
			continue
		}

		p := path.Join(dir, name)
		current, err := c.configfs.readAttr(p)
		if err != nil && !isNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		if strings.EqualFold(current, value) {
			c.logOutcome("write", p, NotApplicable, nil)
			continue
		}
		if bound {
			return fmt.Errorf("%w: %s differs (%q, want %q) while %s is bound", ErrDeviceBusy, p, current, value, def.Name)
		}

		if err := c.configfs.writeAttr(p, value); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
		c.logOutcome("write", p, Applied, nil)
	}

	if item.configPath != nil {
		link := gadgetPath(def.Name, item.configPath...)
		outcome, err := c.configfs.symlink(massStorageLinkTarget, link)
		if _, err := c.logOutcome("symlink", link, outcome, err); err != nil {
			return fmt.Errorf("failed to link %s: %w", link, err)
		}
	}
	return nil
}

// teardownOrder lists the nodes Destroy removes, children before parents.
var teardownOrder = [][]string{
	massStorageLink,
	massStorageDir,
	configStringsDir,
	configDir,
	deviceStringsDir,
	nil, // gadget root
}

// Destroy unbinds a managed gadget and removes its configfs tree bottom-up.
// Nodes that are already gone are skipped; nodes the kernel still holds are
// retried up to the configured attempts.
func (c *Controller) Destroy(def *GadgetDefinition) error {
	if !def.Managed {
		return fmt.Errorf("%w: refusing to destroy %s", ErrUnmanagedGadget, def.Name)
	}

	if !c.gadgetExists(def) {
		c.log.Info().Str("gadget", def.Name).Msg("gadget already removed")
		return nil
	}

	if _, err := c.Unbind(def); err != nil {
		return err
	}

	for _, elem := range teardownOrder {
		if err := c.removeWithRetry(gadgetPath(def.Name, elem...)); err != nil {
			return err
		}
	}

	c.log.Info().Str("gadget", def.Name).Msg("gadget removed")
	return nil
}

func (c *Controller) removeWithRetry(p string) error {
	for attempt := 1; ; attempt++ {
		outcome, err := c.configfs.remove(p)
		if err == nil {
			c.logOutcome("remove", p, outcome, nil)
			return nil
		}
		if !isBusy(err) {
			_, err = c.logOutcome("remove", p, outcome, fmt.Errorf("failed to remove %s: %w", p, err))
			return err
		}
		if attempt >= c.retryAttempts {
			return fmt.Errorf("%w: %s still in use after %d attempts: %w", ErrResourceBusy, p, attempt, err)
		}

		c.logWarn(fmt.Sprintf("%s busy, retrying (%d/%d)", p, attempt, c.retryAttempts), err)
		time.Sleep(c.retryDelay)
	}
}
