package usbgadget

import (
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 500 * time.Millisecond
)

// Controller switches the UDC between the export gadget and the developer
// gadget. It holds no state of its own beyond the UDC handle; the mode is
// always read back from configfs.
type Controller struct {
	configfs *configfs
	udcClass billy.Filesystem
	host     billy.Filesystem

	udcName string
	udc     *Udc

	export    *GadgetDefinition
	dev       *GadgetDefinition
	imagePath string

	retryAttempts int
	retryDelay    time.Duration

	log *zerolog.Logger
}

type ControllerOptions struct {
	// Configfs is rooted at the configfs mount, /sys/kernel/config.
	Configfs billy.Filesystem
	// UdcClass is rooted at /sys/class/udc. Only consulted when Udc is empty.
	UdcClass billy.Filesystem
	// Host is rooted at "/" and used to check backing files. Defaults to
	// the OS root.
	Host billy.Filesystem

	Udc             string
	Export          *GadgetDefinition
	Dev             *GadgetDefinition
	ExportImagePath string

	RetryAttempts int
	// RetryDelay is the pause between removal attempts, 500ms when unset.
	RetryDelay time.Duration

	Logger *zerolog.Logger
}

var defaultLogger = zerolog.New(os.Stdout).Level(zerolog.InfoLevel)

func NewController(options *ControllerOptions) *Controller {
	if options.Logger == nil {
		options.Logger = &defaultLogger
	}
	if options.RetryAttempts < 1 {
		options.RetryAttempts = defaultRetryAttempts
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = defaultRetryDelay
	}
	if options.Host == nil {
		options.Host = OpenFilesystem("/")
	}

	l := options.Logger.With().Str("export", options.Export.Name).Str("dev", options.Dev.Name).Logger()
	return &Controller{
		configfs:      newConfigfs(options.Configfs),
		udcClass:      options.UdcClass,
		host:          options.Host,
		udcName:       options.Udc,
		export:        options.Export,
		dev:           options.Dev,
		imagePath:     options.ExportImagePath,
		retryAttempts: options.RetryAttempts,
		retryDelay:    options.RetryDelay,
		log:           &l,
	}
}

func (c *Controller) ExportGadget() *GadgetDefinition { return c.export }
func (c *Controller) DevGadget() *GadgetDefinition    { return c.dev }

func (c *Controller) gadgets() []*GadgetDefinition {
	return []*GadgetDefinition{c.export, c.dev}
}

// Udc opens the controller's UDC handle, picking the first registered UDC
// when none is configured. The holder is seeded from the gadgets' current
// UDC attributes.
func (c *Controller) Udc() (*Udc, error) {
	if c.udc != nil {
		return c.udc, nil
	}

	name := c.udcName
	if name == "" {
		if c.udcClass == nil {
			return nil, fmt.Errorf("%w: no udc configured", ErrConfigfsUnavailable)
		}
		udcs, err := ListUdcs(c.udcClass)
		if err != nil {
			return nil, err
		}
		if len(udcs) == 0 {
			return nil, fmt.Errorf("%w: no usb device controller registered", ErrConfigfsUnavailable)
		}
		name = udcs[0]
		c.log.Info().Str("udc", name).Msg("using first available UDC")
	}

	udc := &Udc{Name: name}
	for _, def := range c.gadgets() {
		bound, _ := c.configfs.readAttr(gadgetPath(def.Name, udcAttr...))
		if bound != name {
			continue
		}
		if err := udc.claim(def.Name); err != nil {
			// both gadgets claim it; Status reports the conflict
			c.log.Warn().Err(err).Msg("UDC claimed by more than one gadget")
		}
	}

	c.udc = udc
	return udc, nil
}

func (c *Controller) gadgetExists(def *GadgetDefinition) bool {
	return c.configfs.isDir(gadgetPath(def.Name))
}

// Bind attaches def to udc. The handle must not be held by another gadget.
// The bind is confirmed by reading the UDC attribute back.
func (c *Controller) Bind(def *GadgetDefinition, udc *Udc) error {
	l := c.log.With().Str("gadget", def.Name).Str("udc", udc.Name).Logger()

	if !c.gadgetExists(def) {
		return fmt.Errorf("%w: gadget %s does not exist", ErrMissingDependency, def.Name)
	}

	p := gadgetPath(def.Name, udcAttr...)
	current, err := c.configfs.readAttr(p)
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", p, err)
	}
	if current == udc.Name {
		l.Debug().Msg("gadget already bound")
		return udc.claim(def.Name)
	}

	if err := udc.free(def.Name); err != nil {
		return err
	}

	if current != "" {
		// bound to a different controller; unbind before rebinding
		if _, err := c.Unbind(def); err != nil {
			return err
		}
	}

	if err := udc.claim(def.Name); err != nil {
		return err
	}

	l.Info().Msg("binding gadget")
	if err := c.configfs.writeAttr(p, udc.Name); err != nil {
		udc.release(def.Name)
		if isRejectedWrite(err) {
			return fmt.Errorf("%w: failed to bind %s to %s: %w", ErrDeviceBusy, def.Name, udc.Name, err)
		}
		return fmt.Errorf("failed to bind %s to %s: %w", def.Name, udc.Name, err)
	}

	bound, err := c.configfs.readAttr(p)
	if err != nil || bound != udc.Name {
		// leave the attribute empty so the released handle matches configfs
		if uerr := c.configfs.writeAttr(p, ""); uerr != nil {
			c.logWarn(fmt.Sprintf("failed to clear %s after unconfirmed bind", p), uerr)
		}
		udc.release(def.Name)
		return fmt.Errorf("%w: bind of %s not confirmed, UDC reads %q", ErrDeviceBusy, def.Name, bound)
	}
	return nil
}

// Unbind detaches def from its UDC. A gadget that is already unbound, or
// does not exist, is NotApplicable.
func (c *Controller) Unbind(def *GadgetDefinition) (Outcome, error) {
	p := gadgetPath(def.Name, udcAttr...)

	current, err := c.configfs.readAttr(p)
	if err != nil {
		if isNotExist(err) {
			return c.logOutcome("unbind", p, NotApplicable, nil)
		}
		return c.logOutcome("unbind", p, Applied, fmt.Errorf("failed to read %s: %w", p, err))
	}
	if current == "" {
		if c.udc != nil {
			c.udc.release(def.Name)
		}
		return c.logOutcome("unbind", p, NotApplicable, nil)
	}

	if err := c.configfs.writeAttr(p, ""); err != nil {
		if isRejectedWrite(err) {
			err = fmt.Errorf("%w: failed to unbind %s: %w", ErrDeviceBusy, def.Name, err)
		} else {
			err = fmt.Errorf("failed to unbind %s: %w", def.Name, err)
		}
		return c.logOutcome("unbind", p, Applied, err)
	}

	if c.udc != nil {
		c.udc.release(def.Name)
	}
	c.log.Info().Str("gadget", def.Name).Str("udc", current).Msg("gadget unbound")
	return Applied, nil
}
