package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-billy/v5"
	"github.com/spf13/cobra"

	"github.com/TedsterDev/tesla-vision/internal/config"
	"github.com/TedsterDev/tesla-vision/internal/hardware"
	"github.com/TedsterDev/tesla-vision/internal/logging"
	"github.com/TedsterDev/tesla-vision/internal/metrics"
	"github.com/TedsterDev/tesla-vision/internal/usbgadget"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitMissingFile = 2
	exitUsage       = 64 // EX_USAGE
)

type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...interface{}) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var usage *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage):
		return exitUsage
	case errors.Is(err, usbgadget.ErrBackingFileNotFound):
		return exitMissingFile
	default:
		return exitFailure
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usagef("%s takes no arguments, got %q", cmd.CommandPath(), args)
	}
	return nil
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	jsonOutput bool

	cfg *config.Config

	// openFs roots a filesystem at an absolute host path
	openFs func(root string) billy.Filesystem
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		openFs: usbgadget.OpenFilesystem,
	}
}

// loadConfig reads the configuration and applies the log level: the flag
// wins over $GADGETMODE_LOG_LEVEL, which wins over the file.
func (a *app) loadConfig() error {
	cfg, err := config.LoadConfig(config.Path(a.configPath))
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := a.logLevel
	if level == "" && os.Getenv(logging.LevelEnv) == "" {
		level = cfg.LogLevel
	}
	if err := logging.SetLevel(level); err != nil {
		return &usageError{err: err}
	}
	return nil
}

func (a *app) controller() *usbgadget.Controller {
	cfg := a.cfg
	host := a.openFs("/")

	gadget := &usbgadget.Config{
		VendorId:      cfg.VendorId,
		ProductId:     cfg.ProductId,
		BcdDevice:     cfg.BcdDevice,
		BcdUSB:        cfg.BcdUSB,
		SerialNumber:  cfg.SerialNumber,
		Manufacturer:  cfg.Manufacturer,
		Product:       cfg.Product,
		Configuration: cfg.Configuration,
		Stall:         cfg.Stall,
		Removable:     cfg.Removable,
	}
	if gadget.SerialNumber == "" {
		gadget.SerialNumber = hardware.GetSerialNumber(host)
	}
	if gadget.BcdDevice == "" {
		gadget.BcdDevice = hardware.BcdDevice()
	}

	var udcClass billy.Filesystem
	if cfg.UdcClassRoot != "" {
		udcClass = a.openFs(cfg.UdcClassRoot)
	}

	return usbgadget.NewController(&usbgadget.ControllerOptions{
		Configfs:        a.openFs(cfg.ConfigfsRoot),
		UdcClass:        udcClass,
		Host:            host,
		Udc:             cfg.Udc,
		Export:          usbgadget.NewGadgetDefinition(cfg.ExportGadget, gadget),
		Dev:             usbgadget.ExternalGadget(cfg.DevGadget),
		ExportImagePath: cfg.ImagePath,
		RetryAttempts:   cfg.RetryAttempts,
		RetryDelay:      cfg.RetryDelay.Duration(),
		Logger:          logging.GetSubsystemLogger("usbgadget"),
	})
}

// finish exports the state the step left behind, whether or not it
// succeeded, and passes err through.
func (a *app) finish(c *usbgadget.Controller, err error) error {
	if a.cfg.MetricsTextfile == "" {
		return err
	}
	if merr := metrics.WriteTextfile(a.cfg.MetricsTextfile, c.Status()); merr != nil {
		logging.Logger.Warn().Err(merr).Str("path", a.cfg.MetricsTextfile).Msg("failed to write metrics textfile")
	}
	return err
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gadgetmode",
		Short: "Switch the USB device port between TeslaCam export and L4T developer mode",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unknown command %q for %s", args[0], cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return usagef("missing command, see %s --help", cmd.CommandPath())
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to the JSON config file (default $"+config.ConfigPathEnv+" or "+config.DefaultConfigPath+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error (default $"+logging.LevelEnv+" or config)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "print machine readable output")

	root.AddCommand(
		a.upCommand(),
		a.downCommand(),
		a.statusCommand(),
		a.devCommand(),
		a.teardownCommand(),
		a.udcCommand(),
		a.configCommand(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	logging.SetOutput(logging.ConsoleOutput(stderr))

	a := newApp(stdout, stderr)
	return a.run(args)
}

func (a *app) run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := a.rootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "gadgetmode: %v\n", err)
	}
	return exitCode(err)
}
