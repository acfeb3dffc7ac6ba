package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/TedsterDev/tesla-vision/internal/config"
	"github.com/TedsterDev/tesla-vision/internal/imagewait"
	"github.com/TedsterDev/tesla-vision/internal/logging"
	"github.com/TedsterDev/tesla-vision/internal/usbgadget"
)

func (a *app) upCommand() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:     "up",
		Aliases: []string{"export"},
		Short:   "Export the TeslaCam image through the mass storage gadget",
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wait > 0 {
				if err := a.waitForImage(cmd.Context(), wait); err != nil {
					return err
				}
			}
			c := a.controller()
			return a.finish(c, c.SwitchToExportMode())
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the image to appear")
	return cmd
}

func (a *app) waitForImage(ctx context.Context, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	err := imagewait.WaitForFile(ctx, a.openFs("/"), a.cfg.ImagePath, logging.GetSubsystemLogger("imagewait"))
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s did not appear within %s", usbgadget.ErrBackingFileNotFound, a.cfg.ImagePath, wait)
	}
	return err
}

func (a *app) downCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Unbind the export gadget and detach the image",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.controller()
			return a.finish(c, c.Down())
		},
	}
}

func (a *app) devCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dev",
		Short: "Hand the UDC back to the L4T developer gadget",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.controller()
			return a.finish(c, c.SwitchToDevMode())
		},
	}
}

func (a *app) teardownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "teardown",
		Short: "Unbind and remove the export gadget from configfs",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.controller()
			return a.finish(c, c.Destroy(c.ExportGadget()))
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which gadget holds the UDC",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.controller()
			report := c.Status()
			if err := a.finish(c, nil); err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.stdout, report)
			}
			printReport(a.stdout, report)
			return nil
		},
	}
}

func printReport(w io.Writer, report *usbgadget.ModeReport) {
	fmt.Fprintf(w, "mode: %s\n", report.Mode)
	for _, g := range report.Gadgets {
		switch {
		case !g.Present:
			fmt.Fprintf(w, "%s (%s): absent\n", g.Name, g.Role)
			continue
		case g.Bound():
			fmt.Fprintf(w, "%s (%s): bound to %s\n", g.Name, g.Role, g.Udc)
		default:
			fmt.Fprintf(w, "%s (%s): unbound\n", g.Name, g.Role)
		}
		if g.Lun.Present {
			fmt.Fprintf(w, "  lun.0 file=%q ro=%t\n", g.Lun.File, g.Lun.ReadOnly)
		}
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (a *app) udcCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "udc",
		Short: "Inspect USB device controllers",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return usagef("missing subcommand, see %s --help", cmd.CommandPath())
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the controllers registered in sysfs",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			udcs, err := usbgadget.ListUdcs(a.openFs(a.cfg.UdcClassRoot))
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.stdout, udcs)
			}
			for _, name := range udcs {
				fmt.Fprintln(a.stdout, name)
			}
			return nil
		},
	})
	return cmd
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return usagef("missing subcommand, see %s --help", cmd.CommandPath())
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Args:  noArgs,
		// the existing file may be the reason for running init
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.SetLevel(a.logLevel); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(a.configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := config.SaveConfig(path, config.Default()); err != nil {
				return err
			}
			logging.Logger.Info().Str("path", path).Msg("default config written")
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(a.stdout, a.cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
