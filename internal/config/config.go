package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/TedsterDev/tesla-vision/internal/logging"
)

const (
	DefaultConfigPath = "/etc/tesla-vision/gadget.json"

	ConfigPathEnv = "GADGETMODE_CONFIG"
	ImagePathEnv  = "TESLACAM_IMAGE"
	UdcEnv        = "GADGETMODE_UDC"
)

// Duration is a time.Duration that reads and writes as "500ms" in JSON.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	ConfigfsRoot string `json:"configfs_root"`
	UdcClassRoot string `json:"udc_class_root"`
	Udc          string `json:"udc"`

	ExportGadget string `json:"export_gadget"`
	DevGadget    string `json:"dev_gadget"`
	ImagePath    string `json:"image_path"`

	VendorId      string `json:"vendor_id"`
	ProductId     string `json:"product_id"`
	BcdDevice     string `json:"bcd_device,omitempty"` // derived from the app version when empty
	BcdUSB        string `json:"bcd_usb"`
	SerialNumber  string `json:"serial_number,omitempty"` // read from the hardware when empty
	Manufacturer  string `json:"manufacturer"`
	Product       string `json:"product"`
	Configuration string `json:"configuration"`
	Removable     bool   `json:"removable"`
	Stall         bool   `json:"stall"`

	RetryAttempts int      `json:"retry_attempts"`
	RetryDelay    Duration `json:"retry_delay"`

	MetricsTextfile string `json:"metrics_textfile,omitempty"`
	LogLevel        string `json:"log_level"`
}

var defaultConfig = Config{
	ConfigfsRoot:  "/sys/kernel/config",
	UdcClassRoot:  "/sys/class/udc",
	Udc:           "3550000.usb",
	ExportGadget:  "g1",
	DevGadget:     "l4t",
	ImagePath:     "/mnt/teslacam/usb_image/teslacam.img",
	VendorId:      "0x1d6b", // The Linux Foundation
	ProductId:     "0x0104", // Multifunction Composite Gadget
	BcdUSB:        "0x0200", // USB 2.0
	Manufacturer:  "Tesla Vision",
	Product:       "TeslaCam Drive",
	Configuration: "Config 1: Mass Storage",
	Removable:     true,
	RetryAttempts: 3,
	RetryDelay:    Duration(500 * time.Millisecond),
	LogLevel:      "info",
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	c := defaultConfig
	return &c
}

// Path resolves the config file location: explicit flag, then
// $GADGETMODE_CONFIG, then DefaultConfigPath.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(ConfigPathEnv); env != "" {
		return env
	}
	return DefaultConfigPath
}

// LoadConfig reads the JSON file at path over the defaults. A missing file is
// not an error; a malformed one is.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Logger.Debug().Str("path", path).Msg("config file doesn't exist, using default")
	case err != nil:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	default:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config file JSON parsing failed: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(ImagePathEnv); v != "" {
		cfg.ImagePath = v
	}
	if v := os.Getenv(UdcEnv); v != "" {
		cfg.Udc = v
	}
}

func (c *Config) Validate() error {
	if c.ExportGadget == "" || c.DevGadget == "" {
		return errors.New("export_gadget and dev_gadget must be set")
	}
	if c.ExportGadget == c.DevGadget {
		return fmt.Errorf("export_gadget and dev_gadget are both %q", c.ExportGadget)
	}
	if c.ImagePath == "" {
		return errors.New("image_path must be set")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", c.RetryAttempts)
	}
	return nil
}

func SaveConfig(path string, cfg *Config) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
