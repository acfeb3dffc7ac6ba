package hardware

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/TedsterDev/tesla-vision/internal/logging"
)

// set with -ldflags "-X github.com/TedsterDev/tesla-vision/internal/hardware.builtAppVersion=..."
var builtAppVersion = "0.1.0+dev"

const fallbackSerialNumber = "0000000000"

var (
	cpuinfoSerial = regexp.MustCompile(`Serial\s*:\s*(\S+)`)

	// namespace for serial numbers derived from /etc/machine-id
	machineIdNamespace = uuid.MustParse("6f2b7ad4-5c07-4d5e-9d1b-7b0b5e0c7d31")
)

func AppVersion() string {
	return builtAppVersion
}

func GetLocalVersion() (*semver.Version, error) {
	v, err := semver.NewVersion(builtAppVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid built-in app version: %w", err)
	}
	return v, nil
}

// BcdFromVersion encodes major.minor as a USB bcdDevice value,
// e.g. 1.12.0 becomes 0x0112.
func BcdFromVersion(v *semver.Version) (string, error) {
	if v.Major() > 99 || v.Minor() > 99 {
		return "", fmt.Errorf("version %s does not fit in bcdDevice", v)
	}
	return fmt.Sprintf("0x%02d%02d", v.Major(), v.Minor()), nil
}

// BcdDevice is BcdFromVersion applied to the built-in version, falling back
// to 0x0100.
func BcdDevice() string {
	v, err := GetLocalVersion()
	if err == nil {
		var bcd string
		if bcd, err = BcdFromVersion(v); err == nil {
			return bcd
		}
	}
	logging.Logger.Warn().Err(err).Msg("unable to derive bcdDevice from app version")
	return "0x0100"
}

func readFile(fs billy.Filesystem, name string) (string, error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func deviceTreeSerial(fs billy.Filesystem) (string, error) {
	content, err := readFile(fs, "/proc/device-tree/serial-number")
	if err != nil {
		return "", err
	}
	serial := strings.TrimSpace(strings.TrimRight(content, "\x00"))
	if serial == "" {
		return "", fmt.Errorf("empty device-tree serial")
	}
	return serial, nil
}

func cpuinfoSerialNumber(fs billy.Filesystem) (string, error) {
	content, err := readFile(fs, "/proc/cpuinfo")
	if err != nil {
		return "", err
	}

	matches := cpuinfoSerial.FindStringSubmatch(content)
	if len(matches) < 2 {
		return "", fmt.Errorf("no serial found")
	}
	return matches[1], nil
}

func machineIdSerial(fs billy.Filesystem) (string, error) {
	content, err := readFile(fs, "/etc/machine-id")
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(content)
	if id == "" {
		return "", fmt.Errorf("empty machine-id")
	}

	u := uuid.NewSHA1(machineIdNamespace, []byte(id))
	return strings.ToUpper(strings.ReplaceAll(u.String(), "-", ""))[:16], nil
}

// GetSerialNumber returns the USB serial string for this board. host is
// rooted at "/".
func GetSerialNumber(host billy.Filesystem) string {
	sources := []struct {
		name string
		read func(billy.Filesystem) (string, error)
	}{
		{"device-tree", deviceTreeSerial},
		{"cpuinfo", cpuinfoSerialNumber},
		{"machine-id", machineIdSerial},
	}

	for _, s := range sources {
		serial, err := s.read(host)
		if err == nil {
			return serial
		}
		logging.Logger.Debug().Err(err).Str("source", s.name).Msg("serial number source unavailable")
	}

	logging.Logger.Warn().Msg("unknown serial number, using fallback")
	return fallbackSerialNumber
}
