package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const LevelEnv = "GADGETMODE_LOG_LEVEL"

// ConsoleOutput formats log lines for humans on out.
func ConsoleOutput(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:           out,
		TimeFormat:    time.RFC3339,
		PartsOrder:    []string{"time", "level", "scope", "message"},
		FieldsExclude: []string{"scope"},
		FormatPartValueByName: func(value interface{}, name string) string {
			if name == "scope" && value == nil {
				return "-"
			}
			return fmt.Sprintf("%s", value)
		},
	}
}

var defaultOutput = ConsoleOutput(os.Stderr)

// Use this abstraction to ensure thread-safe access to the logger's io.Writer.
// (which could change at runtime).
type loggerWriter struct {
	sync.RWMutex
	output io.Writer
}

func (lw *loggerWriter) SetOutput(output io.Writer) {
	lw.Lock()
	defer lw.Unlock()
	lw.output = output
}

func (lw *loggerWriter) Write(data []byte) (int, error) {
	lw.RLock()
	defer lw.RUnlock()

	return lw.output.Write(data)
}

var (
	writer     = &loggerWriter{output: defaultOutput}
	rootLogger = zerolog.New(writer).With().Timestamp().Logger()
)

// Logger is the application-wide logger.
var Logger = GetSubsystemLogger("gadgetmode")

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetOutput redirects every logger handed out by this package.
func SetOutput(output io.Writer) {
	writer.SetOutput(output)
}

// SetLevel parses level ("debug", "info", ...) and applies it globally.
// An empty level falls back to $GADGETMODE_LOG_LEVEL, then info.
func SetLevel(level string) error {
	if level == "" {
		level = os.Getenv(LevelEnv)
	}
	if level == "" {
		level = "info"
	}

	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(l)
	return nil
}

// GetSubsystemLogger returns a logger tagged with scope.
func GetSubsystemLogger(scope string) *zerolog.Logger {
	l := rootLogger.With().Str("scope", scope).Logger()
	return &l
}
