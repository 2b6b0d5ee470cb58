package airwave

import (
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// InitLogger installs the colored tint handler as the default slog logger.
func InitLogger(config *Config, w io.Writer) *slog.Logger {
	logger := slog.New(newHandler(config, w))
	slog.SetDefault(logger)
	return logger
}

func newHandler(config *Config, w io.Writer) slog.Handler {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := getProjectRoot(filename)

	// Trim source paths to the project root.
	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.SourceKey {
			return a
		}
		source, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		if projectRoot != "" && strings.HasPrefix(source.File, projectRoot+"/") {
			source.File = source.File[len(projectRoot)+1:]
		}
		return slog.Any(a.Key, source)
	}

	return tint.NewHandler(w, &tint.Options{
		Level:       config.GetSlogLevel(),
		AddSource:   true,
		NoColor:     config.Logging.NoColor,
		TimeFormat:  time.RFC3339,
		ReplaceAttr: replaceAttr,
	})
}

// getProjectRoot walks up from internal/airwave/logger.go to the module root.
func getProjectRoot(file string) string {
	if file == "" {
		return ""
	}
	return filepath.Dir(filepath.Dir(filepath.Dir(file)))
}
