// Package logging installs the process-wide slog default: text to stderr
// for interactive runs, JSON through a rotating file when LOG_FILE is set.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autopostd/autopostd/internal/profile"
)

// Rotation limits for LOG_FILE: 5 MiB per file, 5 backups kept.
const (
	maxSizeMB  = 5
	maxBackups = 5
)

// Setup configures slog per the profile. The returned closer releases the
// rotating file handle; it is a no-op when logging to stderr only.
func Setup(p *profile.Profile) io.Closer {
	opts := &slog.HandlerOptions{Level: parseLevel(p.LogLevel)}

	if p.LogFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   p.LogFile,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stderr, rotator), opts)))
	return rotator
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
