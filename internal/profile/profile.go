package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultUpdateCommand is executed when an operator requests a forced update.
// It is expected to pull the tracked branch and restart the service unit.
const DefaultUpdateCommand = "cd /opt/autopostd && git pull && systemctl restart autopostd.service"

// Profile is the configuration a node starts with.
type Profile struct {
	// Token is the bot token this node runs under.
	Token string
	// Mode can be "prod", "dev" or "demo".
	Mode string
	// Data is the data directory (sqlite files, defaults).
	Data string
	// Driver is the database driver ("postgres" or "sqlite").
	Driver string
	// DSN is the database source name. DATABASE_URL takes precedence.
	DSN string
	// Version is the node binary version.
	Version string

	// LogFile enables file logging with rotation when non-empty.
	LogFile string
	// LogLevel is the slog level name (debug, info, warn, error).
	LogLevel string

	// GitRemote and GitBranch identify the revision the node tracks.
	GitRemote string
	GitBranch string
	// GitCheckIntervalS is the seconds between git probes; 0 disables probing.
	GitCheckIntervalS int
	// UpdateCommand is run on force_update.
	UpdateCommand string

	// MaxPostsPerSecond spaces forwards within one scheduler cycle.
	MaxPostsPerSecond int
	// TickIntervalS is the scheduler cycle interval in seconds.
	TickIntervalS int

	// MetricsAddr enables the observability HTTP listener when non-empty.
	MetricsAddr string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
// The keys are deliberately unprefixed: a node is deployed one per host and
// the systemd unit owns its environment file.
func (p *Profile) FromEnv() {
	p.Token = getEnvOrDefault("TOKEN", p.Token)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		p.DSN = dsn
		if p.Driver == "" {
			p.Driver = "postgres"
		}
	}

	p.LogFile = getEnvOrDefault("LOG_FILE", p.LogFile)
	p.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	p.GitRemote = getEnvOrDefault("GIT_REMOTE", "origin")
	p.GitBranch = getEnvOrDefault("GIT_BRANCH", "main")
	p.GitCheckIntervalS = getEnvOrDefaultInt("GIT_CHECK_INTERVAL_S", 300)
	p.UpdateCommand = getEnvOrDefault("UPDATE_COMMAND", DefaultUpdateCommand)

	p.MaxPostsPerSecond = getEnvOrDefaultInt("MAX_POSTS_PER_SECOND", 8)
	p.TickIntervalS = getEnvOrDefaultInt("TICK_INTERVAL_S", 5)

	p.MetricsAddr = getEnvOrDefault("METRICS_ADDR", p.MetricsAddr)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Token == "" {
		return errors.New("TOKEN must be set")
	}

	if p.GitCheckIntervalS < 0 {
		return errors.Errorf("GIT_CHECK_INTERVAL_S must be >= 0, got %d", p.GitCheckIntervalS)
	}
	if p.MaxPostsPerSecond < 1 {
		return errors.Errorf("MAX_POSTS_PER_SECOND must be >= 1, got %d", p.MaxPostsPerSecond)
	}
	if p.TickIntervalS < 1 {
		return errors.Errorf("TICK_INTERVAL_S must be >= 1, got %d", p.TickIntervalS)
	}

	switch p.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown LOG_LEVEL %q", p.LogLevel)
	}

	if p.Driver == "" {
		p.Driver = "sqlite"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "autopostd")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					return errors.Wrapf(err, "failed to create data directory %s", p.Data)
				}
			}
		} else {
			p.Data = "/var/opt/autopostd"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("autopostd_%s.db", p.Mode)
		// WAL keeps the heartbeat and scheduler loops from blocking each other.
		p.DSN = filepath.Join(dataDir, dbFile) + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("DATABASE_URL (or --dsn) must be set for the postgres driver")
	}

	return nil
}
