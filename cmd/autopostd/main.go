package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autopostd/autopostd/internal/logging"
	"github.com/autopostd/autopostd/internal/profile"
	"github.com/autopostd/autopostd/internal/version"
	"github.com/autopostd/autopostd/node"
	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "autopostd",
	Short: `A multi-bot broadcast node: forwards channel posts into groups on schedule, with rate limiting, retries and fleet heartbeats.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Systemd units own their environment file; .env is for direct runs.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:        viper.GetString("mode"),
			Data:        viper.GetString("data"),
			Driver:      viper.GetString("driver"),
			DSN:         viper.GetString("dsn"),
			MetricsAddr: viper.GetString("metrics-addr"),
			Version:     version.String(),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			os.Exit(1)
		}

		logCloser := logging.Setup(instanceProfile)
		defer logCloser.Close()

		// SIGTERM is what systemd and kubernetes send for graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), terminationSignals...)
		defer stop()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			printDatabaseError(err, instanceProfile)
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		defer storeInstance.Close()
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		n, err := node.New(instanceProfile, storeInstance)
		if err != nil {
			slog.Error("failed to assemble node", "error", err)
			return
		}

		printGreetings(instanceProfile)

		if err := n.Run(ctx); err != nil {
			slog.Error("node stopped with error", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of node, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "listen address for /healthz, /readyz and /metrics; empty disables")

	for _, name := range []string{"mode", "data", "driver", "dsn", "metrics-addr"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("autopostd")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("autopostd %s started successfully!\n", p.Version)

	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if p.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
		}
	}

	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Scheduler tick: %ds\n", p.TickIntervalS)
	if p.MetricsAddr != "" {
		fmt.Printf("Observability: http://%s/metrics\n", p.MetricsAddr)
	}
	fmt.Println()
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError provides user-friendly messages for connection issues.
func printDatabaseError(err error, p *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL is not reachable.")
		if p.Driver == "postgres" {
			fmt.Fprint(os.Stderr, "\n   Start PostgreSQL, or use SQLite for a single-node setup:\n")
			fmt.Fprint(os.Stderr, "   - Set: AUTOPOSTD_DRIVER=sqlite\n")
			fmt.Fprint(os.Stderr, "   - Or:  ./autopostd --driver=sqlite --data=./data\n")
		}

	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL SSL configuration mismatch.")
		fmt.Fprint(os.Stderr, "\n   Add ?sslmode=disable to your DATABASE_URL.\n")

	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL authentication failed.")
		fmt.Fprint(os.Stderr, "\n   Check the credentials in DATABASE_URL or the .env file.\n")

	case strings.Contains(errMsg, "database") && strings.Contains(errMsg, "does not exist"):
		fmt.Fprintln(os.Stderr, "\nDatabase does not exist.")
		fmt.Fprint(os.Stderr, "\n   Create it with: psql -U postgres -c \"CREATE DATABASE autopostd;\"\n")

	default:
		fmt.Fprintln(os.Stderr, "\nError:", errMsg)
	}

	if _, statErr := os.Stat(".env"); statErr == nil {
		fmt.Fprint(os.Stderr, "\nFound .env file - configuration loaded from current directory.\n")
	} else {
		fmt.Fprint(os.Stderr, "\nTip: create a .env file for local configuration (see .env.example)\n")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
