package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyclopcam/logs"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/reframe/internal/config"
	"github.com/andresmejia3/reframe/internal/logger"
	"github.com/andresmejia3/reframe/internal/store"
)

// Options holds the per-job flags shared by crop, plan and watch.
type Options struct {
	InputPath  string
	OutputPath string
	Width      int
	Height     int
	Smooth     int
	Padding    float64
	Confidence float64
	Selection  string
	Detector   string
	Cascade    string
	Model      string
	Workers    int
	Resample   string
	CRF        int
	Preset     string
}

var (
	// DB is the optional job history, open only when a database is configured.
	DB *store.Store
	// Cfg is the loaded configuration, with defaults filled in.
	Cfg *config.Config
	// Log is the leveled application log.
	Log logs.Log

	dbURL      string
	configPath string
	verbose    bool
)

// Version is the application version.
const Version = "0.0.1"

var rootCmd = &cobra.Command{
	Use:     "reframe",
	Short:   "Face-following 9:16 video reframer",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			if Cfg, err = config.Load(configPath); err != nil {
				return err
			}
		} else {
			Cfg = config.Default()
		}

		level, err := logger.ParseLevel(Cfg.Logging.Level)
		if err != nil {
			return err
		}
		if verbose {
			level = logger.LevelDebug
		}
		base, err := logs.NewLog()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		Log = logger.New(base, level)

		url := resolveDBURL()
		if url == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The command context may already be cancelled by Ctrl+C.
			DB.Close(context.Background())
		}
	},
}

// resolveDBURL returns --db, or a URL assembled from POSTGRES_* variables,
// or "" when neither is set. Job history is optional.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// requireDB is a PreRunE for commands that only make sense with history.
func requireDB(cmd *cobra.Command, args []string) error {
	if DB == nil {
		return fmt.Errorf("%s needs a database: pass --db or set POSTGRES_HOST", cmd.Name())
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for job history (optional)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
