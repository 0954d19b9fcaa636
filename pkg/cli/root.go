package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/whatislife/savekeeper/pkg/app"
	"github.com/whatislife/savekeeper/pkg/config"
	"github.com/whatislife/savekeeper/pkg/log"
)

type cli struct {
	cfg      *config.Config
	output   string
	logLevel string
	out      io.Writer
	in       io.Reader

	app *app.App
}

// open builds the app on first use. Commands that never touch app data,
// like version, do not open it.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := app.Open(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) close(ctx context.Context) error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close(ctx)
	c.app = nil
	return err
}

// NewRootCmd creates the root command. Results are written to out, and
// save or validate read their document from in when no file is given.
func NewRootCmd(out io.Writer, in io.Reader) *cobra.Command {
	return newRootCmd(&cli{out: out, in: in})
}

func newRootCmd(c *cli) *cobra.Command {
	out := c.out
	rootCmd := &cobra.Command{
		Use:   "savekeeper",
		Short: "Manage player saves, bans and updates",
		Long: `savekeeper works directly on the local app data directory: per-player
saves, the ban registry, the anti-cheat validator, backups and staged updates.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLogLevel(c.logLevel)
			if err != nil {
				return err
			}
			log.SetDefaultLogger(log.New(os.Stderr, "", log.DefaultLoggerFlag, level))
			return nil
		},
		SilenceUsage: true,
	}

	cfg, err := config.ParseEnv()
	if err != nil {
		log.Warn("Ignoring environment: %v", err)
		cfg = &config.Config{DatabaseURL: "sqlite://", ReleasesURL: config.DefaultReleasesURL, LogLevel: "warn"}
	}
	c.cfg = cfg

	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&c.cfg.AppDataDir, "data-dir", c.cfg.AppDataDir, "App data directory (env: SAVEKEEPER_APP_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&c.cfg.DatabaseURL, "database-url", c.cfg.DatabaseURL, "Save store URL (env: SAVEKEEPER_DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&c.cfg.ReleasesURL, "releases-url", c.cfg.ReleasesURL, "Releases API URL (env: SAVEKEEPER_RELEASES_URL)")
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "text", "Output format: text, json")

	rootCmd.AddCommand(newSaveCmd(c))
	rootCmd.AddCommand(newLoadCmd(c))
	rootCmd.AddCommand(newValidateCmd(c))
	rootCmd.AddCommand(newBanCmd(c))
	rootCmd.AddCommand(newBannedCmd(c))
	rootCmd.AddCommand(newLocalIPCmd(c))
	rootCmd.AddCommand(newUpdateCmd(c))
	rootCmd.AddCommand(newBackupCmd(c))
	rootCmd.AddCommand(newVersionCmd(c))

	closeAfterRun(rootCmd, c)
	return rootCmd
}

// closeAfterRun wraps every RunE below cmd so the app is closed whether or
// not the command fails. Cobra skips post-run hooks after an error.
func closeAfterRun(cmd *cobra.Command, c *cli) {
	for _, sub := range cmd.Commands() {
		closeAfterRun(sub, c)
	}
	if cmd.RunE == nil {
		return
	}
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if closeErr := c.close(context.Background()); err == nil {
				err = closeErr
			}
		}()
		return run(cmd, args)
	}
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd(os.Stdout, os.Stdin).Execute(); err != nil {
		os.Exit(1)
	}
}
