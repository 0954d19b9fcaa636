package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/whatislife/savekeeper/pkg/updates"
	"github.com/whatislife/savekeeper/pkg/version"
)

// readDocument reads the file named by path, or the command input for "" or "-".
func (c *cli) readDocument(path string) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(c.in)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

func newSaveCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save <player-id>",
		Short: "Replace a player's save with a document from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := c.readDocument(file)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			return a.Commands.SaveGame(cmd.Context(), data, args[0])
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the save from this file instead of stdin")
	return cmd
}

func newLoadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "load <player-id>",
		Short: "Print a player's save (empty if there is none)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			data, err := a.Commands.LoadGame(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			NewOutput(c.output, c.out).Value("data", data)
			return nil
		},
	}
}

func newValidateCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate <player-id>",
		Short: "Check that a game state document is plausible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := c.readDocument(file)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			valid, err := a.Commands.ValidateGameState(cmd.Context(), args[0], state)
			if err != nil {
				return err
			}
			NewOutput(c.output, c.out).Value("valid", valid)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the game state from this file instead of stdin")
	return cmd
}

func newBanCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ban <player-id> <reason>",
		Short: "Ban a player, replacing any earlier ban",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			return a.Commands.BanPlayer(cmd.Context(), args[0], args[1])
		},
	}
}

func newBannedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "banned <player-id>",
		Short: "Show whether a player is banned and why",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			status := banStatus{}
			status.Banned, err = a.Commands.IsPlayerBanned(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if status.Banned {
				status.Reason, err = a.Commands.GetBanReason(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			}
			NewOutput(c.output, c.out).Print(status)
			return nil
		},
	}
}

func newLocalIPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "local-ip",
		Short: "Print the address LAN peers can reach this machine on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			ip, err := a.Commands.GetLocalIP(cmd.Context())
			if err != nil {
				return err
			}
			NewOutput(c.output, c.out).Value("ip", ip)
			return nil
		},
	}
}

func newUpdateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for, download and install updates",
	}

	var currentVersion string
	check := &cobra.Command{
		Use:   "check",
		Short: "Ask the release server for the latest version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			if currentVersion == "" {
				currentVersion = a.Commands.GetCurrentVersion(cmd.Context())
			}
			descriptor, err := a.Commands.CheckForUpdates(cmd.Context(), currentVersion)
			if err != nil {
				return err
			}
			NewOutput(c.output, c.out).Print(descriptor)
			return nil
		},
	}
	check.Flags().StringVar(&currentVersion, "current-version", "", "version to compare against (default: this build)")

	download := &cobra.Command{
		Use:   "download <version>",
		Short: "Stage the payload of a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			path, err := a.Commands.DownloadUpdate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			NewOutput(c.output, c.out).Value("path", path)
			return nil
		},
	}

	install := &cobra.Command{
		Use:   "install <path>",
		Short: "Back up saves and config, then hand a staged payload to the launcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			installed, err := a.Commands.InstallUpdate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			NewOutput(c.output, c.out).Value("installed", installed)
			return nil
		},
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "Show the update waiting for the launcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			payload, err := updates.ReadPending(a.Layout)
			if err != nil {
				return fmt.Errorf("failed to read pending update: %w", err)
			}
			NewOutput(c.output, c.out).Print(payload)
			return nil
		},
	}

	cmd.AddCommand(check, download, install, pending)
	return cmd
}

func newBackupCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create or restore the backup of saves and config",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Replace the backup with a fresh copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			set, err := a.Backups.Create(cmd.Context())
			if err != nil {
				return err
			}
			NewOutput(c.output, c.out).Print(set)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore",
		Short: "Copy the backup back over saves and config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			set, err := a.Backups.Restore(cmd.Context())
			if err != nil {
				return err
			}
			NewOutput(c.output, c.out).Print(set)
			return nil
		},
	})
	return cmd
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of this build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			NewOutput(c.output, c.out).Value("version", version.Get())
			return nil
		},
	}
}
