// Package app assembles the savekeeper components from a Config. Both
// binaries build their command surface through Open.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/whatislife/savekeeper/pkg/anticheat"
	"github.com/whatislife/savekeeper/pkg/backup"
	"github.com/whatislife/savekeeper/pkg/bans"
	"github.com/whatislife/savekeeper/pkg/commands"
	"github.com/whatislife/savekeeper/pkg/config"
	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/paths"
	"github.com/whatislife/savekeeper/pkg/repositories"
	"github.com/whatislife/savekeeper/pkg/updates"
	"github.com/whatislife/savekeeper/pkg/version"
)

// AppName names the per-user data directory when no directory is configured.
const AppName = "savekeeper"

type App struct {
	Layout     *paths.Layout
	Settings   *config.Settings
	Repository repositories.SaveRepository
	Bans       *bans.Registry
	Validator  *anticheat.Validator
	Backups    *backup.Manager
	Updates    *updates.Manager
	Commands   *commands.Service

	now func() time.Time
}

// Open builds every component. The caller must Close the App.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	var resolver paths.Resolver = paths.UserResolver{AppName: AppName}
	if cfg.AppDataDir != "" {
		resolver = paths.StaticResolver(cfg.AppDataDir)
	}
	layout, err := paths.NewLayout(resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve app data directory: %w", err)
	}

	settings, err := config.LoadSettingsOrDefault(config.SettingsPath(layout))
	if errors.Is(err, config.ErrDefaultSettingsGenerated) {
		log.Info("Wrote default settings to %s", config.SettingsPath(layout))
	} else if err != nil {
		return nil, err
	}
	comparison, err := settings.Comparison()
	if err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	repository, err := repositories.Open(ctx, cfg.DatabaseURL, layout)
	if err != nil {
		return nil, fmt.Errorf("failed to open save repository: %w", err)
	}

	banRegistry := bans.NewRegistry(layout)
	validator := anticheat.NewValidator(anticheat.DefaultRules())
	backups := backup.NewManager(layout)
	updateManager := updates.NewManager(updates.NewManagerOptions{
		Layout:     layout,
		Source:     updates.NewGitHubReleaseSource(updates.NewGitHubReleaseSourceOptions{BaseURL: cfg.ReleasesURL}),
		Backups:    backups,
		Comparison: comparison,
	})

	return &App{
		Layout:     layout,
		Settings:   settings,
		Repository: repository,
		Bans:       banRegistry,
		Validator:  validator,
		Backups:    backups,
		Updates:    updateManager,
		Commands: commands.NewService(commands.NewServiceOptions{
			Repository: repository,
			Bans:       banRegistry,
			Validator:  validator,
			Updater:    updateManager,
		}),
		now: time.Now,
	}, nil
}

func (a *App) Close(ctx context.Context) error {
	return a.Repository.Close(ctx)
}

// CheckForUpdatesIfDue runs the automatic update check when the settings
// policy says one is due, and records the attempt in the settings file.
// It returns nil, nil when no check was due.
func (a *App) CheckForUpdatesIfDue(ctx context.Context) (*updates.Descriptor, error) {
	now := a.now()
	if !a.Settings.Policy().Due(now) {
		log.Debug("Automatic update check not due")
		return nil, nil
	}

	descriptor, checkErr := a.Commands.CheckForUpdates(ctx, version.Get())

	a.Settings.Updates.LastCheck = now.UTC()
	if err := config.SaveSettings(config.SettingsPath(a.Layout), a.Settings); err != nil {
		log.Error("Failed to record update check: %v", err)
	}

	if checkErr != nil {
		return nil, checkErr
	}
	return descriptor, nil
}
