// Package commands is the command surface of savekeeper. Every transport
// (the HTTP API, the CLI, the LAN intake worker) goes through a Service so
// that the same rules apply whichever way a command arrives.
package commands

import (
	"context"

	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/netinfo"
	"github.com/whatislife/savekeeper/pkg/repositories"
	"github.com/whatislife/savekeeper/pkg/updates"
	"github.com/whatislife/savekeeper/pkg/version"
)

type BanRegistry interface {
	Ban(ctx context.Context, playerID string, reason string) error
	IsBanned(ctx context.Context, playerID string) (bool, error)
	GetBanReason(ctx context.Context, playerID string) (string, error)
}

type StateValidator interface {
	Validate(doc []byte) (bool, error)
}

type Updater interface {
	CheckForUpdate(ctx context.Context, currentVersion string) (*updates.Descriptor, error)
	Download(ctx context.Context, version string) (string, error)
	Install(ctx context.Context, path string) (bool, error)
}

type Service struct {
	repository repositories.SaveRepository
	bans       BanRegistry
	validator  StateValidator
	updater    Updater
	localIP    func() (string, error)
}

type NewServiceOptions struct {
	Repository repositories.SaveRepository
	Bans       BanRegistry
	Validator  StateValidator
	Updater    Updater
	// LocalIP defaults to netinfo.LocalIP.
	LocalIP func() (string, error)
}

func NewService(opts NewServiceOptions) *Service {
	localIP := opts.LocalIP
	if localIP == nil {
		localIP = netinfo.LocalIP
	}
	return &Service{
		repository: opts.Repository,
		bans:       opts.Bans,
		validator:  opts.Validator,
		updater:    opts.Updater,
		localIP:    localIP,
	}
}

func (s *Service) SaveGame(ctx context.Context, data string, playerID string) error {
	if err := s.repository.SaveGame(ctx, playerID, data); err != nil {
		log.Error("Failed to save game for player %s: %v", playerID, err)
		return err
	}
	return nil
}

// LoadGame returns the empty string when the player has no save.
func (s *Service) LoadGame(ctx context.Context, playerID string) (string, error) {
	data, err := s.repository.LoadGame(ctx, playerID)
	if err != nil {
		log.Error("Failed to load game for player %s: %v", playerID, err)
		return "", err
	}
	return data, nil
}

// ValidateGameState runs the plausibility gate over gameStateJSON. The
// player id is only used for logging.
func (s *Service) ValidateGameState(ctx context.Context, playerID string, gameStateJSON string) (bool, error) {
	valid, err := s.validator.Validate([]byte(gameStateJSON))
	if err != nil {
		log.Warn("Unreadable game state from player %s: %v", playerID, err)
		return false, err
	}
	if !valid {
		log.Warn("Implausible game state from player %s", playerID)
	}
	return valid, nil
}

func (s *Service) BanPlayer(ctx context.Context, playerID string, reason string) error {
	return s.bans.Ban(ctx, playerID, reason)
}

func (s *Service) IsPlayerBanned(ctx context.Context, playerID string) (bool, error) {
	return s.bans.IsBanned(ctx, playerID)
}

func (s *Service) GetBanReason(ctx context.Context, playerID string) (string, error) {
	return s.bans.GetBanReason(ctx, playerID)
}

func (s *Service) GetLocalIP(ctx context.Context) (string, error) {
	ip, err := s.localIP()
	if err != nil {
		log.Error("Failed to get local IP: %v", err)
		return "", err
	}
	return ip, nil
}

func (s *Service) CheckForUpdates(ctx context.Context, currentVersion string) (*updates.Descriptor, error) {
	return s.updater.CheckForUpdate(ctx, currentVersion)
}

func (s *Service) DownloadUpdate(ctx context.Context, version string) (string, error) {
	return s.updater.Download(ctx, version)
}

func (s *Service) InstallUpdate(ctx context.Context, path string) (bool, error) {
	return s.updater.Install(ctx, path)
}

func (s *Service) GetCurrentVersion(ctx context.Context) string {
	return version.Get()
}
