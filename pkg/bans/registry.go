package bans

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tidwall/gjson"

	"github.com/whatislife/savekeeper/pkg/apperr"
	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/paths"
	"github.com/whatislife/savekeeper/pkg/repositories/models"
)

// NoReasonSpecified is returned for a ban record without a readable reason.
const NoReasonSpecified = "No reason specified"

// Registry stores bans as <app-data>/bans/<player_id>.ban JSON files.
// Only the latest ban of a player is kept, and nothing here removes one.
type Registry struct {
	layout *paths.Layout
	now    func() time.Time
}

func NewRegistry(layout *paths.Layout) *Registry {
	return &Registry{
		layout: layout,
		now:    time.Now,
	}
}

// Ban writes the ban record of playerID, replacing any previous one.
func (r *Registry) Ban(ctx context.Context, playerID string, reason string) error {
	const op = "bans.ban"

	banFile, err := r.layout.BanFile(playerID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.layout.BansDir(), 0o755); err != nil {
		return apperr.Errorf(apperr.KindIO, op, "failed to create bans directory: %w", err)
	}

	record := models.BanRecord{
		PlayerID: playerID,
		BannedAt: r.now().Unix(),
		Reason:   reason,
	}
	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return apperr.Errorf(apperr.KindIO, op, "failed to serialize ban data: %w", err)
	}

	if err := atomic.WriteFile(banFile, bytes.NewReader(b)); err != nil {
		return apperr.Errorf(apperr.KindIO, op, "failed to write ban file: %w", err)
	}

	log.Info("Banned player %s: %s", playerID, reason)
	return nil
}

// IsBanned reports whether a ban record exists. The record is not read.
func (r *Registry) IsBanned(ctx context.Context, playerID string) (bool, error) {
	banFile, err := r.layout.BanFile(playerID)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(banFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, apperr.Errorf(apperr.KindIO, "bans.is_banned", "failed to stat ban file: %w", err)
	}
	return true, nil
}

// GetBanReason returns the stored reason, "" when the player is not banned,
// or NoReasonSpecified when the record has no string reason.
func (r *Registry) GetBanReason(ctx context.Context, playerID string) (string, error) {
	content, err := r.read(playerID, "bans.get_reason")
	if err != nil || content == nil {
		return "", err
	}

	reason := gjson.GetBytes(content, "reason")
	if reason.Type != gjson.String {
		return NoReasonSpecified, nil
	}
	return reason.Str, nil
}

// GetBan returns the full ban record, or nil when the player is not banned.
func (r *Registry) GetBan(ctx context.Context, playerID string) (*models.BanRecord, error) {
	content, err := r.read(playerID, "bans.get")
	if err != nil || content == nil {
		return nil, err
	}

	record := &models.BanRecord{
		PlayerID: playerID,
		BannedAt: gjson.GetBytes(content, "banned_at").Int(),
		Reason:   NoReasonSpecified,
	}
	if reason := gjson.GetBytes(content, "reason"); reason.Type == gjson.String {
		record.Reason = reason.Str
	}
	return record, nil
}

// read returns the raw ban file, nil if there is none, or an error if the
// file cannot be read or is not a JSON object.
func (r *Registry) read(playerID string, op string) ([]byte, error) {
	banFile, err := r.layout.BanFile(playerID)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(banFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.Errorf(apperr.KindIO, op, "failed to read ban file: %w", err)
	}

	if !gjson.ValidBytes(content) || !gjson.ParseBytes(content).IsObject() {
		return nil, apperr.Errorf(apperr.KindMalformedInput, op, "failed to parse ban file %s", banFile)
	}
	return content, nil
}
