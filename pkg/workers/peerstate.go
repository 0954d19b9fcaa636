package workers

import (
	"context"
	"fmt"

	"github.com/whatislife/savekeeper/pkg/anticheat"
	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/messages"
	"github.com/whatislife/savekeeper/pkg/repositories"
)

// CheatingReasonPrefix starts the reason of every automatic ban.
const CheatingReasonPrefix = "Cheating detected: "

type BanRegistry interface {
	Ban(ctx context.Context, playerID string, reason string) error
	IsBanned(ctx context.Context, playerID string) (bool, error)
}

type StateChecker interface {
	Check(doc []byte) (anticheat.Verdict, error)
}

type PeerStateRequest struct {
	RemoteAddr string
	PeerState  *messages.PeerState
}

type Outcome int

const (
	// OutcomeSaved means the state was plausible and stored as the player's save.
	OutcomeSaved Outcome = iota
	// OutcomeDropped means the player is banned and the state was ignored.
	OutcomeDropped
	// OutcomeRejected means the state was implausible and not stored.
	OutcomeRejected
	// OutcomeBanned is OutcomeRejected plus a new ban of the player.
	OutcomeBanned
	// OutcomeInvalid means the state could not be read.
	OutcomeInvalid
	// OutcomeFailed means a storage error interrupted processing.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeDropped:
		return "dropped"
	case OutcomeRejected:
		return "rejected"
	case OutcomeBanned:
		return "banned"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type PeerStateWorker struct {
	repository    repositories.SaveRepository
	bans          BanRegistry
	checker       StateChecker
	autoBan       bool
	peerStateChan <-chan PeerStateRequest
	onOutcome     func(PeerStateRequest, Outcome)
}

type NewPeerStateWorkerOptions struct {
	Repository    repositories.SaveRepository
	Bans          BanRegistry
	Checker       StateChecker
	AutoBan       bool
	PeerStateChan <-chan PeerStateRequest
	// OnOutcome is called after each request is processed.
	OnOutcome func(PeerStateRequest, Outcome)
}

// NewPeerStateWorker creates a new PeerStateWorker.
// The worker processes game states broadcast by LAN peers. Only plausible
// states of players that are not banned replace the player's save. With
// AutoBan set, an implausible state also bans its player.
func NewPeerStateWorker(opts NewPeerStateWorkerOptions) *PeerStateWorker {
	return &PeerStateWorker{
		repository:    opts.Repository,
		bans:          opts.Bans,
		checker:       opts.Checker,
		autoBan:       opts.AutoBan,
		peerStateChan: opts.PeerStateChan,
		onOutcome:     opts.OnOutcome,
	}
}

func (w *PeerStateWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.peerStateChan:
			outcome := w.Handle(ctx, req)
			if w.onOutcome != nil {
				w.onOutcome(req, outcome)
			}
		}
	}
}

// Handle processes a single request.
func (w *PeerStateWorker) Handle(ctx context.Context, req PeerStateRequest) Outcome {
	playerID := req.PeerState.PlayerID

	banned, err := w.bans.IsBanned(ctx, playerID)
	if err != nil {
		log.Error("Failed to check ban of player %s from %s: %v", playerID, req.RemoteAddr, err)
		return OutcomeFailed
	}
	if banned {
		log.Debug("Dropping state of banned player %s from %s", playerID, req.RemoteAddr)
		return OutcomeDropped
	}

	verdict, err := w.checker.Check(req.PeerState.State)
	if err != nil {
		log.Warn("Unreadable state of player %s from %s: %v", playerID, req.RemoteAddr, err)
		return OutcomeInvalid
	}
	if !verdict.Valid {
		if !w.autoBan {
			log.Warn("Rejected state of player %s from %s: %s", playerID, req.RemoteAddr, verdict.Violation)
			return OutcomeRejected
		}
		if err := w.bans.Ban(ctx, playerID, CheatingReasonPrefix+verdict.Violation); err != nil {
			log.Error("Failed to ban player %s: %v", playerID, err)
			return OutcomeFailed
		}
		log.Warn("Banned player %s from %s: %s", playerID, req.RemoteAddr, verdict.Violation)
		return OutcomeBanned
	}

	if err := w.repository.SaveGame(ctx, playerID, string(req.PeerState.State)); err != nil {
		log.Error("Failed to save state of player %s: %v", playerID, err)
		return OutcomeFailed
	}
	log.Trace("Saved state of player %s from %s", playerID, req.RemoteAddr)
	return OutcomeSaved
}
