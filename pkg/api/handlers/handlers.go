package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whatislife/savekeeper/pkg/api/middleware"
	"github.com/whatislife/savekeeper/pkg/apperr"
	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/updates"
)

// MaxBodyBytes bounds save payloads and game state documents.
const MaxBodyBytes = 16 << 20

// Commands is the part of commands.Service the API exposes.
type Commands interface {
	SaveGame(ctx context.Context, data string, playerID string) error
	LoadGame(ctx context.Context, playerID string) (string, error)
	ValidateGameState(ctx context.Context, playerID string, gameStateJSON string) (bool, error)
	BanPlayer(ctx context.Context, playerID string, reason string) error
	IsPlayerBanned(ctx context.Context, playerID string) (bool, error)
	GetBanReason(ctx context.Context, playerID string) (string, error)
	GetLocalIP(ctx context.Context) (string, error)
	CheckForUpdates(ctx context.Context, currentVersion string) (*updates.Descriptor, error)
	DownloadUpdate(ctx context.Context, version string) (string, error)
	InstallUpdate(ctx context.Context, path string) (bool, error)
	GetCurrentVersion(ctx context.Context) string
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SaveResponse struct {
	Data string `json:"data"`
}

type ValidateResponse struct {
	Valid bool `json:"valid"`
}

type BanRequest struct {
	Reason string `json:"reason"`
}

type BanResponse struct {
	Banned bool   `json:"banned"`
	Reason string `json:"reason"`
}

type LocalIPResponse struct {
	IP string `json:"ip"`
}

type DownloadResponse struct {
	Path string `json:"path"`
}

type InstallRequest struct {
	Path string `json:"path"`
}

type InstallResponse struct {
	Installed bool `json:"installed"`
}

type VersionResponse struct {
	Version string `json:"version"`
}

// StatusForError maps an error kind onto an HTTP status.
func StatusForError(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindMalformedInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindRemote:
		return http.StatusBadGateway
	case apperr.KindBackupPrecondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.RequestID(r.Context())
	resp := ErrorResponse{Error: err.Error(), RequestID: requestID}
	if kind := apperr.KindOf(err); kind != 0 {
		resp.Kind = kind.String()
	}
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request %s failed: %v", requestID, err)
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:     message,
		Kind:      apperr.KindMalformedInput.String(),
		RequestID: middleware.RequestID(r.Context()),
	})
}

func readBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		log.Error("failed to read request body: %v", err)
		badRequest(w, r, "Failed to read request body")
		return "", false
	}
	return string(b), true
}

func HandleSaveGame(commands Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := readBody(w, r)
		if !ok {
			return
		}
		if err := commands.SaveGame(r.Context(), data, mux.Vars(r)["playerID"]); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleLoadGame answers {"data": ""} when the player has no save.
func HandleLoadGame(commands Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := commands.LoadGame(r.Context(), mux.Vars(r)["playerID"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, SaveResponse{Data: data})
	}
}

func HandleValidateGameState(commands Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, ok := readBody(w, r)
		if !ok {
			return
		}
		valid, err := commands.ValidateGameState(r.Context(), mux.Vars(r)["playerID"], state)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: valid})
	}
}

func HandleBanPlayer(commands Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BanRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
			badRequest(w, r, "Failed to decode ban request")
			return
		}
		if err := commands.BanPlayer(r.Context(), mux.Vars(r)["playerID"], req.Reason); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleGetBan(commands Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := mux.Vars(r)["playerID"]
		banned, err := commands.IsPlayerBanned(r.Context(), playerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp := BanResponse{Banned: banned}
		if banned {
			resp.Reason, err = commands.GetBanReason(r.Context(), playerID)
			if err != nil {
				writeError(w, r, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func HandleGetLocalIP(commands Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, err := commands.GetLocalIP(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, LocalIPResponse{IP: ip})
	}
}

// HandleCheckForUpdates compares against ?current_version=, defaulting to
// the running build.
func HandleCheckForUpdates(commands Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current := r.URL.Query().Get("current_version")
		if current == "" {
			current = commands.GetCurrentVersion(r.Context())
		}
		descriptor, err := commands.CheckForUpdates(r.Context(), current)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, descriptor)
	}
}

func HandleDownloadUpdate(commands Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := commands.DownloadUpdate(r.Context(), mux.Vars(r)["version"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DownloadResponse{Path: path})
	}
}

func HandleInstallUpdate(commands Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InstallRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
			badRequest(w, r, "Failed to decode install request")
			return
		}
		installed, err := commands.InstallUpdate(r.Context(), req.Path)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, InstallResponse{Installed: installed})
	}
}

func HandleGetVersion(commands Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{Version: commands.GetCurrentVersion(r.Context())})
	}
}
