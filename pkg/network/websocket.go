package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/messages"
	"github.com/whatislife/savekeeper/pkg/workers"
)

// PeerStateHandler accepts websocket connections from LAN peers and
// forwards every peer state they send to the intake worker.
type PeerStateHandler struct {
	peerStateChan  chan<- workers.PeerStateRequest
	originPatterns []string
}

type NewPeerStateHandlerOptions struct {
	PeerStateChan chan<- workers.PeerStateRequest
	// OriginPatterns are extra browser origins accepted besides the
	// request's own host. Clients that send no Origin header are always
	// accepted.
	OriginPatterns []string
}

func NewPeerStateHandler(opts NewPeerStateHandlerOptions) *PeerStateHandler {
	return &PeerStateHandler{
		peerStateChan:  opts.PeerStateChan,
		originPatterns: opts.OriginPatterns,
	}
}

func (h *PeerStateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Error("Failed to upgrade to WebSocket: %v", err)
		return
	}
	conn.SetReadLimit(messages.MessageBufferSize)
	log.Debug("New LAN peer connection from %s", r.RemoteAddr)

	h.handleWSConnection(r.Context(), r.RemoteAddr, conn)
}

// handleWSConnection reads until the peer goes away. Peer states that cannot
// be decoded are logged and skipped without closing the connection.
func (h *PeerStateHandler) handleWSConnection(ctx context.Context, remoteAddr string, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		peerState, err := ReadPeerStateFromWS(ctx, conn)
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				log.Warn("Dropping message from %s: %v", remoteAddr, err)
				continue
			}
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				log.Error("Error reading WebSocket message from %s: %v", remoteAddr, err)
			}
			log.Trace("Connection closed for %s", remoteAddr)
			return
		}

		req := workers.PeerStateRequest{RemoteAddr: remoteAddr, PeerState: peerState}
		select {
		case h.peerStateChan <- req:
		default:
			log.Warn("Peer state queue is full, dropping state of player %s from %s", peerState.PlayerID, remoteAddr)
		}
	}
}

// DecodeError is a message that arrived intact but is not a peer state.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to deserialize peer state: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// WritePeerStateToWS writes a PeerState to a WebSocket connection
func WritePeerStateToWS(ctx context.Context, conn *websocket.Conn, peerState *messages.PeerState) error {
	b, err := messages.SerializePeerState(peerState)
	if err != nil {
		return fmt.Errorf("failed to serialize peer state: %v", err)
	}

	if err := conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %w", err)
	}

	return nil
}

// ReadPeerStateFromWS reads a PeerState from a WebSocket connection
func ReadPeerStateFromWS(ctx context.Context, conn *websocket.Conn) (*messages.PeerState, error) {
	typ, b, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageBinary {
		return nil, &DecodeError{Err: fmt.Errorf("unexpected message type %v", typ)}
	}

	peerState, err := messages.DeserializePeerState(b)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	return peerState, nil
}
