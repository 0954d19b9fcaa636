package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/whatislife/savekeeper/pkg/api/handlers"
	"github.com/whatislife/savekeeper/pkg/api/middleware"
	"github.com/whatislife/savekeeper/pkg/log"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Host     string
	Port     int
	TLS      *TLSConfig
	Commands handlers.Commands
	// APIToken, when set, is required as a bearer token on every route.
	APIToken string
	// PeerStates serves the LAN intake websocket. Nil leaves the route out.
	PeerStates http.Handler
}

// NewAPIServer creates a new http.Server for handling API requests.
// An empty Host listens on loopback only.
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:    listenAddr(opts.Host, opts.Port),
		Handler: NewRouter(opts),
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

func listenAddr(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// NewRouter builds the routes of the API.
func NewRouter(opts NewAPIServerOptions) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.NewLoggingMiddleware())
	r.Use(middleware.NewTokenMiddleware(opts.APIToken))

	players := r.PathPrefix("/players/{playerID}").Subrouter()
	players.HandleFunc("/save", handlers.HandleSaveGame(opts.Commands)).Methods(http.MethodPut)
	players.HandleFunc("/save", handlers.HandleLoadGame(opts.Commands)).Methods(http.MethodGet)
	players.HandleFunc("/validate", handlers.HandleValidateGameState(opts.Commands)).Methods(http.MethodPost)
	players.HandleFunc("/ban", handlers.HandleBanPlayer(opts.Commands)).Methods(http.MethodPut)
	players.HandleFunc("/ban", handlers.HandleGetBan(opts.Commands)).Methods(http.MethodGet)

	r.HandleFunc("/network/local-ip", handlers.HandleGetLocalIP(opts.Commands)).Methods(http.MethodGet)
	r.HandleFunc("/updates", handlers.HandleCheckForUpdates(opts.Commands)).Methods(http.MethodGet)
	r.HandleFunc("/updates/install", handlers.HandleInstallUpdate(opts.Commands)).Methods(http.MethodPost)
	r.HandleFunc("/updates/{version}/download", handlers.HandleDownloadUpdate(opts.Commands)).Methods(http.MethodPost)
	r.HandleFunc("/version", handlers.HandleGetVersion(opts.Commands)).Methods(http.MethodGet)

	if opts.PeerStates != nil {
		r.Handle("/lan/peer-states", opts.PeerStates).Methods(http.MethodGet)
	}
	return r
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
