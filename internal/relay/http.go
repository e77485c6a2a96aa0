package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/nupi-ai/kuksa/internal/constants"
	"github.com/nupi-ai/kuksa/internal/observability"
)

type healthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Target    string `json:"target,omitempty"`
	Clients   int    `json:"clients"`
}

// Handler routes the websocket endpoint, a health probe and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscribe", s.HandleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.Handler())
	return mux
}

// handleHealth answers 503 while the engine has no live connection.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Clients: s.ClientCount()}
	status := http.StatusOK
	if conn := s.engine.Connection(); conn != nil {
		resp.Connected = true
		resp.Target = conn.Target()
	} else {
		resp.Status = "disconnected"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Serve runs the relay on ln until ctx is cancelled, then closes every
// client and shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: constants.RelayReadHeader,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info().Str("listen", ln.Addr().String()).Msg("relay listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.CloseClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.RelayShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
