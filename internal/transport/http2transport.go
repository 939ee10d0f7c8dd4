package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/wisbric/scriptrt/pkg/master"
)

// HTTP2Server fronts a Master as a stateless JSON-over-HTTP/2 RPC surface:
// one POST per Request, served over h2c (HTTP/2 without TLS) so a
// collaborator's worker process can dial it with a plain *http.Client
// configured for prior-knowledge h2c.
type HTTP2Server struct {
	master *master.Master
	logger *slog.Logger
}

// NewHTTP2Server creates an HTTP/2 RPC front end for m.
func NewHTTP2Server(m *master.Master, logger *slog.Logger) *HTTP2Server {
	return &HTTP2Server{master: m, logger: logger}
}

// Handler wraps the RPC endpoint in an h2c handler, so it can be served by
// a plain http.Server without TLS (the typical deployment: a cluster-internal
// collaborator sits behind its own ingress termination).
func (s *HTTP2Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	return h2c.NewHandler(mux, &http2.Server{})
}

func (s *HTTP2Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	resp := handle(r.Context(), s.master, req)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("transport: encoding http2 rpc response", "error", err)
	}
}
