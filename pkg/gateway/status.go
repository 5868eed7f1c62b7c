package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

const healthProbeTimeout = 2 * time.Second

// statusHandler exposes the diagnostics-only HTTP surface: liveness plus a
// snapshot of registry state. It accepts no tool traffic.
func (s *Server) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.StatusAllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type probe struct {
		name string
		err  error
	}
	probes := make([]probe, len(s.backends))
	g := new(errgroup.Group)
	for i, client := range s.backends {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
			defer cancel()
			probes[i] = probe{name: client.Name(), err: client.Healthy(ctx)}
			return nil
		})
	}
	_ = g.Wait()

	backends := make(map[string]string, len(probes))
	for _, p := range probes {
		if p.err != nil {
			backends[p.name] = p.err.Error()
			continue
		}
		backends[p.name] = "ok"
	}
	writeJSON(w, map[string]any{"status": "ok", "backends": backends})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.backends))
	for _, client := range s.backends {
		names = append(names, client.Name())
	}
	writeJSON(w, map[string]any{
		"registry": s.registry.State().String(),
		"tools":    s.registry.Names(),
		"backends": names,
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// serveStatus runs the status listener until ctx is cancelled. The returned
// channel closes once the listener has shut down.
func (s *Server) serveStatus(ctx context.Context) <-chan struct{} {
	srv := &http.Server{Addr: s.opts.StatusAddr, Handler: s.statusHandler()}
	done := make(chan struct{})
	go func() {
		s.logger.Info("status listener started", "addr", s.opts.StatusAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status listener failed", "error", err)
		}
	}()
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.DrainTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return done
}
