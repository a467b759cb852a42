package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
)

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/nodes", func(w http.ResponseWriter, req *http.Request) {
			row, err := a.row(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			nodes, err := a.prov.Nodes(req.Context(), row)
			if err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			writeJSON(w, http.StatusOK, nodes)
		})
		r.Get("/nodes/{node}", func(w http.ResponseWriter, req *http.Request) {
			row, err := a.row(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			snap, err := a.prov.NodeStatistics(req.Context(), row, chi.URLParam(req, "node"))
			if err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})
		r.Get("/services", func(w http.ResponseWriter, req *http.Request) {
			recs, err := a.store.Services().List(req.Context(), req.URL.Query().Get("server"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			type entry struct {
				Name    string `json:"name"`
				Server  string `json:"server"`
				Package string `json:"package"`
				State   string `json:"state"`
				VMID    int    `json:"vmid"`
				IP      string `json:"ip"`
			}
			out := make([]entry, 0, len(recs))
			for _, rec := range recs {
				out = append(out, entry{
					Name:    rec.Name,
					Server:  rec.Server,
					Package: rec.Package,
					State:   rec.Service.State.String(),
					VMID:    rec.Service.VMID,
					IP:      rec.Service.IP,
				})
			}
			writeJSON(w, http.StatusOK, out)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	var e *provider.Error
	if errors.As(err, &e) {
		body = map[string]string{"error": e.Message, "key": e.Key}
	}
	writeJSON(w, status, body)
}

func newServeCmd(get func() *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and read-only inventory over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:              addr,
				Handler:           newRouter(a),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("serving", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
