package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/engine"
	"github.com/sells-group/enrich-cli/internal/metrics"
	"github.com/sells-group/enrich-cli/internal/provider"
)

// signatureHeader carries the provider's hex HMAC-SHA256 of the request body.
const signatureHeader = "X-Enrichment-Signature"

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and dashboard server",
	Long:  "Serves the provider completion webhook, a health endpoint, and the dashboard metrics endpoint.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		eng := initEngine(st)
		agg := metrics.NewAggregator(st)

		// Jobs dispatched by a process that has since exited are waiting on
		// webhooks with no timer armed. Recover them now and keep sweeping
		// so the timeout escalation survives restarts.
		if _, err := eng.RecoverEscalations(ctx); err != nil {
			return err
		}
		go sweepEscalations(ctx, eng, escalationSweepInterval(cfg.Provider.CallbackWaitSecs))

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type", signatureHeader},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/webhook/enrichment", func(w http.ResponseWriter, req *http.Request) {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				http.Error(w, `{"error":"read body"}`, http.StatusBadRequest)
				return
			}

			sig := req.Header.Get(signatureHeader)
			if !provider.VerifySignature(cfg.Provider.WebhookSecret, body, sig) {
				zap.L().Warn("webhook signature rejected",
					zap.String("remote", req.RemoteAddr),
				)
				http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
				return
			}

			var event provider.WebhookEvent
			if err := json.Unmarshal(body, &event); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
			if event.Handle == "" {
				http.Error(w, `{"error":"handle is required"}`, http.StatusBadRequest)
				return
			}

			if err := eng.HandleProviderEvent(req.Context(), &event); err != nil {
				zap.L().Error("webhook processing failed",
					zap.String("handle", event.Handle),
					zap.Error(err),
				)
				http.Error(w, `{"error":"processing failed"}`, http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]string{
				"status": "accepted",
				"handle": event.Handle,
			})
		})

		r.Get("/metrics/dashboard", func(w http.ResponseWriter, req *http.Request) {
			snapshot, err := agg.Collect(req.Context(), req.URL.Query().Get("org"))
			if err != nil {
				zap.L().Error("dashboard metrics failed", zap.Error(err))
				http.Error(w, `{"error":"metrics unavailable"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, snapshot)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go drainOnShutdown(ctx, srv, 15*time.Second)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// drainOnShutdown shuts the server down once ctx is cancelled, using a fresh
// deadline so in-flight requests get to finish after the signal context dies.
func drainOnShutdown(ctx context.Context, srv *http.Server, timeout time.Duration) {
	<-ctx.Done()
	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	srv.Shutdown(shutdownCtx) //nolint:errcheck
}

// sweepEscalations periodically re-arms webhook-wait timeouts for running
// jobs, catching dispatches made by other processes while this server is up.
func sweepEscalations(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := eng.RecoverEscalations(ctx); err != nil {
				zap.L().Warn("escalation sweep failed", zap.Error(err))
			}
		}
	}
}

func escalationSweepInterval(callbackWaitSecs int) time.Duration {
	interval := time.Duration(callbackWaitSecs) * time.Second / 2
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	return interval
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
