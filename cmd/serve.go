package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve lookups, cache and budget over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(env, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

type lookupRequest struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	URN            string `json:"urn"`
	LocalAuthority string `json:"local_authority"`
	Force          bool   `json:"force"`
}

// newRouter builds the HTTP API over env. Lookups run synchronously on the
// request context.
func newRouter(env *appEnv, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/lookup", func(w http.ResponseWriter, req *http.Request) {
		var body lookupRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(body.Name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}

		rec := resolveRecord(env.Directory, model.TargetRecord{
			Name:           strings.TrimSpace(body.Name),
			URL:            body.URL,
			URN:            body.URN,
			LocalAuthority: body.LocalAuthority,
			ForceRefresh:   body.Force,
		})

		started := time.Now()
		res := env.Pipeline.Run(req.Context(), rec)
		recordRun(req.Context(), env, "lookup", rec.Name, started, []*model.EnrichmentResult{res})
		zap.L().Info("api lookup complete",
			zap.String("request_id", middleware.GetReqID(req.Context())),
			zap.String("school", rec.Name),
			zap.String("status", string(res.Status)),
		)
		writeJSON(w, http.StatusOK, res)
	})

	r.Get("/cache/stats", func(w http.ResponseWriter, req *http.Request) {
		st, err := env.Cache.Stats(req.Context())
		if err != nil {
			zap.L().Error("cache stats", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "cache unavailable")
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Delete("/cache", func(w http.ResponseWriter, req *http.Request) {
		var (
			n   int
			err error
		)
		expired := req.URL.Query().Get("expired") == "true"
		if expired {
			n, err = env.Cache.Purge(req.Context())
		} else {
			n, err = env.Cache.Clear(req.Context())
		}
		if err != nil {
			zap.L().Error("cache clear", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "cache unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": n, "expired_only": expired})
	})

	r.Get("/budget", func(w http.ResponseWriter, _ *http.Request) {
		env.Ledger.RollOver(time.Now())
		writeJSON(w, http.StatusOK, budgetBody(env.Ledger.Snapshot()))
	})

	r.Post("/budget/reset", func(w http.ResponseWriter, req *http.Request) {
		before := env.Ledger.Snapshot()
		env.Ledger.Reset()
		if err := env.Store.SaveBudget(req.Context(), env.Ledger.Snapshot()); err != nil {
			zap.L().Error("save budget after reset", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "budget not saved")
			return
		}
		zap.L().Info("budget reset", zap.Float64("previous_spent_usd", before.SpentUSD))
		writeJSON(w, http.StatusOK, budgetBody(env.Ledger.Snapshot()))
	})

	return r
}

func budgetBody(st model.BudgetState) map[string]any {
	return map[string]any{
		"ceiling_usd":   st.CeilingUSD,
		"spent_usd":     st.SpentUSD,
		"reserved_usd":  st.ReservedUSD,
		"remaining_usd": st.RemainingUSD(),
		"overrun_usd":   st.OverrunUSD,
		"period_start":  st.PeriodStart,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default server.port)")
	rootCmd.AddCommand(serveCmd)
}
