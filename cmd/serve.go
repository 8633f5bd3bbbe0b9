package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/formworks/profile-cli/internal/extractfile"
	"github.com/formworks/profile-cli/internal/review"
	"github.com/formworks/profile-cli/internal/suggest"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(a, cfg.Server.SuggestRatePerSec),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(a *app, suggestRatePerSec float64) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.metrics.Snapshot())
	})

	r.Route("/entities/{entityID}", func(r chi.Router) {
		r.Post("/documents", a.handleIngest)
		r.Get("/profile", a.handleProfile)
		r.Get("/review", a.handleReviewList)
		r.Post("/review/confirm-all", a.handleReviewConfirmAll)
		r.Post("/review/{field}", a.handleReviewDecision)
		r.Delete("/", a.handleDeleteEntity)

		if suggestRatePerSec > 0 {
			limiter := rate.NewLimiter(rate.Limit(suggestRatePerSec), int(suggestRatePerSec)+1)
			r.With(throttle(limiter)).Get("/suggestions", a.handleSuggestions)
		} else {
			r.Get("/suggestions", a.handleSuggestions)
		}
		r.Post("/suggestions/accept", a.handleSuggestionAccept)
	})

	return r
}

// throttle rejects requests beyond the limiter's rate with 429 rather than
// queueing them.
func throttle(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, eris.New("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *app) handleIngest(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	var payload extractfile.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}

	result, err := a.aggregator.Ingest(r.Context(), entityID, payload.Document, payload.Fields)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *app) handleProfile(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	if r.URL.Query().Get("resolved_only") != "" {
		state, err := a.aggregator.State(r.Context(), entityID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, resolvedView(state))
		return
	}

	profile, err := a.aggregator.Profile(r.Context(), entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *app) handleReviewList(w http.ResponseWriter, r *http.Request) {
	state, err := a.aggregator.State(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, state.Items)
}

// reviewDecision is the request body for a review decision.
type reviewDecision struct {
	// Action is one of select, custom, confirm, edit.
	Action string `json:"action"`
	Index  int    `json:"index"`
	Value  string `json:"value"`
}

func (a *app) handleReviewDecision(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	field := chi.URLParam(r, "field")

	var req reviewDecision
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}

	s := review.NewSession(a.aggregator, entityID)
	if err := s.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var err error
	switch req.Action {
	case "select":
		err = s.SelectCandidate(r.Context(), field, req.Index)
	case "custom":
		err = s.SetCustomValue(r.Context(), field, req.Value)
	case "confirm":
		err = s.ConfirmField(r.Context(), field)
	case "edit":
		err = s.EditField(r.Context(), field, req.Value)
	default:
		writeError(w, http.StatusBadRequest, eris.Errorf("unknown action %q", req.Action))
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     string(s.Status()),
		"open_items": len(s.OpenItems()),
	})
}

// handleReviewConfirmAll finishes an entity's review. It rejects with 422
// while items remain open; every item needs its own decision first.
func (a *app) handleReviewConfirmAll(w http.ResponseWriter, r *http.Request) {
	s := review.NewSession(a.aggregator, chi.URLParam(r, "entityID"))
	if err := s.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.ConfirmAll(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": string(s.Status())})
}

func (a *app) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	results := a.engine.Suggest(r.Context(), suggest.Query{
		EntityID:   chi.URLParam(r, "entityID"),
		FieldLabel: q.Get("field"),
		TypeHint:   q.Get("type"),
		Input:      q.Get("input"),
		Limit:      limit,
	})
	if results == nil {
		results = []suggest.Suggestion{}
	}
	writeJSON(w, http.StatusOK, results)
}

// handleSuggestionAccept records a suggestion pick from the autocomplete UI
// as a user confirmation for the field.
func (a *app) handleSuggestionAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, eris.New("field is required"))
		return
	}

	entityID := chi.URLParam(r, "entityID")
	if err := review.AcceptSuggestion(r.Context(), a.aggregator, entityID, req.Field, req.Value); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	state, err := a.aggregator.State(r.Context(), entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"open_items": state.OpenCount()})
}

func (a *app) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	if err := a.aggregator.DeleteEntity(r.Context(), chi.URLParam(r, "entityID")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("writing response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
