package jobs

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/timebank/timebank-api/internal/middleware"
	"github.com/timebank/timebank-api/internal/pkg/errorhandler"
	"github.com/timebank/timebank-api/internal/pkg/response"
)

// Handler exposes job runs to an external scheduler.
type Handler struct {
	runner *Runner
}

// NewHandler creates a job trigger handler
func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

// Run handles POST /cron/{job}. With ?async=true the job is handed to a worker and 202 is returned.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")

	if r.URL.Query().Get("async") == "true" {
		if err := h.runner.Trigger(r.Context(), name); err != nil {
			errorhandler.Handle(r.Context(), w, err)
			return
		}
		response.JSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "triggered"})
		return
	}

	summary, err := h.runner.Run(r.Context(), name)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.OK(w, map[string]any{"job": name, "summary": summary})
}

// Routes returns the job router, guarded by the cron secret.
func (h *Handler) Routes(secret string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.CronSecret(secret))
	r.Post("/{job}", h.Run)
	return r
}
