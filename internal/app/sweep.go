package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/evmotors/dms/internal/platform/httpx"
	"github.com/evmotors/dms/internal/shared"
	"github.com/evmotors/dms/jobs"
)

// sweepHandler runs one expiry sweep pass. Staff only; the worker runs the
// same pass on a cron schedule. With ?async=true the pass is enqueued on the
// job queue instead of running inline.
func sweepHandler(logger *slog.Logger, sweeper *jobs.Sweeper, client *jobs.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := shared.ActorFromContext(r.Context())
		if !ok || !actor.IsStaff() {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "sweep requires staff role")
			return
		}
		if r.URL.Query().Get("async") == "true" && client != nil {
			info, err := client.EnqueueExpirySweep(r.Context(), time.Now().UTC())
			if err != nil {
				logger.Error("enqueue sweep", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": info.ID, "queue": info.Queue})
			return
		}
		res, err := sweeper.RunExpirySweep(r.Context(), time.Now().UTC())
		if err != nil {
			logger.Error("manual sweep", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, res)
	}
}
