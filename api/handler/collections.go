package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/feedharvest/config"
	"github.com/use-agent/feedharvest/models"
	"github.com/use-agent/feedharvest/storage"
)

// StartCollection returns a handler for POST /api/v1/collections.
//
// The run executes in the background; the response carries the run id and
// where the result set will land once it finishes.
func StartCollection(col Collector, store storage.Store, cfg config.CollectorConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CollectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidInput(c, err)
			return
		}
		req.Defaults(cfg.DefaultTarget, cfg.ConcurrencyUnit, cfg.DefaultRegion)

		run, err := col.Start(req.ToRun())
		if err != nil {
			slog.Warn("collection rejected", "sentinel", req.SentinelUser, "error", err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, models.CollectionResponse{
			Success:     true,
			Message:     "collection started",
			RunID:       run.ID,
			Destination: store.Location(run.Key),
			Run:         run,
		})
	}
}

// CancelCollection returns a handler for DELETE /api/v1/collections/current.
func CancelCollection(col Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		run := col.Current()
		if !col.Cancel() {
			respondError(c, models.NewScrapeError(models.ErrCodeNotFound, "no collection in progress", nil))
			return
		}
		resp := models.CollectionResponse{Success: true, Message: "cancellation requested", Run: run}
		if run != nil {
			resp.RunID = run.ID
		}
		c.JSON(http.StatusAccepted, resp)
	}
}

// Status returns a handler for GET /api/v1/status.
func Status(col Collector, moles Moles) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := moles.ListIdentities()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.StatusResponse{
			AvailableMoles:         names,
			IsCollectionInProgress: col.Busy(),
			CurrentRun:             col.Current(),
			LastOutcome:            col.LastOutcome(),
		})
	}
}
