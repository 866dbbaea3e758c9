package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/feedharvest/cache"
	"github.com/use-agent/feedharvest/models"
	"github.com/use-agent/feedharvest/storage"
)

// GetData returns a handler for GET /api/v1/data?key=...&formatted=true.
//
// Without formatted the stored items are returned as-is; with it, one
// public video URL per line.
func GetData(store storage.Store, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Query("key")
		if key == "" {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, "query parameter key is required", nil))
			return
		}
		formatted := false
		if raw := c.Query("formatted"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, "formatted must be a boolean", err))
				return
			}
			formatted = v
		}

		cacheStatus := ""
		var items []models.VideoItem
		if cc != nil {
			if cached, hit := cc.Get(key); hit {
				items, cacheStatus = cached, "hit"
			}
		}
		if cacheStatus == "" {
			loaded, err := store.Load(c.Request.Context(), key)
			if err != nil {
				respondError(c, err)
				return
			}
			items = loaded
			if cc != nil {
				cc.Set(key, loaded)
				cacheStatus = "miss"
			}
		}

		resp := models.DataResponse{
			Success:     true,
			Key:         key,
			Count:       len(items),
			Data:        items,
			CacheStatus: cacheStatus,
		}
		if formatted {
			resp.Data = storage.Format(items)
		}
		c.JSON(http.StatusOK, resp)
	}
}
