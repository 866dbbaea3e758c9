package scraper

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/use-agent/feedharvest/models"
)

// batchBuffer bounds how many parsed pages may wait for the scroll loop.
const batchBuffer = 16

// ParseFeedPayload decodes one item_list response body and drops ads and
// live broadcasts. Items without an id are skipped.
func ParseFeedPayload(body []byte) ([]models.VideoItem, error) {
	var page struct {
		ItemList *[]json.RawMessage `json:"itemList"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeParse, "feed payload is not a JSON object", err)
	}
	if page.ItemList == nil {
		return nil, models.NewScrapeError(models.ErrCodeParse, "feed payload has no itemList", nil)
	}

	items := make([]models.VideoItem, 0, len(*page.ItemList))
	for _, raw := range *page.ItemList {
		item, err := models.ItemFromJSON(raw)
		if err != nil {
			slog.Debug("skipping feed item", "error", err)
			continue
		}
		if item.Skippable() {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// capture turns raw response bodies into filtered batches. The producer
// goroutine never touches items; only the consumer (the scroll loop) does.
type capture struct {
	log *slog.Logger
	out chan<- []models.VideoItem

	// consumer side
	batches <-chan []models.VideoItem
	items   []models.VideoItem
}

func newCapture(log *slog.Logger) *capture {
	ch := make(chan []models.VideoItem, batchBuffer)
	return &capture{log: log, out: ch, batches: ch}
}

// run parses bodies until the channel closes. Call it in its own goroutine.
func (c *capture) run(bodies <-chan []byte) {
	defer close(c.out)
	for body := range bodies {
		batch, err := ParseFeedPayload(body)
		if err != nil {
			c.log.Warn("discarding feed response", "error", err, "bytes", len(body))
			continue
		}
		c.log.Info("feed response captured", "videos", len(batch))
		if len(batch) == 0 {
			continue
		}
		c.out <- batch
	}
}

func (c *capture) add(batch []models.VideoItem) {
	c.items = append(c.items, batch...)
}

// drain appends every batch that is ready without blocking.
func (c *capture) drain() {
	for {
		select {
		case batch, ok := <-c.batches:
			if !ok {
				c.batches = nil
				return
			}
			c.add(batch)
		default:
			return
		}
	}
}

// below reports whether fewer than target items are held, after draining.
func (c *capture) below(target float64) bool {
	c.drain()
	return float64(len(c.items)) < target
}

// pause sleeps for d while absorbing batches as they arrive.
func (c *capture) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		c.drain()
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case batch, ok := <-c.batches:
			if !ok {
				c.batches = nil
				continue
			}
			c.add(batch)
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// finish collects whatever the producer still emits until it closes the
// channel or limit passes.
func (c *capture) finish(limit time.Duration) {
	if c.batches == nil {
		return
	}
	timer := time.NewTimer(limit)
	defer timer.Stop()
	for {
		select {
		case batch, ok := <-c.batches:
			if !ok {
				c.batches = nil
				return
			}
			c.add(batch)
		case <-timer.C:
			c.log.Warn("feed capture did not stop in time", "limit", limit)
			return
		}
	}
}
