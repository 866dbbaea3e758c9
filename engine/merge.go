package engine

import "github.com/use-agent/feedharvest/models"

// Merge concatenates worker results in the given order and removes
// duplicate video ids. The first occurrence of an id wins, both its
// position and its payload; later copies are dropped.
func Merge(results ...[]models.VideoItem) []models.VideoItem {
	total := 0
	for _, r := range results {
		total += len(r)
	}

	seen := make(map[string]struct{}, total)
	out := make([]models.VideoItem, 0, total)
	for _, r := range results {
		for _, item := range r {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
