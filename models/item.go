package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/ysmood/gson"
)

// PlatformBaseURL is the web origin of the platform whose feed is collected.
const PlatformBaseURL = "https://www.tiktok.com"

// VideoItem is one entry of the for-you feed.
//
// The typed fields are decoded from Raw, which holds the item exactly as the
// platform returned it. Raw is what gets persisted, so stored result sets keep
// every field the platform sent.
type VideoItem struct {
	ID             string
	AuthorUniqueID string
	IsAd           bool
	IsLive         bool
	Raw            json.RawMessage
}

// ItemFromJSON decodes a single feed item from its raw bytes. Raw keeps a
// copy of raw as given; the typed fields are read through gson.
func ItemFromJSON(raw []byte) (VideoItem, error) {
	if !json.Valid(raw) {
		return VideoItem{}, errors.New("feed item is not valid JSON")
	}
	j := gson.NewFrom(string(raw))

	id := str(j.Get("id"))
	if id == "" {
		return VideoItem{}, errors.New("feed item has no id")
	}

	return VideoItem{
		ID:             id,
		AuthorUniqueID: str(j.Get("author.uniqueId")),
		IsAd:           truthy(j.Get("isAd")),
		IsLive:         truthy(j.Get("liveRoomInfo")),
		Raw:            append(json.RawMessage(nil), raw...),
	}, nil
}

func str(j gson.JSON) string {
	if j.Nil() {
		return ""
	}
	return j.Str()
}

// truthy follows the platform's own client-side checks: any non-empty,
// non-zero value counts, so "true", 1 and {} all mark an item.
func truthy(j gson.JSON) bool {
	switch v := j.Val().(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0 && !math.IsNaN(v)
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}

// Skippable reports whether the item is an advertisement or a live broadcast.
func (v VideoItem) Skippable() bool {
	return v.IsAd || v.IsLive
}

// URL returns the canonical public URL of the video.
func (v VideoItem) URL() string {
	return fmt.Sprintf("%s/@%s/video/%s", PlatformBaseURL, v.AuthorUniqueID, v.ID)
}

// MarshalJSON writes the platform payload when present, otherwise a minimal
// item carrying the id and author.
func (v VideoItem) MarshalJSON() ([]byte, error) {
	if len(v.Raw) > 0 {
		return v.Raw, nil
	}
	type author struct {
		UniqueID string `json:"uniqueId"`
	}
	return json.Marshal(struct {
		ID     string `json:"id"`
		Author author `json:"author"`
		IsAd   bool   `json:"isAd,omitempty"`
	}{ID: v.ID, Author: author{UniqueID: v.AuthorUniqueID}, IsAd: v.IsAd})
}

// UnmarshalJSON decodes a stored or captured platform item.
func (v *VideoItem) UnmarshalJSON(b []byte) error {
	item, err := ItemFromJSON(b)
	if err != nil {
		return err
	}
	*v = item
	return nil
}
