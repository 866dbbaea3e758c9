package scraper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/feedharvest/models"
	"github.com/use-agent/feedharvest/storage"
)

func TestParseFeedPayload_FiltersAdsAndLive(t *testing.T) {
	body := []byte(`{"itemList":[
		{"id":"1","author":{"uniqueId":"alice"}},
		{"id":"2","author":{"uniqueId":"bob"},"isAd":true},
		{"id":"3","author":{"uniqueId":"carol"},"liveRoomInfo":{"roomId":"9"}},
		{"id":"4","author":{"uniqueId":"dave"},"isAd":false}
	]}`)

	items, err := ParseFeedPayload(body)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0].ID)
	assert.Equal(t, "alice", items[0].AuthorUniqueID)
	assert.Equal(t, "4", items[1].ID)
}

func TestParseFeedPayload_TruthyMarkers(t *testing.T) {
	body := []byte(`{"itemList":[
		{"id":"1","isAd":"true"},
		{"id":"2","isAd":1},
		{"id":"3","isAd":0},
		{"id":"4","isAd":""},
		{"id":"5","isAd":null},
		{"id":"6","liveRoomInfo":null},
		{"id":"7","liveRoomInfo":{}},
		{"id":"8","liveRoomInfo":""}
	]}`)

	items, err := ParseFeedPayload(body)
	require.NoError(t, err)

	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"3", "4", "5", "6", "8"}, ids)
}

func TestParseFeedPayload_SkipsItemsWithoutID(t *testing.T) {
	items, err := ParseFeedPayload([]byte(`{"itemList":[{"author":{"uniqueId":"x"}},{"id":"7"}]}`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "7", items[0].ID)
	assert.Empty(t, items[0].AuthorUniqueID)
}

func TestParseFeedPayload_EmptyList(t *testing.T) {
	items, err := ParseFeedPayload([]byte(`{"itemList":[]}`))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParseFeedPayload_Failures(t *testing.T) {
	cases := map[string]string{
		"not json":     `<html>captcha</html>`,
		"no item list": `{"statusCode":0}`,
		"truncated":    `{"itemList":[{"id":"1"`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFeedPayload([]byte(body))
			require.Error(t, err)
			assert.True(t, models.HasCode(err, models.ErrCodeParse))
		})
	}
}

func TestParseFeedPayload_KeepsRawPayload(t *testing.T) {
	items, err := ParseFeedPayload([]byte(`{"itemList":[{"id":"1","desc":"hello","stats":{"playCount":5}}]}`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"id":"1","desc":"hello","stats":{"playCount":5}}`, string(items[0].Raw))
}

func TestParseFeedPayload_RawSurvivesSaveAndLoad(t *testing.T) {
	first := `{"id":"5","stats":{"big":12345678901234567890},"desc":"x"}`
	second := `{"id":"6","author":"plain"}`
	items, err := ParseFeedPayload([]byte(`{"itemList":[` + first + `,` + second + `]}`))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first, string(items[0].Raw))
	assert.Equal(t, second, string(items[1].Raw))

	store := storage.NewLocalStore(t.TempDir())
	require.NoError(t, store.Save(context.Background(), items, "run.json"))
	loaded, err := store.Load(context.Background(), "run.json")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, first, string(loaded[0].Raw))
	assert.Equal(t, second, string(loaded[1].Raw))
}

func TestBlockedURLPatterns(t *testing.T) {
	got := blockedURLPatterns([]string{"*.mp4*", " ", "*doubleclick.net*", "*.mp4*"})

	assert.Equal(t, "*.mp4*", got[0])
	assert.Equal(t, "*doubleclick.net*", got[1])
	assert.Len(t, got, len(mediaPatterns)+len(trackerDomains))
	assert.Contains(t, got, "*hotjar.com*")
	assert.Contains(t, got, "*/video/tos/*")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "finalizing", StateFinalizing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
