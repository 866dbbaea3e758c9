package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/feedharvest/models"
)

func TestDeliver_SignsBody(t *testing.T) {
	var gotSig, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotSig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := Deliver(context.Background(), srv.Client(), srv.URL, "s3cret", &Event{Type: EventCollectionCompleted, RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "sha256="+Sign("s3cret", []byte(gotBody)), gotSig)
}

func TestDeliver_RejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := Deliver(context.Background(), srv.Client(), srv.URL, "", &Event{Type: EventCollectionCompleted})
	assert.Error(t, err)
}

func TestNotifyRun_RetriesUntilDelivered(t *testing.T) {
	var calls atomic.Int32
	events := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var e Event
		_ = json.NewDecoder(r.Body).Decode(&e)
		events <- e
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "")
	n.Delays = []time.Duration{0, 10 * time.Millisecond, 10 * time.Millisecond}
	n.NotifyRun(models.RunOutcome{Run: models.CollectionRun{ID: "run-1"}, Unique: 3, Saved: true})

	select {
	case e := <-events:
		assert.Equal(t, EventCollectionCompleted, e.Type)
		assert.Equal(t, "run-1", e.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestNotifyRun_StorageFailureEvent(t *testing.T) {
	events := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		_ = json.NewDecoder(r.Body).Decode(&e)
		events <- e
	}))
	defer srv.Close()

	NewNotifier(srv.URL, "k").NotifyRun(models.RunOutcome{Run: models.CollectionRun{ID: "r"}, SaveError: "bucket gone"})

	select {
	case e := <-events:
		assert.Equal(t, EventCollectionFailed, e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}
}
