package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/feedharvest/models"
)

// feedPage renders an item_list body with n videos whose ids start at from.
func feedPage(from, n int) []byte {
	parts := make([]string, 0, n)
	for i := from; i < from+n; i++ {
		parts = append(parts, fmt.Sprintf(`{"id":"%d","author":{"uniqueId":"u%d"}}`, i, i))
	}
	return []byte(`{"itemList":[` + strings.Join(parts, ",") + `]}`)
}

type fakeSession struct {
	mu sync.Mutex

	pages     [][]byte // one served per navigation or successful click
	failFirst int      // clicks that fail before any succeed
	href      string
	navErr    error
	panicOn   int // panic on this click (1-based), 0 = never

	out       chan []byte
	outClosed bool

	navigations int
	clicks      int
	captured    bool
	closed      bool
}

func (s *fakeSession) Listen(ctx context.Context, fragment string) <-chan []byte {
	s.mu.Lock()
	s.out = make(chan []byte, 256)
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		close(s.out)
		s.outClosed = true
		s.mu.Unlock()
	}()
	return s.out
}

func (s *fakeSession) emit() {
	if len(s.pages) == 0 || s.out == nil || s.outClosed {
		return
	}
	s.out <- s.pages[0]
	s.pages = s.pages[1:]
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations++
	if s.navErr != nil {
		return s.navErr
	}
	s.emit()
	return nil
}

func (s *fakeSession) Attribute(ctx context.Context, selector, name string) (string, error) {
	if s.href == "" {
		return "", errors.New("element not found")
	}
	return s.href, nil
}

func (s *fakeSession) Click(ctx context.Context, selector string) error {
	s.mu.Lock()
	s.clicks++
	n := s.clicks
	if s.panicOn == n {
		s.mu.Unlock()
		panic("renderer gone")
	}
	defer s.mu.Unlock()
	if n <= s.failFirst {
		return errors.New("timeout waiting for selector")
	}
	s.emit()
	return nil
}

func (s *fakeSession) CaptureState(ctx context.Context) (*models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured = true
	return &models.SessionState{Cookies: []models.Cookie{{Name: "sid", Value: "abc"}}}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeBrowser struct {
	sess      *fakeSession
	err       error
	launches  int
	lastProxy models.ProxyAssignment
	lastState *models.SessionState
}

func (b *fakeBrowser) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	b.launches++
	b.lastProxy = opts.Proxy
	b.lastState = opts.State
	if b.err != nil {
		return nil, b.err
	}
	return b.sess, nil
}

type memStates struct {
	mu    sync.Mutex
	saved map[string]*models.SessionState
}

func (m *memStates) LoadState(name string) (*models.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[name], nil
}

func (m *memStates) SaveState(name string, state *models.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]*models.SessionState{}
	}
	m.saved[name] = state
	return nil
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Headless:          true,
		MaxScrolls:        20,
		ActionTimeout:     time.Second,
		NavigationTimeout: time.Second,
	}
}

func newTestWorker(target float64, cfg WorkerConfig, b *fakeBrowser, st *memStates) *Worker {
	w := NewWorker(models.WorkerSpec{
		Index:        0,
		Target:       target,
		SentinelUser: "sentinel",
		Proxy:        models.ProxyAssignment{Server: "http://proxy:8080", Username: "user_IL"},
	}, cfg, b, st)
	w.jitter = func(max time.Duration) time.Duration { return max }
	return w
}

func TestCollect_ZeroTargetLaunchesNothing(t *testing.T) {
	b := &fakeBrowser{sess: &fakeSession{}}
	w := newTestWorker(0, testWorkerConfig(), b, &memStates{})

	items, err := w.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)
	assert.Zero(t, b.launches)
	assert.Zero(t, w.Scrolls())
	assert.Equal(t, StateClosed, w.State())
}

func TestCollect_GathersEveryPageAndPersistsState(t *testing.T) {
	sess := &fakeSession{
		pages: [][]byte{feedPage(0, 3), feedPage(3, 3), feedPage(6, 2)},
		href:  "/@sentinel",
	}
	b := &fakeBrowser{sess: sess}
	st := &memStates{}
	cfg := testWorkerConfig()
	cfg.MaxScrolls = 5

	w := newTestWorker(1000, cfg, b, st)
	items, err := w.Collect(context.Background())
	require.NoError(t, err)

	assert.Len(t, items, 8)
	assert.Equal(t, 5, sess.clicks, "target never met, so every scroll is used")
	assert.Equal(t, 5, w.Scrolls())
	assert.True(t, sess.captured)
	assert.True(t, sess.closed)
	assert.Equal(t, StateClosed, w.State())
	require.NotNil(t, st.saved["sentinel"])
	assert.Equal(t, "sid", st.saved["sentinel"].Cookies[0].Name)
	assert.Equal(t, "user_IL", b.lastProxy.Username)
}

func TestCollect_StopsOnceTargetIsReached(t *testing.T) {
	pages := make([][]byte, 0, 30)
	for i := 0; i < 30; i++ {
		pages = append(pages, feedPage(i*2, 2))
	}
	sess := &fakeSession{pages: pages}
	cfg := testWorkerConfig()
	cfg.MaxScrolls = 200
	cfg.ScrollPause = 20 * time.Millisecond

	w := newTestWorker(2.5, cfg, &fakeBrowser{sess: sess}, &memStates{})
	items, err := w.Collect(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(items), 3)
	assert.Less(t, sess.clicks, 200)
}

func TestCollect_ScrollFailuresAreTransient(t *testing.T) {
	sess := &fakeSession{
		pages:     [][]byte{feedPage(0, 1), feedPage(1, 1)},
		failFirst: 3,
	}
	cfg := testWorkerConfig()
	cfg.MaxScrolls = 4

	w := newTestWorker(100, cfg, &fakeBrowser{sess: sess}, &memStates{})
	items, err := w.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sess.clicks)
	assert.Len(t, items, 2)
}

func TestCollect_FiltersAdsAndLive(t *testing.T) {
	sess := &fakeSession{pages: [][]byte{
		[]byte(`{"itemList":[{"id":"1"},{"id":"2","isAd":true},{"id":"3","liveRoomInfo":{}}]}`),
	}}
	cfg := testWorkerConfig()
	cfg.MaxScrolls = 1

	w := newTestWorker(10, cfg, &fakeBrowser{sess: sess}, &memStates{})
	items, err := w.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].ID)
}

func TestCollect_NavigationFailureStillFinalizes(t *testing.T) {
	sess := &fakeSession{navErr: errors.New("net::ERR_TUNNEL_CONNECTION_FAILED")}
	st := &memStates{}

	w := newTestWorker(5, testWorkerConfig(), &fakeBrowser{sess: sess}, st)
	items, err := w.Collect(context.Background())
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.ErrCodeNavigation))
	assert.Nil(t, items)

	assert.Zero(t, sess.clicks)
	assert.True(t, sess.captured)
	assert.True(t, sess.closed)
	assert.NotNil(t, st.saved["sentinel"])
	assert.Equal(t, StateClosed, w.State())
}

func TestCollect_LaunchFailure(t *testing.T) {
	b := &fakeBrowser{err: models.NewScrapeError(models.ErrCodeBrowserCrash, "no chrome", nil)}
	w := newTestWorker(5, testWorkerConfig(), b, &memStates{})

	_, err := w.Collect(context.Background())
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.ErrCodeBrowserCrash))
	assert.Equal(t, StateClosed, w.State())
}

func TestCollect_PanicStillFinalizes(t *testing.T) {
	sess := &fakeSession{pages: [][]byte{feedPage(0, 1)}, panicOn: 2}
	w := newTestWorker(100, testWorkerConfig(), &fakeBrowser{sess: sess}, &memStates{})

	assert.Panics(t, func() { _, _ = w.Collect(context.Background()) })
	assert.True(t, sess.captured)
	assert.True(t, sess.closed)
	assert.Equal(t, StateClosed, w.State())
}

func TestCollect_CancellationStopsLoopAndFinalizes(t *testing.T) {
	sess := &fakeSession{}
	cfg := testWorkerConfig()
	cfg.MaxScrolls = 200
	cfg.ScrollPause = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	w := newTestWorker(10, cfg, &fakeBrowser{sess: sess}, &memStates{})
	_, err := w.Collect(ctx)
	require.NoError(t, err)

	assert.Less(t, sess.clicks, 200)
	assert.True(t, sess.captured)
	assert.True(t, sess.closed)
}

func TestCollect_RestoresStoredState(t *testing.T) {
	stored := &models.SessionState{Cookies: []models.Cookie{{Name: "sessionid", Value: "v"}}}
	st := &memStates{saved: map[string]*models.SessionState{"sentinel": stored}}
	b := &fakeBrowser{sess: &fakeSession{}}
	cfg := testWorkerConfig()
	cfg.MaxScrolls = 1

	w := newTestWorker(1, cfg, b, st)
	_, err := w.Collect(context.Background())
	require.NoError(t, err)
	assert.Same(t, stored, b.lastState)
}

func TestVerifyIdentity(t *testing.T) {
	w := newTestWorker(1, testWorkerConfig(), &fakeBrowser{}, &memStates{})

	assert.True(t, w.verifyIdentity(context.Background(), &fakeSession{href: "https://www.tiktok.com/@sentinel"}))
	assert.False(t, w.verifyIdentity(context.Background(), &fakeSession{href: "https://www.tiktok.com/@someone"}))
	assert.False(t, w.verifyIdentity(context.Background(), &fakeSession{}))
}
