package scraper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/feedharvest/config"
	"github.com/use-agent/feedharvest/models"
	"github.com/ysmood/gson"
)

// listenBuffer bounds response bodies waiting for the capture goroutine.
const listenBuffer = 8

// RodBrowser launches one dedicated Chromium per session so every worker
// gets its own proxy and cookie jar.
type RodBrowser struct {
	cfg     config.BrowserConfig
	blocked []string
}

// NewRodBrowser creates a launcher for cfg.
func NewRodBrowser(cfg config.BrowserConfig) *RodBrowser {
	return &RodBrowser{cfg: cfg, blocked: blockedURLPatterns(cfg.BlockedURLs)}
}

// Launch starts Chromium behind opts.Proxy, seeds opts.State and opens a
// page ready for navigation.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Launcher flags        – stealth, proxy, no autoplay
//  2. Connect
//  3. Proxy auth            – MUST be armed before any request
//  4. Cookies               – browser-wide, before the page exists
//  5. Page setup            – UA, viewport, stealth, localStorage, blocking
//
// Any failure after step 2 closes the browser again.
func (b *RodBrowser) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The browser outlives ctx so a canceled worker can still save state.
	sessCtx, cancel := context.WithCancel(context.Background())

	// ── 1. Launcher flags ────────────────────────────────────────────
	l := launcher.New().
		Context(sessCtx).
		Headless(opts.Headless).
		NoSandbox(b.cfg.NoSandbox)

	if b.cfg.BrowserBin != "" {
		l = l.Bin(b.cfg.BrowserBin)
	}
	if opts.Proxy.Server != "" {
		l = l.Proxy(opts.Proxy.Server)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("autoplay-policy"), "user-gesture-required")
	l.Set(flags.Flag("mute-audio"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", b.cfg.ViewportWidth, b.cfg.ViewportHeight))

	controlURL, err := l.Launch()
	if err != nil {
		cancel()
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Debug("browser launched", "controlURL", controlURL, "proxy", opts.Proxy)

	// ── 2. Connect ───────────────────────────────────────────────────
	browser := rod.New().ControlURL(controlURL).Context(sessCtx)
	if err := browser.Connect(); err != nil {
		cancel()
		l.Kill()
		l.Cleanup()
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	s := &rodSession{ctx: sessCtx, cancel: cancel, launcher: l, browser: browser}

	// ── 3. Proxy auth ────────────────────────────────────────────────
	if opts.Proxy.Username != "" {
		s.armProxyAuth(opts.Proxy)
	}

	// ── 4. Cookies ───────────────────────────────────────────────────
	if !opts.State.Empty() && len(opts.State.Cookies) > 0 {
		if err := browser.SetCookies(toCookieParams(opts.State.Cookies)); err != nil {
			slog.Warn("failed to restore cookies, continuing without them", "error", err)
		}
	}

	// ── 5. Page setup ────────────────────────────────────────────────
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = s.Close()
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to create page", err)
	}
	s.page = page

	if err := b.preparePage(page, opts.State); err != nil {
		_ = s.Close()
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to prepare page", err)
	}
	return s, nil
}

func (b *RodBrowser) preparePage(page *rod.Page, state *models.SessionState) error {
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      b.cfg.UserAgent,
			AcceptLanguage: "en-US,en;q=0.9",
		}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.ViewportWidth,
		Height:            b.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{"Accept-Language": "en-US,en;q=0.9"}),
	}.Call(page)

	if b.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	if state != nil && len(state.Origins) > 0 {
		js, err := restoreStorageScript(state.Origins)
		if err != nil {
			return err
		}
		if _, err := page.EvalOnNewDocument(js); err != nil {
			slog.Warn("failed to restore localStorage", "error", err)
		}
	}

	if len(b.blocked) > 0 {
		if err := (proto.NetworkSetBlockedURLs{Urls: b.blocked}).Call(page); err != nil {
			slog.Warn("failed to install URL blocklist", "error", err)
		}
	}
	return nil
}

type rodSession struct {
	ctx      context.Context
	cancel   context.CancelFunc
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// armProxyAuth answers the proxy's credential challenge in the background.
func (s *rodSession) armProxyAuth(p models.ProxyAssignment) {
	wait := s.browser.HandleAuth(p.Username, p.Password)
	go func() {
		if err := wait(); err != nil && s.ctx.Err() == nil {
			slog.Warn("proxy authentication failed", "proxy", p, "error", err)
		}
	}()
}

// Listen pairs responseReceived with loadingFinished so the body is only
// requested once Chrome holds all of it.
func (s *rodSession) Listen(ctx context.Context, pathFragment string) <-chan []byte {
	out := make(chan []byte, listenBuffer)
	p := s.page.Context(ctx)

	// Only touched from the event goroutine.
	pending := make(map[proto.NetworkRequestID]struct{})

	wait := p.EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response != nil && strings.Contains(e.Response.URL, pathFragment) {
				pending[e.RequestID] = struct{}{}
			}
		},
		func(e *proto.NetworkLoadingFailed) {
			delete(pending, e.RequestID)
		},
		func(e *proto.NetworkLoadingFinished) {
			if _, ok := pending[e.RequestID]; !ok {
				return
			}
			delete(pending, e.RequestID)

			body, err := responseBody(p, e.RequestID)
			if err != nil {
				slog.Warn("failed to read feed response body", "error", err)
				return
			}
			select {
			case out <- body:
			case <-ctx.Done():
			}
		},
	)

	go func() {
		defer close(out)
		wait()
	}()
	return out
}

func responseBody(p *rod.Page, id proto.NetworkRequestID) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(p)
	if err != nil {
		return nil, err
	}
	if res.Base64Encoded {
		return base64.StdEncoding.DecodeString(res.Body)
	}
	return []byte(res.Body), nil
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	return s.page.Context(ctx).Navigate(url)
}

func (s *rodSession) Attribute(ctx context.Context, selector, name string) (string, error) {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return "", err
	}
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

func (s *rodSession) Click(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

const storageSnapshotJS = `() => {
	const entries = [];
	try {
		for (let i = 0; i < localStorage.length; i++) {
			const k = localStorage.key(i);
			entries.push([k, localStorage.getItem(k)]);
		}
	} catch (e) {}
	return { origin: location.origin, entries };
}`

func (s *rodSession) CaptureState(ctx context.Context) (*models.SessionState, error) {
	cookies, err := s.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	state := &models.SessionState{Cookies: fromNetworkCookies(cookies)}

	res, err := s.page.Context(ctx).Eval(storageSnapshotJS)
	if err != nil {
		slog.Warn("failed to read localStorage, saving cookies only", "error", err)
		return state, nil
	}
	if origin := res.Value.Get("origin").Str(); strings.HasPrefix(origin, "http") {
		o := models.OriginState{Origin: origin}
		for _, e := range res.Value.Get("entries").Arr() {
			o.LocalStorage = append(o.LocalStorage, models.NameValue{
				Name:  e.Get("0").Str(),
				Value: e.Get("1").Str(),
			})
		}
		state.Origins = append(state.Origins, o)
	}
	return state, nil
}

// Close kills the browser and removes its profile directory.
func (s *rodSession) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	s.cancel()
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}

func toCookieParams(cookies []models.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		out = append(out, p)
	}
	return out
}

func fromNetworkCookies(cookies []*proto.NetworkCookie) []models.Cookie {
	out := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

// restoreStorageScript seeds localStorage once per tab for every origin
// in origins that matches the document being loaded.
func restoreStorageScript(origins []models.OriginState) (string, error) {
	byOrigin := make(map[string][][2]string, len(origins))
	for _, o := range origins {
		for _, kv := range o.LocalStorage {
			byOrigin[o.Origin] = append(byOrigin[o.Origin], [2]string{kv.Name, kv.Value})
		}
	}
	data, err := json.Marshal(byOrigin)
	if err != nil {
		return "", fmt.Errorf("encode localStorage: %w", err)
	}
	return fmt.Sprintf(`(() => {
	const saved = %s[location.origin];
	if (!saved) return;
	try {
		if (sessionStorage.getItem("__fh_restored")) return;
		for (const [k, v] of saved) localStorage.setItem(k, v);
		sessionStorage.setItem("__fh_restored", "1");
	} catch (e) {}
})()`, data), nil
}

// toHeadersMap converts a plain string map to proto.NetworkHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
