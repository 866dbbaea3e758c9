// Package credentials resolves the base proxy credential and manages the
// on-disk session states ("moles") that seed browser identities.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/use-agent/feedharvest/models"
)

// Provider is the SessionCredentialProvider. It is safe for concurrent use.
type Provider struct {
	source   SecretSource
	secretID string
	molesDir string

	mu    sync.RWMutex
	proxy *models.ProxyAssignment
}

// NewProvider creates a Provider. The proxy is not fetched until InitProxy.
func NewProvider(source SecretSource, secretID, molesDir string) *Provider {
	return &Provider{
		source:   source,
		secretID: secretID,
		molesDir: molesDir,
	}
}

// InitProxy fetches the base proxy credential. After the first success every
// further call is a no-op; a failed fetch may be retried.
func (p *Provider) InitProxy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.proxy != nil {
		return nil
	}

	raw, err := p.source.Fetch(ctx, p.secretID)
	if err != nil {
		slog.Error("proxy secret fetch failed", "secret", p.secretID, "error", err)
		return models.NewScrapeError(models.ErrCodeNotInitialized, "failed to fetch proxy secret", err)
	}

	var proxy models.ProxyAssignment
	if err := json.Unmarshal([]byte(raw), &proxy); err != nil {
		slog.Error("proxy secret is not valid JSON", "secret", p.secretID, "error", err)
		return models.NewScrapeError(models.ErrCodeNotInitialized, "proxy secret is malformed", err)
	}
	if proxy.Server == "" || proxy.Username == "" {
		return models.NewScrapeError(models.ErrCodeNotInitialized,
			"proxy secret is missing server or username", errors.New(p.secretID))
	}

	p.proxy = &proxy
	slog.Info("proxy initialized", "server", proxy.Server)
	return nil
}

// Initialized reports whether InitProxy has succeeded.
func (p *Provider) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.proxy != nil
}

// Proxy returns a copy of the base credential.
func (p *Provider) Proxy() (models.ProxyAssignment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.proxy == nil {
		return models.ProxyAssignment{}, models.NewScrapeError(
			models.ErrCodeNotInitialized,
			"proxy not initialized, call InitProxy first",
			nil,
		)
	}
	return *p.proxy, nil
}
