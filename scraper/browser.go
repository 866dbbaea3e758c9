// Package scraper drives one browser session per worker and captures the
// for-you feed from the platform's pagination responses.
package scraper

import (
	"context"

	"github.com/use-agent/feedharvest/models"
)

// LaunchOptions configures a single browser session.
type LaunchOptions struct {
	Headless bool
	Proxy    models.ProxyAssignment

	// State seeds cookies and localStorage; nil on a sentinel's first run.
	State *models.SessionState
}

// Browser opens isolated browser sessions.
type Browser interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Session is one live browser with a single page.
//
// All methods except Listen block until the browser answers or ctx ends.
type Session interface {
	// Listen streams the bodies of every response whose URL contains
	// pathFragment until ctx is done, then closes the channel.
	Listen(ctx context.Context, pathFragment string) <-chan []byte

	Navigate(ctx context.Context, url string) error

	// Attribute returns the attribute of the first element matching selector.
	Attribute(ctx context.Context, selector, name string) (string, error)

	// Click waits for selector to appear and clicks it.
	Click(ctx context.Context, selector string) error

	// CaptureState snapshots cookies and localStorage.
	CaptureState(ctx context.Context) (*models.SessionState, error)

	Close() error
}
