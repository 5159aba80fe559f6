// Package browser owns the single shared headless browser and hands out
// isolated tab sessions on top of it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
	"github.com/JakeFAU/scrape-queue/internal/metrics"
)

// ErrPoolClosed is returned by Acquire and Session after Shutdown.
var ErrPoolClosed = errors.New("browser pool closed")

const launchKey = "browser"

// Launcher starts a browser whose lifetime is bounded by ctx.
type Launcher func(ctx context.Context) (*Browser, error)

// TabOpener derives an isolated tab context from a browser context.
type TabOpener func(parent context.Context) (context.Context, context.CancelFunc)

// Browser is a launched browser process.
type Browser struct {
	ctx     context.Context
	closeFn func() error
	once    sync.Once
	err     error
}

// NewBrowser wraps a browser context and the function that tears it down.
func NewBrowser(ctx context.Context, closeFn func() error) *Browser {
	return &Browser{ctx: ctx, closeFn: closeFn}
}

// Context returns the browser-level context tabs are derived from.
func (b *Browser) Context() context.Context {
	return b.ctx
}

// Alive reports whether the browser is still usable.
func (b *Browser) Alive() bool {
	return b.ctx.Err() == nil
}

// Close tears the browser down once.
func (b *Browser) Close() error {
	b.once.Do(func() {
		if b.closeFn != nil {
			b.err = b.closeFn()
		}
	})
	return b.err
}

// Session is one isolated tab. Close releases the tab, never the browser.
type Session struct {
	ctx     context.Context
	once    sync.Once
	release func()
}

// Context returns the tab context to run browser actions against.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close releases the tab. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(s.release)
}

// Stats describes the pool for health reporting.
type Stats struct {
	Ready        bool  `json:"ready"`
	Launches     int64 `json:"launches"`
	OpenSessions int64 `json:"open_sessions"`
}

// Pool lazily launches one shared browser. Concurrent first callers share a
// single launch; a failed launch is not cached, so the next caller retries.
type Pool struct {
	launch  Launcher
	openTab TabOpener
	logger  *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	browser *Browser
	closed  bool

	group    singleflight.Group
	launches atomic.Int64
	open     atomic.Int64
}

// NewPool builds a pool. A nil openTab opens chromedp tabs.
func NewPool(launch Launcher, openTab TabOpener, logger *zap.Logger) *Pool {
	if openTab == nil {
		openTab = ChromedpTab
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Pool{
		launch:     launch,
		openTab:    openTab,
		logger:     logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// Acquire returns the shared browser, launching it if needed. Waiting for an
// in-flight launch respects ctx; the launch itself does not.
func (p *Pool) Acquire(ctx context.Context) (*Browser, error) {
	if b, err := p.current(); b != nil || err != nil {
		return b, err
	}
	ch := p.group.DoChan(launchKey, func() (any, error) {
		return p.launchShared()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		b, ok := res.Val.(*Browser)
		if !ok {
			return nil, lookup.NewExecError(lookup.KindResourceCreation, errors.New("launcher returned no browser"))
		}
		return b, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("await browser: %w", ctx.Err())
	}
}

func (p *Pool) current() (*Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, lookup.NewExecError(lookup.KindResourceCreation, ErrPoolClosed)
	}
	if p.browser != nil && p.browser.Alive() {
		return p.browser, nil
	}
	return nil, nil
}

func (p *Pool) launchShared() (*Browser, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, lookup.NewExecError(lookup.KindResourceCreation, ErrPoolClosed)
	}
	if p.browser != nil && p.browser.Alive() {
		b := p.browser
		p.mu.Unlock()
		return b, nil
	}
	stale := p.browser
	p.browser = nil
	p.mu.Unlock()

	if stale != nil {
		p.logger.Warn("shared browser died, relaunching")
		if err := stale.Close(); err != nil {
			p.logger.Debug("closing dead browser", zap.Error(err))
		}
	}

	b, err := p.launch(p.baseCtx)
	if err == nil && b == nil {
		err = errors.New("launcher returned no browser")
	}
	p.launches.Add(1)
	metrics.ObserveBrowserLaunch(err)
	if err != nil {
		p.logger.Error("browser launch failed", zap.Error(err))
		return nil, lookup.NewExecError(lookup.KindResourceCreation, fmt.Errorf("launch browser: %w", err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		if cerr := b.Close(); cerr != nil {
			p.logger.Debug("closing browser launched during shutdown", zap.Error(cerr))
		}
		return nil, lookup.NewExecError(lookup.KindResourceCreation, ErrPoolClosed)
	}
	p.browser = b
	p.logger.Info("shared browser ready", zap.Int64("launches", p.launches.Load()))
	return b, nil
}

// Session opens a tab on the shared browser. The tab is canceled when ctx
// ends or when the session is closed, whichever comes first.
func (p *Pool) Session(ctx context.Context) (*Session, error) {
	b, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	tabCtx, tabCancel := p.openTab(b.Context())
	stop := context.AfterFunc(ctx, tabCancel)
	p.open.Add(1)
	return &Session{
		ctx: tabCtx,
		release: func() {
			stop()
			tabCancel()
			p.open.Add(-1)
		},
	}, nil
}

// Stats returns a snapshot of pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	ready := p.browser != nil && p.browser.Alive()
	p.mu.Unlock()
	return Stats{
		Ready:        ready,
		Launches:     p.launches.Load(),
		OpenSessions: p.open.Load(),
	}
}

// Shutdown closes the shared browser and rejects further acquisitions.
func (p *Pool) Shutdown(_ context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	b := p.browser
	p.browser = nil
	p.mu.Unlock()

	p.baseCancel()
	if b == nil {
		return nil
	}
	if err := b.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
