// Package executor holds the default Task Executor: a headless form lookup
// against the upstream site followed by table extraction.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/browser"
	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

// Tab is an extra panel whose tables are collected into a named section.
type Tab struct {
	Name          string `mapstructure:"name"`
	Selector      string `mapstructure:"selector"`
	PanelSelector string `mapstructure:"panel_selector"`
}

// Config describes the upstream form and where its answers live.
type Config struct {
	TargetURL         string
	InputSelector     string
	SubmitSelector    string
	ResultSelector    string
	NotFoundSelector  string
	NotFoundText      string
	Tabs              []Tab
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	UserAgent         string
}

// Validate checks the selectors the interaction cannot run without.
func (c Config) Validate() error {
	switch {
	case c.TargetURL == "":
		return errors.New("executor target url is required")
	case c.InputSelector == "":
		return errors.New("executor input selector is required")
	case c.SubmitSelector == "":
		return errors.New("executor submit selector is required")
	case c.ResultSelector == "":
		return errors.New("executor result selector is required")
	case c.NotFoundSelector == "" && c.NotFoundText == "":
		return errors.New("executor needs a not-found selector or text")
	}
	for _, tab := range c.Tabs {
		if tab.Name == "" || tab.Selector == "" {
			return fmt.Errorf("executor tab %q needs a name and selector", tab.Name)
		}
	}
	return nil
}

// Page is the raw markup captured for one lookup.
type Page struct {
	NotFound   bool
	ResultHTML string
	Sections   map[string]string
}

// Interaction drives one tab through the upstream form.
type Interaction func(ctx context.Context, key string) (Page, error)

// SessionOpener hands out isolated browser tabs.
type SessionOpener interface {
	Session(ctx context.Context) (*browser.Session, error)
}

// Limiter paces requests to the upstream host.
type Limiter interface {
	Wait(ctx context.Context, target string) error
}

// Option customizes a Headless executor.
type Option func(*Headless)

// WithInteraction replaces the chromedp form interaction.
func WithInteraction(fn Interaction) Option {
	return func(h *Headless) {
		h.interact = fn
	}
}

// Headless implements lookup.Executor on top of the shared browser pool.
type Headless struct {
	cfg      Config
	pool     SessionOpener
	limiter  Limiter
	clock    lookup.Clock
	logger   *zap.Logger
	interact Interaction
}

// New builds the executor. limiter may be nil.
func New(cfg Config, pool SessionOpener, limiter Limiter, clock lookup.Clock, logger *zap.Logger, opts ...Option) (*Headless, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.New("executor requires a browser pool")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Headless{
		cfg:     cfg,
		pool:    pool,
		limiter: limiter,
		clock:   clock,
		logger:  logger,
	}
	h.interact = chromedpInteraction(cfg)
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Execute looks key up upstream. A missing entity is a successful result
// with Found=false.
func (h *Headless) Execute(ctx context.Context, key string) (lookup.Result, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx, h.cfg.TargetURL); err != nil {
			return lookup.Result{}, fmt.Errorf("wait for upstream: %w", err)
		}
	}

	session, err := h.pool.Session(ctx)
	if err != nil {
		return lookup.Result{}, err
	}
	defer session.Close()

	navCtx, cancel := context.WithTimeout(session.Context(), h.cfg.NavigationTimeout)
	defer cancel()

	page, err := h.interact(navCtx, key)
	if err != nil {
		return lookup.Result{}, h.classify(ctx, navCtx, err)
	}

	result := lookup.Result{Key: key, FetchedAt: h.clock.Now()}
	if page.NotFound {
		h.logger.Debug("upstream has no entry", zap.String("key", key))
		return result, nil
	}

	records, err := ParseTables(page.ResultHTML)
	if err != nil {
		return lookup.Result{}, lookup.NewExecError(lookup.KindExtraction, err)
	}
	result.Found = true
	result.Records = records

	for name, markup := range page.Sections {
		recs, err := ParseTables(markup)
		if err != nil && !errors.Is(err, ErrNoTables) {
			return lookup.Result{}, lookup.NewExecError(lookup.KindExtraction, fmt.Errorf("section %s: %w", name, err))
		}
		if result.Sections == nil {
			result.Sections = make(map[string][]lookup.Record, len(page.Sections))
		}
		result.Sections[name] = recs
	}
	return result, nil
}

// classify maps an interaction error onto an error kind. A caller deadline
// wins over the navigation deadline so the scheduler sees its own timeout.
func (h *Headless) classify(ctx, navCtx context.Context, err error) error {
	var execErr *lookup.ExecError
	if errors.As(err, &execErr) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("lookup interrupted: %w", ctx.Err())
	}
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return lookup.NewExecError(lookup.KindNavigationTimeout,
			fmt.Errorf("no answer within %s: %w", h.cfg.NavigationTimeout, err))
	}
	return lookup.NewExecError(lookup.KindUpstreamFailure, err)
}
