// Package upstream checks whether the scraped site is reachable.
package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
	"github.com/JakeFAU/scrape-queue/internal/metrics"
)

// Config controls the availability probe.
type Config struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
}

// Prober issues a lightweight GET against the upstream landing page.
type Prober struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Prober.
func New(cfg Config, logger *zap.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Prober{cfg: cfg, base: c, logger: logger}
}

// Check returns nil when the upstream answered with a non-5xx status and an
// upstream_unavailable error otherwise.
func (p *Prober) Check(ctx context.Context) error {
	status, err := p.probe(ctx)
	available := err == nil && status > 0 && status < http.StatusInternalServerError
	metrics.ObserveUpstreamProbe(available)
	if available {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("status %d", status)
	}
	p.logger.Warn("upstream probe failed", zap.String("url", p.cfg.URL), zap.Int("status", status), zap.Error(err))
	return lookup.NewExecError(lookup.KindUpstreamUnavailable, fmt.Errorf("probe %s: %w", p.cfg.URL, err))
}

func (p *Prober) probe(ctx context.Context) (int, error) {
	collector := p.base.Clone()
	var (
		status   int
		probeErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		probeErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(p.cfg.URL)
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if status > 0 {
			// colly reports 4xx through OnError; a status still proves reachability.
			return status, nil
		}
		if err != nil {
			return 0, fmt.Errorf("visit: %w", err)
		}
		return status, probeErr
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
	}
}
