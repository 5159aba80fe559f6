package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// LaunchConfig controls how the chromedp browser process is started.
type LaunchConfig struct {
	ExecPath      string
	Headless      bool
	NoSandbox     bool
	UserAgent     string
	WarmupTimeout time.Duration
}

// NewChromedpLauncher returns a Launcher that starts Chrome via chromedp and
// waits for the first (browser) target to come up.
func NewChromedpLauncher(cfg LaunchConfig) Launcher {
	timeout := cfg.WarmupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(ctx context.Context) (*Browser, error) {
		allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		warm := make(chan error, 1)
		go func() {
			warm <- chromedp.Run(browserCtx)
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		var err error
		select {
		case err = <-warm:
		case <-timer.C:
			err = fmt.Errorf("browser warmup exceeded %s", timeout)
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("start chrome: %w", err)
		}

		return NewBrowser(browserCtx, func() error {
			defer allocCancel()
			if err := chromedp.Cancel(browserCtx); err != nil {
				return fmt.Errorf("cancel browser: %w", err)
			}
			return nil
		}), nil
	}
}

// ChromedpTab opens a new target on the browser held by parent.
func ChromedpTab(parent context.Context) (context.Context, context.CancelFunc) {
	return chromedp.NewContext(parent)
}

func allocatorOptions(cfg LaunchConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}
