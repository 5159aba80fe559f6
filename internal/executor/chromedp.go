package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

const (
	outcomeResult   = "result"
	outcomeNotFound = "notfound"
)

func chromedpInteraction(cfg Config) Interaction {
	return func(ctx context.Context, key string) (Page, error) {
		doc := &documentStatus{}
		chromedp.ListenTarget(ctx, doc.captureEvent)

		if err := chromedp.Run(ctx,
			networkSetupAction(cfg.UserAgent),
			chromedp.Navigate(cfg.TargetURL),
		); err != nil {
			return Page{}, fmt.Errorf("navigate: %w", err)
		}
		if status := doc.get(); status >= http.StatusInternalServerError {
			return Page{}, lookup.NewExecError(lookup.KindUpstreamUnavailable,
				fmt.Errorf("upstream answered %d", status))
		}

		var outcome string
		if err := chromedp.Run(ctx,
			chromedp.WaitVisible(cfg.InputSelector, chromedp.ByQuery),
			chromedp.SendKeys(cfg.InputSelector, key, chromedp.ByQuery),
			chromedp.Click(cfg.SubmitSelector, chromedp.ByQuery),
			chromedp.Poll(outcomeScript(cfg), &outcome, chromedp.WithPollingInterval(250*time.Millisecond)),
		); err != nil {
			return Page{}, fmt.Errorf("submit lookup: %w", err)
		}
		if outcome == outcomeNotFound {
			return Page{NotFound: true}, nil
		}

		page := Page{}
		if err := chromedp.Run(ctx,
			chromedp.Sleep(cfg.SettleDelay),
			chromedp.OuterHTML(cfg.ResultSelector, &page.ResultHTML, chromedp.ByQuery),
		); err != nil {
			return Page{}, lookup.NewExecError(lookup.KindExtraction, fmt.Errorf("read result: %w", err))
		}

		for _, tab := range cfg.Tabs {
			panel := tab.PanelSelector
			if panel == "" {
				panel = cfg.ResultSelector
			}
			var markup string
			if err := chromedp.Run(ctx,
				chromedp.Click(tab.Selector, chromedp.ByQuery),
				chromedp.Sleep(cfg.SettleDelay),
				chromedp.OuterHTML(panel, &markup, chromedp.ByQuery),
			); err != nil {
				return Page{}, lookup.NewExecError(lookup.KindExtraction, fmt.Errorf("open tab %s: %w", tab.Name, err))
			}
			if page.Sections == nil {
				page.Sections = make(map[string]string, len(cfg.Tabs))
			}
			page.Sections[tab.Name] = markup
		}
		return page, nil
	}
}

// outcomeScript evaluates to "result", "notfound", or false while the page
// is still working.
func outcomeScript(cfg Config) string {
	return fmt.Sprintf(`(() => {
  if (document.querySelector(%s)) return %s;
  const sel = %s;
  if (sel && document.querySelector(sel)) return %s;
  const text = %s;
  if (text && document.body && document.body.innerText.includes(text)) return %s;
  return false;
})()`,
		jsString(cfg.ResultSelector), jsString(outcomeResult),
		jsString(cfg.NotFoundSelector), jsString(outcomeNotFound),
		jsString(cfg.NotFoundText), jsString(outcomeNotFound),
	)
}

func jsString(s string) string {
	b, _ := json.Marshal(s) //nolint:errchkjson // strings always marshal
	return string(b)
}

func networkSetupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// documentStatus remembers the HTTP status of the last top-level document.
type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (d *documentStatus) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.mu.Unlock()
}

func (d *documentStatus) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
