package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"nsocal/internal/fetch"
	appLog "nsocal/internal/log"
	"nsocal/internal/model"
)

// Defaults for the headless browser.
const (
	DefaultListingURL = "https://nso.upenn.edu/events/events-calendar/"
	DefaultTimeoutSec = 60

	// listingTitle must appear in the listing page's <title>.
	listingTitle = "Events Calendar"
)

// ErrElementMissing is returned when a page lacks an element the capture
// cannot do without.
var ErrElementMissing = errors.New("capture: required element missing")

// BrowserOptions configures the Chromium allocator.
type BrowserOptions struct {
	// ExecPath overrides the Chromium binary. Empty means chromedp's lookup.
	ExecPath string

	// Headful disables headless mode, for debugging selectors locally.
	Headful bool

	// ListingTimeout bounds loading the listing page. If zero,
	// DefaultTimeoutSec is used.
	ListingTimeout time.Duration
}

// Browser owns a Chromium exec allocator. Every Open call starts a separate
// browser process, so sessions never share cookies, tabs or navigation.
type Browser struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	opts     BrowserOptions
}

// NewBrowser prepares an allocator bound to parent. No process is started
// until the first session or listing load.
func NewBrowser(parent context.Context, opts BrowserOptions) *Browser {
	if opts.ListingTimeout <= 0 {
		opts.ListingTimeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.Headful {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(parent, allocOpts...)
	return &Browser{allocCtx: allocCtx, cancel: cancel, opts: opts}
}

// Close shuts down every browser started by b.
func (b *Browser) Close() {
	b.cancel()
}

// ListEvents loads the listing page at url and returns one EventLink per
// distinct event link.
func (b *Browser) ListEvents(ctx context.Context, url string) ([]model.EventLink, error) {
	if url == "" {
		return nil, fmt.Errorf("capture: listing URL is required")
	}

	tabCtx, cancel := chromedp.NewContext(b.allocCtx)
	defer cancel()

	runCtx, stop := boundTo(tabCtx, ctx, b.opts.ListingTimeout)
	defer stop()

	var title, html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, tasks); err != nil {
		return nil, fmt.Errorf("capture: load listing: %w", err)
	}
	if !strings.Contains(title, listingTitle) {
		return nil, fmt.Errorf("capture: unexpected listing title %q", title)
	}

	links, err := ParseListing(strings.NewReader(html), url)
	if err != nil {
		return nil, err
	}
	appLog.Info("listing parsed", "url", url, "event_count", len(links))
	return links, nil
}

// Open starts a new browser for one batch of event pages.
func (b *Browser) Open(ctx context.Context) (fetch.Session[model.EventLink, model.RawEvent], error) {
	tabCtx, cancel := chromedp.NewContext(b.allocCtx)
	// Running with no actions launches the browser process.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("capture: start browser: %w", err)
	}
	return &PageSession{ctx: tabCtx, cancel: cancel}, nil
}

// PageSession loads event pages in a single browser tab.
type PageSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Fetch navigates to link.Link and captures the event's raw data.
func (s *PageSession) Fetch(ctx context.Context, link model.EventLink) (model.RawEvent, error) {
	runCtx, stop := boundTo(s.ctx, ctx, 0)
	defer stop()

	var p probe
	tasks := chromedp.Tasks{
		chromedp.Navigate(link.Link),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(probeScript, &p),
	}
	if err := chromedp.Run(runCtx, tasks); err != nil {
		return model.RawEvent{}, fmt.Errorf("capture: load %s: %w", link.Link, err)
	}
	return p.rawEvent(link)
}

// Close shuts the session's browser down.
func (s *PageSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	return err
}

// boundTo derives a context from the chromedp context base that is also
// cancelled when caller is done, and optionally limited by timeout.
func boundTo(base, caller context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(base)
	if dl, ok := caller.Deadline(); ok {
		ctx, cancel = withDeadline(ctx, cancel, dl)
	}
	if timeout > 0 {
		ctx, cancel = withDeadline(ctx, cancel, time.Now().Add(timeout))
	}
	stopAfter := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stopAfter()
		cancel()
	}
}

func withDeadline(ctx context.Context, prev context.CancelFunc, dl time.Time) (context.Context, context.CancelFunc) {
	next, cancel := context.WithDeadline(ctx, dl)
	return next, func() {
		cancel()
		prev()
	}
}
