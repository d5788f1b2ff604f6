package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/averender/webrun/internal/browser"
	"github.com/averender/webrun/internal/config"
	"github.com/averender/webrun/internal/extract"
)

// defaultRepeatTimes applies when a repeat step omits times.
const defaultRepeatTimes = 10

// Options carries the run-wide execution settings.
type Options struct {
	// Timeout bounds element resolution for leaf steps.
	Timeout time.Duration
	// NavigationTimeout bounds go steps and crawl branch navigations.
	NavigationTimeout time.Duration
}

// Executor interprets a step tree against browser pages. Structural steps
// (repeat, crawl) recurse; leaf steps delegate to the page driver or the
// extraction engine.
type Executor struct {
	pool   *browser.Pool
	logger *zap.Logger
	opts   Options
}

// New builds an executor over a page pool.
func New(pool *browser.Pool, logger *zap.Logger, opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	return &Executor{pool: pool, logger: logger, opts: opts}
}

// Run executes steps in declared order against page. idx is the ambient
// iteration index substituted for $i in output paths. An error aborts the
// remaining steps and propagates.
func (e *Executor) Run(ctx context.Context, page browser.Page, steps []config.Step, idx int) error {
	for i := range steps {
		step := &steps[i]
		e.logger.Debug("executing step",
			zap.String("action", string(step.Action)),
			zap.Int("index", idx))
		if err := e.runStep(ctx, page, step, idx); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, page browser.Page, step *config.Step, idx int) error {
	switch step.Action {
	case config.ActionClick:
		return e.click(ctx, page, step)
	case config.ActionType:
		return e.typeText(ctx, page, step)
	case config.ActionGo:
		return e.navigate(ctx, page, step)
	case config.ActionWait:
		return e.await(ctx, page, step.Wait)
	case config.ActionScrape:
		return e.scrape(ctx, page, step, idx)
	case config.ActionScreenshot:
		return e.screenshot(ctx, page, step, idx)
	case config.ActionRepeat:
		return e.repeat(ctx, page, step, idx)
	case config.ActionCrawl:
		return e.crawl(ctx, page, step, idx)
	default:
		// Load-time validation rejects these already.
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

func target(step *config.Step) browser.Target {
	return browser.Target{Selector: step.Selector, XPath: step.XPath}
}

// click dispatches the click and, when the step declares an inline wait,
// arms the wait condition before the click goes out, then awaits both. The
// arming order matters: a navigation or request fired by the click must find
// the listener already subscribed.
func (e *Executor) click(ctx context.Context, page browser.Page, step *config.Step) error {
	if step.WaitFor == nil {
		opCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
		return page.Click(opCtx, target(step))
	}
	g, gctx := errgroup.WithContext(ctx)
	wait, cancelWait, err := e.arm(gctx, page, step.WaitFor)
	if err != nil {
		return err
	}
	defer cancelWait()
	g.Go(wait)
	g.Go(func() error {
		opCtx, cancel := context.WithTimeout(gctx, e.opts.Timeout)
		defer cancel()
		return page.Click(opCtx, target(step))
	})
	return g.Wait()
}

func (e *Executor) typeText(ctx context.Context, page browser.Page, step *config.Step) error {
	opCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	delay := time.Duration(step.Delay) * time.Millisecond
	return page.Type(opCtx, target(step), step.Text, delay)
}

func (e *Executor) navigate(ctx context.Context, page browser.Page, step *config.Step) error {
	navCtx, cancel := context.WithTimeout(ctx, e.opts.NavigationTimeout)
	defer cancel()
	switch step.URL {
	case "back":
		return page.Back(navCtx)
	case "forward":
		return page.Forward(navCtx)
	default:
		return page.Navigate(navCtx, step.URL)
	}
}

// scrape runs the extraction engine and writes the result tree as indented
// JSON to the step's output path.
func (e *Executor) scrape(ctx context.Context, page browser.Page, step *config.Step, idx int) error {
	result, err := extract.Run(ctx, page, step.Scrape)
	if err != nil {
		return fmt.Errorf("extracting: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	path := substituteIndex(step.Output, idx)
	if err := writeFile(path, data); err != nil {
		return err
	}
	e.logger.Info("scraped",
		zap.String("output", path),
		zap.Int("records", len(result)))
	return nil
}

func (e *Executor) screenshot(ctx context.Context, page browser.Page, step *config.Step, idx int) error {
	path := substituteIndex(step.Output, idx)
	data, err := page.Screenshot(ctx, path)
	if err != nil {
		return fmt.Errorf("capturing screenshot: %w", err)
	}
	if err := writeFile(path, data); err != nil {
		return err
	}
	e.logger.Info("screenshot saved", zap.String("output", path))
	return nil
}

// repeat runs the sub-steps times times sequentially. Iteration j executes
// with index idx*times + j, which keeps $i values distinct through nested
// repeats.
func (e *Executor) repeat(ctx context.Context, page browser.Page, step *config.Step, idx int) error {
	times := step.Times
	if times <= 0 {
		times = defaultRepeatTimes
	}
	for j := 0; j < times; j++ {
		if err := e.Run(ctx, page, step.Steps, idx*times+j); err != nil {
			return fmt.Errorf("iteration %d: %w", j, err)
		}
	}
	return nil
}

// crawl extracts link targets from the current page and fans the sub-steps
// out across pooled pages, one concurrent branch per link. Link position p
// executes with index idx*len(links) + p. Branch failures are logged and do
// not reach siblings or the parent step.
func (e *Executor) crawl(ctx context.Context, page browser.Page, step *config.Step, idx int) error {
	links, err := e.collectLinks(ctx, page, step)
	if err != nil {
		return fmt.Errorf("collecting links: %w", err)
	}
	e.logger.Info("crawling", zap.Int("links", len(links)))

	var g errgroup.Group
	for pos, link := range links {
		childIdx := idx*len(links) + pos
		link := link
		g.Go(func() error {
			e.crawlBranch(ctx, link, step.Steps, childIdx)
			return nil
		})
	}
	return g.Wait()
}

func (e *Executor) crawlBranch(ctx context.Context, link string, steps []config.Step, idx int) {
	h, err := e.pool.Acquire(ctx)
	if err != nil {
		e.logger.Error("crawl branch could not acquire a page",
			zap.String("link", link), zap.Error(err))
		return
	}
	defer func() {
		if err := e.pool.Release(h); err != nil {
			e.logger.Error("page pool release failed", zap.Error(err))
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, e.opts.NavigationTimeout)
	err = h.Page.Navigate(navCtx, link)
	cancel()
	if err != nil {
		e.logger.Error("crawl branch navigation failed",
			zap.String("link", link), zap.Error(err))
		return
	}
	if err := e.Run(ctx, h.Page, steps, idx); err != nil {
		e.logger.Error("crawl branch failed",
			zap.String("link", link), zap.Int("index", idx), zap.Error(err))
	}
}

// collectLinks pulls the link targets through the extraction engine (one
// "links" key over the step's selector, href by default), drops empty values,
// resolves relative URLs against the current page and skips targets that do
// not resolve to an http(s) URL. Duplicates are kept and crawled
// independently.
func (e *Executor) collectLinks(ctx context.Context, page browser.Page, step *config.Step) ([]string, error) {
	attr := step.Attribute
	if attr == "" {
		attr = "href"
	}
	spec := &extract.Spec{Entries: []extract.Entry{{
		Key:  "links",
		Node: &extract.Node{Selector: step.Selector, XPath: step.XPath, Attribute: attr},
	}}}
	result, err := extract.Run(ctx, page, spec)
	if err != nil {
		return nil, err
	}

	pageURL, err := page.URL(ctx)
	if err != nil {
		pageURL = ""
	}
	base, _ := url.Parse(pageURL)

	var links []string
	for _, rec := range result {
		v, ok := rec.Get("links")
		if !ok {
			continue
		}
		raw, _ := v.(string)
		if raw == "" {
			continue
		}
		resolved := resolveLink(base, raw)
		if resolved == "" {
			e.logger.Warn("skipping unresolvable crawl target", zap.String("link", raw))
			continue
		}
		links = append(links, resolved)
	}
	return links, nil
}

// resolveLink turns raw into an absolute http(s) URL, or "" when it cannot.
func resolveLink(base *url.URL, raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// substituteIndex replaces the $i token in a path template with idx.
func substituteIndex(template string, idx int) string {
	return strings.ReplaceAll(template, "$i", strconv.Itoa(idx))
}

// writeFile writes data, creating intermediate directories. An already
// existing directory is not an error.
func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
