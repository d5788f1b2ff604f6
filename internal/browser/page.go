package browser

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/averender/webrun/internal/extract"
)

// Target names one element by CSS selector or XPath. Exactly one field is
// set; XPath wins when both are.
type Target struct {
	Selector string
	XPath    string
}

// Page is the driver surface one browser tab exposes to the interpreter and
// the extraction engine. The rod-backed implementation lives below; tests
// substitute fakes.
type Page interface {
	extract.Queryable

	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	URL(ctx context.Context) (string, error)

	Click(ctx context.Context, t Target) error
	Type(ctx context.Context, t Target, text string, delay time.Duration) error
	Screenshot(ctx context.Context, path string) ([]byte, error)

	// The event-driven waits register their subscription synchronously and
	// return the await closure, so a caller can arm the wait before
	// dispatching the action that fires the event.
	WaitNavigation(ctx context.Context) func() error
	WaitRequestIdle(ctx context.Context) func() error
	WaitRequest(ctx context.Context, urlSubstring string) func() error
	WaitResponse(ctx context.Context, urlSubstring string) func() error

	WaitElement(ctx context.Context, selector string) error
	WaitElementX(ctx context.Context, xpath string) error
	WaitFunction(ctx context.Context, script string) error

	Close() error
}

type rodPage struct {
	p *rod.Page
}

func newRodPage(p *rod.Page) *rodPage {
	return &rodPage{p: p}
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.p.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *rodPage) Back(ctx context.Context) error {
	return p.p.Context(ctx).NavigateBack()
}

func (p *rodPage) Forward(ctx context.Context) error {
	return p.p.Context(ctx).NavigateForward()
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.p.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// resolve waits for the target element to exist and returns it.
func (p *rodPage) resolve(ctx context.Context, t Target) (*rod.Element, error) {
	pg := p.p.Context(ctx)
	if t.XPath != "" {
		return pg.ElementX(t.XPath)
	}
	return pg.Element(t.Selector)
}

func (p *rodPage) Click(ctx context.Context, t Target) error {
	el, err := p.resolve(ctx, t)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Type focuses the target and sends the text key by key, sleeping delay
// between characters when one is configured.
func (p *rodPage) Type(ctx context.Context, t Target, text string, delay time.Duration) error {
	el, err := p.resolve(ctx, t)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	for _, r := range text {
		if err := p.p.Keyboard.Type(input.Key(r)); err != nil {
			return err
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Screenshot captures the page; the image format follows the path extension
// (jpeg for .jpg/.jpeg, png otherwise).
func (p *rodPage) Screenshot(ctx context.Context, path string) ([]byte, error) {
	format := proto.PageCaptureScreenshotFormatPng
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		format = proto.PageCaptureScreenshotFormatJpeg
	}
	return p.p.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{Format: format})
}

func (p *rodPage) Elements(ctx context.Context, selector string) ([]extract.Element, error) {
	els, err := p.p.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (p *rodPage) ElementsX(ctx context.Context, xpath string) ([]extract.Element, error) {
	els, err := p.p.Context(ctx).ElementsX(xpath)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.p.Context(ctx).HTML()
}

func (p *rodPage) WaitNavigation(ctx context.Context) func() error {
	wait := p.p.Context(ctx).WaitNavigation(proto.PageLifecycleEventNameLoad)
	return func() error {
		wait()
		return ctx.Err()
	}
}

func (p *rodPage) WaitRequestIdle(ctx context.Context) func() error {
	wait := p.p.Context(ctx).WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
	return func() error {
		wait()
		return ctx.Err()
	}
}

func (p *rodPage) WaitRequest(ctx context.Context, urlSubstring string) func() error {
	wait := p.p.Context(ctx).EachEvent(func(e *proto.NetworkRequestWillBeSent) bool {
		return strings.Contains(e.Request.URL, urlSubstring)
	})
	return func() error {
		wait()
		return ctx.Err()
	}
}

func (p *rodPage) WaitResponse(ctx context.Context, urlSubstring string) func() error {
	wait := p.p.Context(ctx).EachEvent(func(e *proto.NetworkResponseReceived) bool {
		return strings.Contains(e.Response.URL, urlSubstring)
	})
	return func() error {
		wait()
		return ctx.Err()
	}
}

func (p *rodPage) WaitElement(ctx context.Context, selector string) error {
	_, err := p.p.Context(ctx).Element(selector)
	return err
}

func (p *rodPage) WaitElementX(ctx context.Context, xpath string) error {
	_, err := p.p.Context(ctx).ElementX(xpath)
	return err
}

func (p *rodPage) WaitFunction(ctx context.Context, script string) error {
	return p.p.Context(ctx).Wait(rod.Eval(script))
}

func (p *rodPage) Close() error {
	return p.p.Close()
}

type rodElement struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []extract.Element {
	out := make([]extract.Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el}
	}
	return out
}

func (e *rodElement) Elements(ctx context.Context, selector string) ([]extract.Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (e *rodElement) ElementsX(ctx context.Context, xpath string) ([]extract.Element, error) {
	els, err := e.el.Context(ctx).ElementsX(xpath)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (e *rodElement) HTML(ctx context.Context) (string, error) {
	return e.el.Context(ctx).HTML()
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}
