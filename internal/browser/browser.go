package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Options configures the browser session.
type Options struct {
	Headless bool
	Width    int
	Height   int
}

// Session owns one launched browser instance and creates pages for it.
type Session struct {
	browser *rod.Browser
	opts    Options
	logger  *zap.Logger
}

// NewSession launches a local Chromium and connects to it.
func NewSession(opts Options, logger *zap.Logger) (*Session, error) {
	path, _ := launcher.LookPath()
	l := launcher.New().Bin(path).Headless(opts.Headless)

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	logger.Debug("browser session started", zap.Bool("headless", opts.Headless))
	return &Session{browser: b, opts: opts, logger: logger}, nil
}

// NewPage opens a tab. A non-empty url is navigated to and awaited;
// otherwise the tab stays on about:blank.
func (s *Session) NewPage(ctx context.Context, url string) (Page, error) {
	pg, err := s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	if s.opts.Width > 0 && s.opts.Height > 0 {
		err = pg.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             s.opts.Width,
			Height:            s.opts.Height,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("setting viewport: %w", err)
		}
	}
	page := newRodPage(pg)
	if url != "" {
		if err := page.Navigate(ctx, url); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("navigating to %s: %w", url, err)
		}
	}
	return page, nil
}

// Close tears the browser down immediately.
func (s *Session) Close() error {
	return s.browser.Close()
}

// CloseAfter schedules the session close d from now without blocking the
// caller, returning a channel that closes once the browser is gone. A
// non-positive d closes immediately.
func (s *Session) CloseAfter(d time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if d <= 0 {
		_ = s.Close()
		close(done)
		return done
	}
	s.logger.Info("keeping browser open", zap.Duration("for", d))
	time.AfterFunc(d, func() {
		_ = s.Close()
		close(done)
	})
	return done
}
