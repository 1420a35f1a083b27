package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawden/internal/dispatch"
)

var errNoBrowser = errors.New("no browser session; call browser_launch first")

type browserSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

func (s *browserSession) close() {
	if s.browser != nil {
		_ = s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
}

// browserPool keeps at most one headless browser per session.
type browserPool struct {
	mu       sync.Mutex
	sessions map[string]*browserSession
}

func newBrowserPool() *browserPool {
	return &browserPool{sessions: make(map[string]*browserSession)}
}

func (p *browserPool) get(sessionID string) (*browserSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	return s, ok
}

func (p *browserPool) closeAll() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*browserSession)
	p.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// BrowserLaunch starts a headless browser for the session. Launching twice
// reuses the existing instance.
func (t *Tools) BrowserLaunch(_ context.Context, call *dispatch.Call) (map[string]any, error) {
	p := t.browsers
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[call.Session.ID]; ok {
		return map[string]any{"launched": true, "reused": true}, nil
	}

	l := launcher.New().Headless(true).NoSandbox(true)
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("open page: %w", err)
	}

	p.sessions[call.Session.ID] = &browserSession{launcher: l, browser: b, page: page}
	return map[string]any{"launched": true}, nil
}

// BrowserNavigate loads a URL in the session's page. The URL passes the same
// SSRF checks as web_fetch.
func (t *Tools) BrowserNavigate(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	s, ok := t.browsers.get(call.Session.ID)
	if !ok {
		return nil, errNoBrowser
	}
	rawURL := argString(call.Args, "url")
	if err := checkSSRF(rawURL); err != nil {
		return nil, fmt.Errorf("SSRF protection: %w", err)
	}
	page := s.page.Context(ctx)
	if err := page.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}
	return map[string]any{"url": info.URL, "title": info.Title}, nil
}

// BrowserSnapshot returns the page title, URL and the visible text of
// interactive elements.
func (t *Tools) BrowserSnapshot(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	s, ok := t.browsers.get(call.Session.ID)
	if !ok {
		return nil, errNoBrowser
	}
	maxElements := argInt(call.Args, "maxElements", 100)

	page := s.page.Context(ctx)
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}
	elements, err := page.Elements("a, button, input, textarea, select, [role=button]")
	if err != nil {
		return nil, fmt.Errorf("query elements: %w", err)
	}

	var items []map[string]any
	for i, el := range elements {
		if i >= maxElements {
			break
		}
		desc, err := el.Describe(0, false)
		if err != nil {
			continue
		}
		text, _ := el.Text()
		items = append(items, map[string]any{
			"tag":  strings.ToLower(desc.LocalName),
			"text": strings.TrimSpace(text),
		})
	}
	return map[string]any{"url": info.URL, "title": info.Title, "elements": items}, nil
}

// BrowserClick clicks the first element matching the selector.
func (t *Tools) BrowserClick(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	s, ok := t.browsers.get(call.Session.ID)
	if !ok {
		return nil, errNoBrowser
	}
	selector := argString(call.Args, "selector")
	page := s.page.Context(ctx)
	el, err := page.Timeout(10 * time.Second).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("click %q: %w", selector, err)
	}
	return map[string]any{"clicked": selector}, nil
}

// BrowserType types text into the first element matching the selector.
func (t *Tools) BrowserType(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	s, ok := t.browsers.get(call.Session.ID)
	if !ok {
		return nil, errNoBrowser
	}
	selector := argString(call.Args, "selector")
	page := s.page.Context(ctx)
	el, err := page.Timeout(10 * time.Second).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element %q: %w", selector, err)
	}
	if err := el.Input(argString(call.Args, "text")); err != nil {
		return nil, fmt.Errorf("type into %q: %w", selector, err)
	}
	return map[string]any{"typed": selector}, nil
}

// BrowserScreenshot captures the viewport into the session scratch tier and
// returns the relative path.
func (t *Tools) BrowserScreenshot(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	s, ok := t.browsers.get(call.Session.ID)
	if !ok {
		return nil, errNoBrowser
	}
	data, err := s.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}

	scratch, err := t.ws.ScratchDir(call.Session.ID)
	if err != nil {
		return nil, err
	}
	name := argString(call.Args, "path")
	if name == "" {
		name = "screenshot-" + uuid.NewString()[:8] + ".png"
	}
	abs := filepath.Join(scratch, filepath.Base(name))
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return nil, fmt.Errorf("write screenshot: %w", err)
	}
	return map[string]any{"path": filepath.Base(name), "bytes": len(data)}, nil
}

// BrowserClose ends the session's browser.
func (t *Tools) BrowserClose(_ context.Context, call *dispatch.Call) (map[string]any, error) {
	p := t.browsers
	p.mu.Lock()
	s, ok := p.sessions[call.Session.ID]
	delete(p.sessions, call.Session.ID)
	p.mu.Unlock()
	if ok {
		s.close()
	}
	return map[string]any{"closed": ok}, nil
}
