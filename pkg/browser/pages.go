package browser

import (
	"context"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Page is a single blank tab. Callers must Release it when done; Release is
// safe to call more than once.
type Page struct {
	page    *rod.Page
	manager *Manager
	once    sync.Once
}

// AcquirePage opens a fresh blank page on the running browser.
func (m *Manager) AcquirePage(ctx context.Context) (*Page, error) {
	m.mu.RLock()
	browser := m.browser
	running := m.running
	m.mu.RUnlock()

	if !running || browser == nil {
		return nil, errorf(ErrCodeBrowserCrash, "Browser not running")
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, errorf(ErrCodeBrowserCrash, "Failed to create page: %v", err)
	}

	m.metrics.BrowserPagesActive.Inc()
	return &Page{page: page, manager: m}, nil
}

// SetContent replaces the page document with the given HTML.
func (p *Page) SetContent(ctx context.Context, doc string) error {
	if err := p.page.Context(ctx).SetDocumentContent(doc); err != nil {
		return errorf(ErrCodeScriptExecution, "Failed to set page content: %v", err)
	}
	return nil
}

// WaitStable blocks until every image in the document has been fetched and
// decoded, so the screenshot never captures half-loaded content.
func (p *Page) WaitStable(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => Promise.all(Array.from(document.images).map(img => img.decode()))`)
	if err != nil {
		return errorf(ErrCodeScriptExecution, "Images did not finish loading: %v", err)
	}
	return nil
}

// CaptureFullPage screenshots the entire document extent as a PNG.
func (p *Page) CaptureFullPage(ctx context.Context) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return nil, errorf(ErrCodeScriptExecution, "Failed to capture screenshot: %v", err)
	}
	return data, nil
}

// Release closes the tab and returns it to the browser.
func (p *Page) Release() {
	p.once.Do(func() {
		if err := p.page.Close(); err != nil {
			p.manager.logger.Debug().Err(err).Msg("Failed to close page")
		}
		p.manager.metrics.BrowserPagesActive.Dec()
	})
}
