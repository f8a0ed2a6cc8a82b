package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightConfig holds launch settings for the playwright engine.
type PlaywrightConfig struct {
	Headless bool
	// Install downloads the driver and Chromium before the first run.
	Install bool
}

// PlaywrightPage drives one page of a fresh playwright browser context.
type PlaywrightPage struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	// interrupt unblocks a playwright call in flight. Playwright calls do
	// not take a context, so cancellation closes the page instead.
	interrupt func()
}

// OpenPlaywright starts the playwright driver, launches Chromium and opens
// one page in a new browser context.
func OpenPlaywright(cfg PlaywrightConfig) (*PlaywrightPage, error) {
	if cfg.Install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	p := &PlaywrightPage{pw: pw}

	p.browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	p.bctx, err = p.browser.NewContext()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("new browser context: %w", err)
	}

	p.page, err = p.bctx.NewPage()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}

	p.interrupt = func() {
		if err := p.page.Close(); err != nil {
			slog.Debug("page close on cancel failed", "error", err)
		}
	}

	slog.Info("playwright page ready", "headless", cfg.Headless, "browser_version", p.browser.Version())
	return p, nil
}

func (p *PlaywrightPage) Navigate(ctx context.Context, url string) error {
	return p.guard(ctx, func() error {
		if _, err := p.page.Goto(url); err != nil {
			return fmt.Errorf("navigate to %s: %w", url, err)
		}
		return nil
	})
}

func (p *PlaywrightPage) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error {
	return p.waitFor(ctx, loc, StateVisible, timeout)
}

func (p *PlaywrightPage) WaitHidden(ctx context.Context, loc Locator, timeout time.Duration) error {
	return p.waitFor(ctx, loc, StateHidden, timeout)
}

// Click clicks the first rendered match, the same element WaitVisible saw.
func (p *PlaywrightPage) Click(ctx context.Context, loc Locator) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	return p.guard(ctx, func() error {
		if err := p.page.Locator(playwrightVisibleSelector(loc)).First().Click(); err != nil {
			return fmt.Errorf("click %s: %w", loc, err)
		}
		return nil
	})
}

// guard runs call and interrupts it when ctx ends. A cancelled ctx wins over
// whatever error the interrupted call returned.
func (p *PlaywrightPage) guard(ctx context.Context, call func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, p.interrupt)
	defer stop()

	err := call()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close tears down page, context, browser and driver in that order.
func (p *PlaywrightPage) Close() error {
	var errs []error
	if p.page != nil {
		if err := p.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if p.bctx != nil {
		if err := p.bctx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
	}
	slog.Info("playwright page closed")
	return errors.Join(errs...)
}

func (p *PlaywrightPage) waitFor(ctx context.Context, loc Locator, state string, timeout time.Duration) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	return p.guard(ctx, func() error {
		err := p.page.Locator(playwrightVisibleSelector(loc)).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwrightState(state),
			Timeout: playwright.Float(playwrightTimeout(timeout)),
		})
		return mapPlaywrightWaitErr(err, loc, state, timeout)
	})
}

func mapPlaywrightWaitErr(err error, loc Locator, state string, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	if timeout > 0 && errors.Is(err, playwright.ErrTimeout) {
		return &WaitTimeoutError{Locator: loc, State: state, Timeout: timeout, Cause: err}
	}
	return fmt.Errorf("wait for %s to be %s: %w", loc, state, err)
}

// playwrightSelector renders a locator in playwright selector syntax.
func playwrightSelector(loc Locator) string {
	return loc.String()
}

// playwrightVisibleSelector narrows the selector to rendered matches, so
// visible means some match is rendered and hidden means none is.
func playwrightVisibleSelector(loc Locator) string {
	return playwrightSelector(loc) + " >> visible=true"
}

func playwrightState(state string) *playwright.WaitForSelectorState {
	if state == StateHidden {
		return playwright.WaitForSelectorStateHidden
	}
	return playwright.WaitForSelectorStateVisible
}

// playwrightTimeout converts to milliseconds; 0 disables playwright's timeout.
func playwrightTimeout(timeout time.Duration) float64 {
	if timeout <= 0 {
		return 0
	}
	return float64(timeout.Milliseconds())
}
