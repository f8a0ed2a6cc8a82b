package browser

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Engine names accepted by Open.
const (
	EngineChromedp   = "chromedp"
	EnginePlaywright = "playwright"
)

// Page is the single browser tab a tagging run drives.
//
// A timeout <= 0 on a wait means the wait only ends with ctx. A bounded wait
// that expires returns *WaitTimeoutError; everything else is a plain error.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error
	WaitHidden(ctx context.Context, loc Locator, timeout time.Duration) error
	Click(ctx context.Context, loc Locator) error
	Close() error
}

// Locator identifies one element, either by CSS selector or by tag and
// visible label text.
type Locator struct {
	CSS  string
	Tag  string
	Text string
}

// ByCSS returns a CSS locator.
func ByCSS(selector string) Locator { return Locator{CSS: selector} }

// ByText returns a locator for a tag whose visible text contains text.
func ByText(tag, text string) Locator { return Locator{Tag: tag, Text: text} }

func (l Locator) String() string {
	if l.CSS != "" {
		return l.CSS
	}
	tag := l.Tag
	if tag == "" {
		tag = "*"
	}
	return fmt.Sprintf("%s:has-text(%q)", tag, l.Text)
}

// IsText reports whether the locator matches on label text.
func (l Locator) IsText() bool { return l.CSS == "" && l.Text != "" }

// Validate rejects a locator that names nothing.
func (l Locator) Validate() error {
	if strings.TrimSpace(l.CSS) == "" && strings.TrimSpace(l.Text) == "" {
		return fmt.Errorf("locator needs a css selector or label text")
	}
	return nil
}

// Wait states.
const (
	StateVisible = "visible"
	StateHidden  = "hidden"
)

// WaitTimeoutError is returned when a bounded visibility wait expires.
type WaitTimeoutError struct {
	Locator Locator
	State   string
	Timeout time.Duration
	Cause   error
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s to be %s", e.Timeout, e.Locator, e.State)
}

func (e *WaitTimeoutError) Unwrap() error { return e.Cause }
