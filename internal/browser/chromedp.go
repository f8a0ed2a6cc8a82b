package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// transientEvalHints mark evaluation failures caused by a navigation racing
// the poll; the next tick sees the new document.
var transientEvalHints = []string{
	"execution context was destroyed",
	"cannot find context with specified id",
	"inspected target navigated or closed",
}

const defaultPollInterval = 250 * time.Millisecond

// evalFunc evaluates a boolean JS expression in the page.
type evalFunc func(ctx context.Context, expr string, out *bool) error

// ChromedpPage drives one tab in an isolated browser context over CDP.
type ChromedpPage struct {
	launcher     *Launcher
	allocCancel  context.CancelFunc
	rootCancel   context.CancelFunc
	tabCtx       context.Context
	tabCancel    context.CancelFunc
	pollInterval time.Duration
	eval         evalFunc
}

// OpenChromedp launches (or reuses) Chrome and opens one page in a fresh
// browser context. The connection attaches to the browser's existing tab,
// so the session holds that tab plus the isolated page.
func OpenChromedp(ctx context.Context, cfg LaunchConfig) (*ChromedpPage, error) {
	l := NewLauncher(cfg)
	if err := l.Launch(ctx); err != nil {
		return nil, err
	}

	p := &ChromedpPage{launcher: l, pollInterval: defaultPollInterval}
	p.eval = p.evaluate

	var allocCtx context.Context
	allocCtx, p.allocCancel = chromedp.NewRemoteAllocator(context.Background(), l.CDPURL())

	var rootOpts []chromedp.ContextOption
	targetID, err := l.PageTarget(ctx)
	switch {
	case err != nil:
		slog.Debug("target list unavailable, connecting with a new tab", "error", err)
	case targetID != "":
		rootOpts = append(rootOpts, chromedp.WithTargetID(target.ID(targetID)))
	}

	rootCtx, rootCancel := chromedp.NewContext(allocCtx, rootOpts...)
	p.rootCancel = rootCancel
	if err := chromedp.Run(rootCtx); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("connect to browser at %s: %w", l.CDPURL(), err)
	}

	// The first Run on a context creates its target and binds the target's
	// lifetime to the context given, so it must be tabCtx itself.
	p.tabCtx, p.tabCancel = chromedp.NewContext(rootCtx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(p.tabCtx, page.BringToFront()); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	if c := chromedp.FromContext(p.tabCtx); c != nil && c.Target != nil {
		slog.Info("chromedp page ready", "target_id", c.Target.TargetID, "cdp_url", l.CDPURL())
	}
	return p, nil
}

// run executes actions on the tab, cancelled when either ctx or the tab ends.
func (p *ChromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *ChromedpPage) evaluate(ctx context.Context, expr string, out *bool) error {
	return p.run(ctx, chromedp.Evaluate(expr, out))
}

func (p *ChromedpPage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *ChromedpPage) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error {
	return p.waitFor(ctx, loc, StateVisible, timeout)
}

func (p *ChromedpPage) WaitHidden(ctx context.Context, loc Locator, timeout time.Duration) error {
	return p.waitFor(ctx, loc, StateHidden, timeout)
}

// Click clicks the first rendered match, the same element WaitVisible saw.
func (p *ChromedpPage) Click(ctx context.Context, loc Locator) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	var clicked bool
	if err := p.eval(ctx, clickExpr(loc), &clicked); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	if !clicked {
		return fmt.Errorf("click %s: no visible match", loc)
	}
	return nil
}

// Close releases the tab, its browser context, and a browser this page
// launched.
func (p *ChromedpPage) Close() error {
	if p.tabCancel != nil {
		p.tabCancel()
	}
	if p.rootCancel != nil {
		p.rootCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	if p.launcher != nil {
		p.launcher.Stop()
	}
	slog.Info("chromedp page closed")
	return nil
}

func (p *ChromedpPage) waitFor(ctx context.Context, loc Locator, state string, timeout time.Duration) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	expr := visibilityExpr(loc)
	want := state == StateVisible
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		var visible bool
		err := p.eval(waitCtx, expr, &visible)
		switch {
		case err == nil && visible == want:
			return nil
		case err != nil && waitCtx.Err() == nil && !isTransientEval(err):
			return fmt.Errorf("wait for %s to be %s: %w", loc, state, err)
		case err != nil:
			slog.Debug("visibility poll failed, retrying", "locator", loc.String(), "error", err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &WaitTimeoutError{Locator: loc, State: state, Timeout: timeout, Cause: waitCtx.Err()}
		case <-ticker.C:
		}
	}
}

func isTransientEval(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range transientEvalHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

const (
	asciiUpper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	asciiLower = "abcdefghijklmnopqrstuvwxyz"
)

// textXPath matches elements whose normalized text contains loc.Text,
// ignoring ASCII case like playwright's :has-text.
func textXPath(loc Locator) string {
	tag := loc.Tag
	if tag == "" {
		tag = "*"
	}
	return fmt.Sprintf(`//%s[contains(translate(normalize-space(.), "%s", "%s"), %s)]`,
		tag, asciiUpper, asciiLower, xpathLiteral(lowerASCII(loc.Text)))
}

func lowerASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if part != "" {
			quoted = append(quoted, `"`+part+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// firstVisibleJS binds el to the first rendered element in the document
// matching loc, or null. Detached elements are never found.
func firstVisibleJS(loc Locator) string {
	var find string
	if loc.IsText() {
		find = `const snap = document.evaluate(` + jsString(textXPath(loc)) + `, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
const nodes = [];
for (let i = 0; i < snap.snapshotLength; i++) nodes.push(snap.snapshotItem(i));`
	} else {
		find = `const nodes = Array.from(document.querySelectorAll(` + jsString(loc.CSS) + `));`
	}
	return find + `
const el = nodes.find(function(n) {
  const style = window.getComputedStyle(n);
  if (style.visibility === "hidden" || style.display === "none") return false;
  const r = n.getBoundingClientRect();
  return r.width > 0 && r.height > 0;
}) || null;`
}

// visibilityExpr evaluates to true when any element matching loc is rendered.
func visibilityExpr(loc Locator) string {
	return "(function(){\n" + firstVisibleJS(loc) + "\nreturn el !== null;\n})()"
}

// clickExpr clicks the first rendered match and reports whether there was one.
func clickExpr(loc Locator) string {
	return "(function(){\n" + firstVisibleJS(loc) + `
if (el === null) return false;
el.scrollIntoView({block: "center", inline: "center"});
el.click();
return true;
})()`
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}
