package browser

import (
	"context"
	"fmt"
)

// Options selects an engine and carries its launch settings.
type Options struct {
	Engine     string
	Launch     LaunchConfig
	Playwright PlaywrightConfig
}

// Open acquires the run's single page on the requested engine.
func Open(ctx context.Context, opts Options) (Page, error) {
	switch opts.Engine {
	case EngineChromedp, "":
		return OpenChromedp(ctx, opts.Launch)
	case EnginePlaywright:
		return OpenPlaywright(opts.Playwright)
	default:
		return nil, fmt.Errorf("unknown browser engine %q", opts.Engine)
	}
}
