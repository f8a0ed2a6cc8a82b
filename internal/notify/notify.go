package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgnsrekt/dex_autotag/internal/tagger"
)

// RunSummary renders the plain-text message sent when a run ends.
func RunSummary(st tagger.Status, runErr error) string {
	if runErr != nil {
		return fmt.Sprintf("Dex auto-tag run %s aborted after %d of %d contacts (%d tagged, %d skipped): %v",
			st.RunID, st.Tagged+st.Skipped, st.Total, st.Tagged, st.Skipped, runErr)
	}
	return fmt.Sprintf("Dex auto-tag run %s finished: %d contacts, %d tagged, %d skipped",
		st.RunID, st.Total, st.Tagged, st.Skipped)
}

// Send posts message to an ntfy-style endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if strings.TrimSpace(endpoint) == "" {
		return errors.New("notify endpoint is empty")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "Dex auto-tag")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
