package cdp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Target represents a CDP target (page, worker, etc).
type Target struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Description  string `json:"description,omitempty"`
	WebSocketURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// FetchTargets retrieves /json/list from the devtools socket selected by opts.
// The same address fallback as Connect applies. The socket carries plain HTTP
// here, so one request is written and the connection is closed afterwards.
func FetchTargets(ctx context.Context, opts Options) ([]Target, error) {
	opts = opts.withDefaults()

	sock, _, err := dialSocket(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = sock.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost/json/list", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := req.Write(sock); err != nil {
		return nil, fmt.Errorf("fetch targets: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(sock), req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch targets: %w", ctx.Err())
		}
		return nil, fmt.Errorf("fetch targets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var targets []Target
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}

	return targets, nil
}

// FindPageTarget returns the first page-type target from the list.
func FindPageTarget(targets []Target) *Target {
	for i := range targets {
		if targets[i].Type == "page" {
			return &targets[i]
		}
	}
	return nil
}
