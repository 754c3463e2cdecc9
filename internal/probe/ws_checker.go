package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WSChecker measures reachability of a realtime endpoint by opening a
// short-lived websocket, sending a probe frame and waiting for any
// frame back. The latency reported is the full dial-to-first-frame
// round trip, which tracks what session setup will actually cost.
type WSChecker struct {
	wsURL      string
	apiKey     string
	relayToken string
}

func NewWSChecker(wsURL, apiKey, relayToken string) *WSChecker {
	return &WSChecker{
		wsURL:      strings.TrimRight(strings.TrimSpace(wsURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		relayToken: strings.TrimSpace(relayToken),
	}
}

func (c *WSChecker) Check(ctx context.Context, agentID string) (time.Duration, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return 0, fmt.Errorf("parse probe url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("xi-api-key", c.apiKey)
	}
	if c.relayToken != "" {
		headers.Set("Authorization", "Bearer "+c.relayToken)
	}

	start := time.Now()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return 0, fmt.Errorf("dial probe: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	payload, _ := json.Marshal(map[string]any{"message_type": "probe"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return 0, fmt.Errorf("write probe frame: %w", err)
	}
	if _, _, err := conn.ReadMessage(); err != nil {
		return 0, fmt.Errorf("await probe response: %w", err)
	}
	return time.Since(start), nil
}
