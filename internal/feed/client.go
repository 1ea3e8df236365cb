package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client consumes the websocket feed of another tagtrack instance or of
// the anchors' gateway. Run under Mux.Monitor it reconnects with backoff.
type Client struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

func (c *Client) Name() string { return "websocket " + c.URL }

// Run dials the feed and publishes every text message until the connection
// drops or ctx is cancelled.
func (c *Client) Run(ctx context.Context, sink Sink) error {
	dialer := c.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, resp, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.URL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	sink.SetConnected(true)
	logf("connected to %s", c.URL)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read %s: %w", c.URL, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		if payload := strings.TrimSpace(string(data)); payload != "" {
			sink.Publish(payload)
		}
	}
}
