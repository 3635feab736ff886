package conn

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

// Strategy is one way of establishing the push channel. Strategies are
// tried in a fixed order; they differ in transport restrictions and in
// how the endpoint address is derived from the configured base URL.
type Strategy struct {
	Name string
	// URL derives the websocket endpoint from the server base URL.
	URL func(base *url.URL) string
	// Opts are the dial options this strategy allows.
	Opts *websocket.DialOptions
}

// Strategies returns the fixed establishment ladder. The first rung is
// the most restrictive (secure transport only); the last is the
// plaintext fallback for local or proxied deployments.
func Strategies() []Strategy {
	return []Strategy{
		{
			Name: "secure",
			URL:  func(base *url.URL) string { return endpoint(base, "wss") },
			Opts: &websocket.DialOptions{
				CompressionMode: websocket.CompressionDisabled,
			},
		},
		{
			Name: "address-relative",
			URL: func(base *url.URL) string {
				scheme := "ws"
				if base.Scheme == "https" || base.Scheme == "wss" {
					scheme = "wss"
				}
				return endpoint(base, scheme)
			},
			Opts: &websocket.DialOptions{
				CompressionMode: websocket.CompressionDisabled,
			},
		},
		{
			Name: "permissive",
			URL: func(base *url.URL) string {
				scheme := "ws"
				if base.Scheme == "https" || base.Scheme == "wss" {
					scheme = "wss"
				}
				return endpoint(base, scheme)
			},
			Opts: &websocket.DialOptions{
				CompressionMode: websocket.CompressionContextTakeover,
			},
		},
		{
			Name: "plaintext",
			URL:  func(base *url.URL) string { return endpoint(base, "ws") },
			Opts: &websocket.DialOptions{
				CompressionMode: websocket.CompressionDisabled,
			},
		},
	}
}

func endpoint(base *url.URL, scheme string) string {
	u := *base
	u.Scheme = scheme
	u.Path = "/ws"
	return u.String()
}

// Channel is the established transport, narrowed to what the manager
// needs so tests can substitute an in-memory double.
type Channel interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer establishes one channel. The production dialer wraps
// websocket.Dial; tests inject their own.
type Dialer func(ctx context.Context, endpoint string, opts *websocket.DialOptions) (Channel, error)

// DefaultDialer dials a real websocket.
func DefaultDialer(ctx context.Context, endpoint string, opts *websocket.DialOptions) (Channel, error) {
	ws, _, err := websocket.Dial(ctx, endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &wsChannel{conn: ws}, nil
}

type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsChannel) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client closed")
}
