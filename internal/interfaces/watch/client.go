// Package watch is the subscriber side of the realtime feed: it follows
// letter events over a websocket and reconciles them against the HTTP API.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/notify"
	"github.com/garyjia/letter-approval/internal/domain/event"
)

// headerActorID must match the server's identity header
const headerActorID = "X-Actor-ID"

// Client talks to one letter approval server as one actor
type Client struct {
	baseURL *url.URL
	actorID string
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL, actorID string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", u.Scheme)
	}
	if actorID == "" {
		return nil, fmt.Errorf("actor id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: u,
		actorID: actorID,
		http:    &http.Client{Timeout: timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		logger:  logger,
	}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// get performs an authenticated GET and decodes the envelope's data into dst
func (c *Client) get(ctx context.Context, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(headerActorID, c.actorID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("GET %s: status %d: undecodable body", path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, env.Error)
	}
	return json.Unmarshal(env.Data, dst)
}

// FetchLetter reads the authoritative state of one letter
func (c *Client) FetchLetter(ctx context.Context, letterID string) (*notify.Snapshot, error) {
	var snap notify.Snapshot
	if err := c.get(ctx, "/api/letters/"+url.PathEscape(letterID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Tracked lists the letters the actor submitted or is assigned, each once
func (c *Client) Tracked(ctx context.Context) ([]notify.Snapshot, error) {
	var mine, assigned []notify.Snapshot
	if err := c.get(ctx, "/api/letters", &mine); err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/api/assigned", &assigned); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(mine)+len(assigned))
	out := make([]notify.Snapshot, 0, len(mine)+len(assigned))
	for _, s := range append(mine, assigned...) {
		if seen[s.LetterID] {
			continue
		}
		seen[s.LetterID] = true
		out = append(out, s)
	}
	return out, nil
}

// websocketURL maps the server url onto its /ws endpoint
func (c *Client) websocketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// Subscribe streams letter events to handle until ctx ends or the
// connection drops. It returns nil only when ctx was cancelled.
func (c *Client) Subscribe(ctx context.Context, handle func(*event.Event)) error {
	header := http.Header{}
	header.Set(headerActorID, c.actorID)

	conn, _, err := c.dialer.DialContext(ctx, c.websocketURL(), header)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on cancellation
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	c.logger.Info("Subscribed to letter events", zap.String("actor_id", c.actorID))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("server closed the connection")
			}
			return fmt.Errorf("read websocket: %w", err)
		}

		var msg notify.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping undecodable frame", zap.Error(err))
			continue
		}
		if msg.Kind != notify.MessageKindLetterEvent || msg.Event == nil {
			continue
		}
		handle(msg.Event)
	}
}
