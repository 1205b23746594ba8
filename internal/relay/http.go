package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pinpoint/internal/domain"
)

// StatusError is a non-2xx relay response.
type StatusError struct {
	Method  string
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("relay %s %s: %d %s", e.Method, e.URL, e.Code, e.Message)
	}
	return fmt.Sprintf("relay %s %s: %d", e.Method, e.URL, e.Code)
}

// HTTP is a domain.RelayClient talking to a relay Server.
type HTTP struct {
	base   string
	client *http.Client
	dialer *websocket.Dialer
}

// NewHTTP returns a client for the relay at base. A non-positive timeout
// leaves requests bounded only by their context.
func NewHTTP(base string, timeout time.Duration) *HTTP {
	c := &http.Client{}
	if timeout > 0 {
		c.Timeout = timeout
	}
	return &HTTP{
		base:   strings.TrimRight(base, "/"),
		client: c,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *HTTP) PublishUserKeys(ctx context.Context, userID domain.UserID, keys domain.UserPublicKeys) error {
	return c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID.String())+"/keys", keys, nil)
}

func (c *HTTP) GetUserKeys(ctx context.Context, userID domain.UserID) (domain.PublicKeyBundle, error) {
	var out domain.PublicKeyBundle
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID.String())+"/keys", nil, &out); err != nil {
		return domain.PublicKeyBundle{}, err
	}
	return out, nil
}

func (c *HTTP) SendEnvelope(ctx context.Context, env domain.Envelope) error {
	return c.do(ctx, http.MethodPost, "/messages", env, nil)
}

func (c *HTTP) FetchEnvelopes(ctx context.Context, userID domain.UserID, limit int) ([]domain.Envelope, error) {
	path := "/messages/" + url.PathEscape(userID.String())
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var envs []domain.Envelope
	if err := c.do(ctx, http.MethodGet, path, nil, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

func (c *HTTP) AckEnvelopes(ctx context.Context, userID domain.UserID, count int) error {
	return c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(userID.String())+"/ack", ackRequest{Count: count}, nil)
}

// Subscribe opens the push channel for userID. The returned channel closes
// when ctx ends or the connection drops.
func (c *HTTP) Subscribe(ctx context.Context, userID domain.UserID) (<-chan domain.Envelope, error) {
	wsURL, err := c.websocketURL("/ws/" + url.PathEscape(userID.String()))
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}

	out := make(chan domain.Envelope, 16)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(stop)
		for {
			var env domain.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *HTTP) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.base + path)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func (c *HTTP) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	u := c.base + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		se := &StatusError{Method: method, URL: u, Code: resp.StatusCode}
		var eb errorBody
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb) == nil {
			se.Message = eb.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrUnknownUser, se)
		}
		return se
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

var _ domain.RelayClient = (*HTTP)(nil)
