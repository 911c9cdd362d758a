package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
)

// Client is the device-side relay transport. It implements
// interfaces.MessageTransport by POSTing messages into peers' mailboxes
// and polling its own.
type Client struct {
	baseURL    string
	self       interfaces.PeerID
	httpClient *http.Client
}

// NewClient creates a relay client for the device identified by self.
//
// Parameters:
//   - baseURL: the relay's base URL (e.g. "https://relay.example.com")
//   - self: this device's peer id, polled for inbound messages
//   - timeout: request timeout duration (optional, default 30 seconds)
func NewClient(baseURL string, self interfaces.PeerID, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		self:    self,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// Send queues a payload in the recipient's mailbox on the relay.
func (c *Client) Send(ctx context.Context, to interfaces.PeerID, payload []byte) error {
	url := fmt.Sprintf("%s/api/relay/%s", c.baseURL, to)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(SenderHeader, c.self.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: relay rejected recipient %s", interfaces.ErrUnknownPeer, to)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("send request failed with code %d", resp.StatusCode)
	}

	return nil
}

// Poll fetches one queued message addressed to this device. Returns
// interfaces.ErrNoMessage when the mailbox is empty.
func (c *Client) Poll(ctx context.Context) (interfaces.Inbound, error) {
	url := fmt.Sprintf("%s/api/relay/%s", c.baseURL, c.self)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return interfaces.Inbound{}, fmt.Errorf("failed to create poll request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return interfaces.Inbound{}, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return interfaces.Inbound{}, interfaces.ErrNoMessage
	}
	if resp.StatusCode != http.StatusOK {
		return interfaces.Inbound{}, fmt.Errorf("poll request failed with code %d", resp.StatusCode)
	}

	from, err := interfaces.ParsePeerID(resp.Header.Get(SenderHeader))
	if err != nil {
		return interfaces.Inbound{}, fmt.Errorf("relay returned invalid sender: %w", err)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
	if err != nil {
		return interfaces.Inbound{}, fmt.Errorf("failed to read polled message: %w", err)
	}

	return interfaces.Inbound{From: from, Payload: payload}, nil
}
