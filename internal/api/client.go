package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"
)

const maxIDLength = 256

// Client fetches peer identities from the relay's HTTP API.
type Client struct {
	relay domain.RelayConfig
	http  *http.Client
}

// NewClient creates an API client for the given relay.
func NewClient(relay domain.RelayConfig, timeout time.Duration) *Client {
	return &Client{
		relay: relay,
		http:  &http.Client{Timeout: timeout},
	}
}

func cacheBuster() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + hex.EncodeToString(buf)
}

// FetchID asks the relay to allocate a new peer identity.
func (c *Client) FetchID(ctx context.Context) (domain.PeerID, error) {
	u := fmt.Sprintf("%s%s/id?ts=%s", c.relay.HTTPBase(), c.relay.Key, cacheBuster())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create http request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIDLength+1))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	id := strings.TrimSpace(string(body))
	if id == "" {
		return "", fmt.Errorf("relay returned an empty id")
	}
	if len(id) > maxIDLength {
		return "", fmt.Errorf("relay returned an oversized id")
	}
	return domain.PeerID(id), nil
}
