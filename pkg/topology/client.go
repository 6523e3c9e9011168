// Package topology keeps the hub's device view consistent with its nodes: nodes push
// their device lists to the hub, and the hub prunes devices of nodes that stop answering.
package topology

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"devicefarm/internal/model"
	"devicefarm/pkg/constants"
	"devicefarm/pkg/logger"
)

const (
	// APIPrefix path prefix served by every hub and node
	APIPrefix = "/device-farm/api"

	statusPath   = APIPrefix + "/status"
	registerPath = APIPrefix + "/register"
)

// ErrNodeUnreachable a probe or push to a peer failed
var ErrNodeUnreachable = errors.New("topology: node unreachable")

// NodeClient talks to peer hubs and nodes
type NodeClient interface {
	Probe(ctx context.Context, baseURL string) error
	PushDevices(ctx context.Context, hubURL string, devices []model.Device, intent constants.RegisterIntent) error
}

// HTTPNodeClient is the HTTP implementation of NodeClient
type HTTPNodeClient struct {
	httpClient   *http.Client
	probeTimeout time.Duration
	pushTimeout  time.Duration
}

// NewHTTPNodeClient creates a node client with per-call timeouts
func NewHTTPNodeClient(probeTimeout, pushTimeout time.Duration) *HTTPNodeClient {
	return &HTTPNodeClient{
		httpClient:   &http.Client{},
		probeTimeout: probeTimeout,
		pushTimeout:  pushTimeout,
	}
}

// Probe checks that the peer at baseURL answers its status endpoint with a 2xx status
func (c *HTTPNodeClient) Probe(ctx context.Context, baseURL string) error {
	ctx, cancel := withTimeout(ctx, c.probeTimeout)
	defer cancel()

	if _, err := c.doRequest(ctx, http.MethodGet, joinURL(baseURL, statusPath), nil); err != nil {
		return fmt.Errorf("%w: probe %s: %v", ErrNodeUnreachable, baseURL, err)
	}
	return nil
}

// PushDevices sends the device list to the hub tagged with intent
func (c *HTTPNodeClient) PushDevices(ctx context.Context, hubURL string, devices []model.Device, intent constants.RegisterIntent) error {
	ctx, cancel := withTimeout(ctx, c.pushTimeout)
	defer cancel()

	if devices == nil {
		devices = []model.Device{}
	}
	target := joinURL(hubURL, registerPath) + "?type=" + url.QueryEscape(string(intent))
	if _, err := c.doRequest(ctx, http.MethodPost, target, devices); err != nil {
		return fmt.Errorf("%w: push to %s: %v", ErrNodeUnreachable, hubURL, err)
	}
	return nil
}

// doRequest performs an HTTP request with a JSON body
func (c *HTTPNodeClient) doRequest(ctx context.Context, method, target string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}
	logger.DebugCtx(ctx, "peer request: %s %s", method, target)

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("peer error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respData)))
	}
	return respData, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

var _ NodeClient = (*HTTPNodeClient)(nil)
