package cli

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/agusx1211/grotto/internal/buildinfo"
	"github.com/agusx1211/grotto/internal/config"
	"github.com/agusx1211/grotto/internal/daemon"
)

// authTokenEnv overrides the token the CLI sends to the daemon.
const authTokenEnv = "GROTTO_AUTH_TOKEN"

// errDaemonNotRunning is returned by connectDaemon when no daemon answers.
var errDaemonNotRunning = errors.New("grotto daemon is not running (start it with 'grotto daemon start')")

// DaemonClient talks to a running daemon over its REST API.
type DaemonClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
}

type daemonErrorResponse struct {
	Error string `json:"error"`
}

// TryConnect checks for a running daemon and returns a client, or nil if none.
func TryConnect() *DaemonClient {
	state, running, err := loadDaemonState(config.PIDPath(), config.StatePath(), isPIDAlive)
	if err != nil || !running || state.PID == 0 {
		return nil
	}
	baseURL := dialableURL(state.baseURL())
	if baseURL == "" {
		return nil
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}
	if strings.HasPrefix(baseURL, "https://") {
		// The daemon's default certificate is self-signed.
		httpClient.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &DaemonClient{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
		Token:      resolveAuthToken(state),
	}
}

// connectDaemon is TryConnect for commands that cannot work without one.
func connectDaemon() (*DaemonClient, error) {
	c := TryConnect()
	if c == nil {
		return nil, errDaemonNotRunning
	}
	return c, nil
}

// resolveAuthToken picks the environment override, then the token the
// running daemon recorded, then daemon.yaml.
func resolveAuthToken(state runtimeState) string {
	if token := strings.TrimSpace(os.Getenv(authTokenEnv)); token != "" {
		return token
	}
	if token := strings.TrimSpace(state.AuthToken); token != "" {
		return token
	}
	if s, err := config.LoadDaemonSettings(config.SettingsPath()); err == nil {
		return strings.TrimSpace(s.AuthToken)
	}
	return ""
}

// dialableURL swaps a wildcard bind address for loopback.
func dialableURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return raw
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		u.Host = net.JoinHostPort("127.0.0.1", port)
	}
	return strings.TrimRight(u.String(), "/")
}

// ListSessions returns GET /api/sessions.
func (c *DaemonClient) ListSessions() ([]daemon.SessionSummary, error) {
	var out []daemon.SessionSummary
	if err := c.doJSON(http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterSession asks the daemon to supervise the session in dir.
func (c *DaemonClient) RegisterSession(id, dir string) error {
	req := map[string]string{"id": id, "dir": dir}
	return c.doJSON(http.MethodPost, "/api/sessions", req, nil, http.StatusCreated)
}

// UnregisterSession stops supervising id.
func (c *DaemonClient) UnregisterSession(id string) error {
	path := "/api/sessions/" + url.PathEscape(strings.TrimSpace(id))
	return c.doJSON(http.MethodDelete, path, nil, nil)
}

// SessionEvents returns every parseable line of the session's event log.
func (c *DaemonClient) SessionEvents(id string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	path := "/api/sessions/" + url.PathEscape(strings.TrimSpace(id)) + "/events"
	if err := c.doJSON(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WebSocketURL maps an HTTP path on the daemon to its ws:// or wss:// form.
func (c *DaemonClient) WebSocketURL(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}

// AuthHeader carries the bearer token, if any.
func (c *DaemonClient) AuthHeader() http.Header {
	h := http.Header{}
	h.Set("User-Agent", buildinfo.Current().UserAgent())
	if token := strings.TrimSpace(c.Token); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func (c *DaemonClient) doJSON(method, path string, req any, out any, okStatuses ...int) error {
	if c == nil {
		return fmt.Errorf("daemon client is nil")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}

	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	reqURL := strings.TrimRight(c.BaseURL, "/") + path
	httpReq, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	for k, v := range c.AuthHeader() {
		httpReq.Header[k] = v
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("daemon request failed: %w", err)
	}
	defer resp.Body.Close()

	if len(okStatuses) == 0 {
		okStatuses = []int{http.StatusOK}
	}
	for _, status := range okStatuses {
		if resp.StatusCode != status {
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding daemon response: %w", err)
		}
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	if len(respBody) > 0 {
		var daemonErr daemonErrorResponse
		if err := json.Unmarshal(respBody, &daemonErr); err == nil && strings.TrimSpace(daemonErr.Error) != "" {
			return fmt.Errorf("daemon request failed (%d): %s", resp.StatusCode, daemonErr.Error)
		}
	}
	return fmt.Errorf("daemon request failed with status %d", resp.StatusCode)
}
