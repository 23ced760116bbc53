package intercom

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/config"
)

// Defaults for device HTTP access.
const (
	// defaultRequestTimeout bounds every request to the device.
	defaultRequestTimeout = 10 * time.Second

	// rtspPath is the fixed H.264 stream path on 2N firmware.
	rtspPath = "h264_stream"

	// rtspDefaultPort is used when the configured API port is a
	// standard HTTP port and cannot carry RTSP.
	rtspDefaultPort = 554

	// Snapshot fallback resolution, accepted by every 2N camera model.
	snapshotFallbackWidth  = 640
	snapshotFallbackHeight = 480

	// errCodeInvalidResolution is the device error code for an
	// unsupported snapshot resolution.
	errCodeInvalidResolution = 12

	// maxErrorBodyBytes caps how much of an error body is read for
	// diagnostics.
	maxErrorBodyBytes = 4096
)

// Client talks to one 2N intercom over its HTTP API.
//
// The client is stateless apart from the underlying connection pool and is
// safe for concurrent use from multiple goroutines. It performs no retries;
// callers own retry policy.
type Client struct {
	httpClient *http.Client
	baseURL    string
	host       string
	port       int
	username   string
	password   string
}

// envelope is the common response wrapper on all JSON endpoints.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *apiError       `json:"error"`
}

// apiError is the device-side error detail inside a failed envelope.
type apiError struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// New creates a device client from its configuration.
//
// TLS certificate verification follows cfg.VerifyTLS; 2N devices ship
// with self-signed certificates so it defaults to off.
//
// Parameters:
//   - cfg: Device connection settings from config.yaml
//
// Returns:
//   - *Client: Ready for use; no connection is made until the first call
func New(cfg config.DeviceConfig) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifyTLS, // #nosec G402 -- self-signed device certs, opt-in verification
			MinVersion:         tls.VersionTLS12,
		},
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   defaultRequestTimeout,
			Transport: transport,
		},
		baseURL:  cfg.BaseURL(),
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// GetCallStatus polls /api/call/status and returns a normalised snapshot.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - CallSnapshot: Immutable point-in-time call state
//   - error: ErrConnection, ErrAuth or ErrProtocol
func (c *Client) GetCallStatus(ctx context.Context) (CallSnapshot, error) {
	started := time.Now()
	result, err := c.getJSON(ctx, "/api/call/status", nil)
	if err != nil {
		return CallSnapshot{}, err
	}
	observed := time.Now()

	var raw struct {
		State     string      `json:"state"`
		Direction string      `json:"direction"`
		Caller    *CallerInfo `json:"caller"`
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &raw); err != nil {
			return CallSnapshot{}, fmt.Errorf("%w: decoding call status: %w", ErrProtocol, err)
		}
	}

	state := normaliseCallState(raw.State)
	caller := raw.Caller
	if caller != nil && caller.IsZero() {
		caller = nil
	}

	return CallSnapshot{
		Ringing:    state == CallStateRinging,
		State:      state,
		Direction:  raw.Direction,
		Caller:     caller,
		ObservedAt: observed,
		Latency:    observed.Sub(started),
	}, nil
}

// normaliseCallState maps the raw device state string onto the CallState
// enum. Unrecognised values map to Unknown rather than failing the poll.
func normaliseCallState(raw string) CallState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "idle":
		return CallStateIdle
	case "ringing":
		return CallStateRinging
	case "connected", "call":
		return CallStateConnected
	default:
		return CallStateUnknown
	}
}

// ControlRelay issues a raw on/off action against one relay via
// /api/switch/ctrl.
//
// The side effect is physical and not idempotent-safe to retry blindly;
// callers must serialise and debounce.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - index: Hardware switch number (1-4)
//   - action: RelayActionOn or RelayActionOff
//
// Returns:
//   - bool: Whether the device accepted the command
//   - error: ErrConnection, ErrAuth or ErrProtocol
func (c *Client) ControlRelay(ctx context.Context, index int, action RelayAction) (bool, error) {
	params := url.Values{}
	params.Set("switch", strconv.Itoa(index))
	params.Set("action", string(action))

	env, err := c.getEnvelope(ctx, "/api/switch/ctrl", params)
	if err != nil {
		return false, err
	}
	return env.Success, nil
}

// TriggerRelay pulses one relay via /api/switch/ctrl with action=trigger.
//
// The device holds the relay closed for the given duration and releases
// it itself, which survives a daemon crash mid-pulse.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - index: Hardware switch number (1-4)
//   - durationMS: Pulse length in milliseconds (device-enforced)
//
// Returns:
//   - bool: Whether the device accepted the command
//   - error: ErrConnection, ErrAuth or ErrProtocol
func (c *Client) TriggerRelay(ctx context.Context, index int, durationMS int) (bool, error) {
	params := url.Values{}
	params.Set("switch", strconv.Itoa(index))
	params.Set("action", string(RelayActionTrigger))
	if durationMS > 0 {
		params.Set("duration", strconv.Itoa(durationMS))
	}

	env, err := c.getEnvelope(ctx, "/api/switch/ctrl", params)
	if err != nil {
		return false, err
	}
	return env.Success, nil
}

// GetDirectory fetches directory entries from /api/dir/query.
//
// Firmware versions differ on the result shape: some wrap entries in a
// "users" object, some return a bare array. Both are handled.
func (c *Client) GetDirectory(ctx context.Context) ([]DirectoryEntry, error) {
	result, err := c.getJSON(ctx, "/api/dir/query", nil)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	var wrapped struct {
		Users []DirectoryEntry `json:"users"`
	}
	if err := json.Unmarshal(result, &wrapped); err == nil && wrapped.Users != nil {
		return wrapped.Users, nil
	}

	var entries []DirectoryEntry
	if err := json.Unmarshal(result, &entries); err == nil {
		return entries, nil
	}

	return nil, fmt.Errorf("%w: unrecognised directory shape", ErrProtocol)
}

// GetSystemInfo fetches device identity from /api/system/info.
func (c *Client) GetSystemInfo(ctx context.Context) (SystemInfo, error) {
	result, err := c.getJSON(ctx, "/api/system/info", nil)
	if err != nil {
		return SystemInfo{}, err
	}

	var info SystemInfo
	if len(result) > 0 {
		if err := json.Unmarshal(result, &info); err != nil {
			return SystemInfo{}, fmt.Errorf("%w: decoding system info: %w", ErrProtocol, err)
		}
	}
	return info, nil
}

// GetSnapshot fetches a JPEG frame from /api/camera/snapshot.
//
// Width and height of zero request the fallback resolution (640x480).
// If the device rejects the requested resolution (error code 12), the
// call retries once at the fallback resolution.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - width, height: Requested resolution in pixels
//
// Returns:
//   - []byte: JPEG image data
//   - error: ErrConnection, ErrAuth or ErrProtocol
func (c *Client) GetSnapshot(ctx context.Context, width, height int) ([]byte, error) {
	if width <= 0 {
		width = snapshotFallbackWidth
	}
	if height <= 0 {
		height = snapshotFallbackHeight
	}

	data, retryable, err := c.fetchSnapshot(ctx, width, height)
	if err != nil && retryable && (width != snapshotFallbackWidth || height != snapshotFallbackHeight) {
		data, _, err = c.fetchSnapshot(ctx, snapshotFallbackWidth, snapshotFallbackHeight)
	}
	return data, err
}

// fetchSnapshot performs one snapshot request. The retryable return is
// true only for the invalid-resolution device error.
func (c *Client) fetchSnapshot(ctx context.Context, width, height int) (data []byte, retryable bool, err error) {
	params := url.Values{}
	params.Set("source", "internal")
	params.Set("width", strconv.Itoa(width))
	params.Set("height", strconv.Itoa(height))

	req, err := c.newRequest(ctx, "/api/camera/snapshot", params)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "image/jpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, false, fmt.Errorf("%w: device returned %d", ErrAuth, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "image") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		var env envelope
		if jsonErr := json.Unmarshal(body, &env); jsonErr == nil && env.Error != nil {
			if env.Error.Code == errCodeInvalidResolution {
				return nil, true, fmt.Errorf("%w: unsupported resolution %dx%d", ErrProtocol, width, height)
			}
			return nil, false, fmt.Errorf("%w: snapshot error %d: %s", ErrProtocol, env.Error.Code, env.Error.Description)
		}
		return nil, false, fmt.Errorf("%w: snapshot returned %q", ErrProtocol, contentType)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: snapshot returned status %d", ErrProtocol, resp.StatusCode)
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading snapshot body: %w", ErrConnection, err)
	}
	return data, false, nil
}

// RTSPURL returns the live video stream URL with embedded credentials.
// Never log this value; use RTSPURLRedacted for diagnostics.
func (c *Client) RTSPURL() string {
	return fmt.Sprintf("rtsp://%s:%s@%s:%d/%s",
		url.User(c.username).String(), url.QueryEscape(c.password), c.host, c.rtspPort(), rtspPath)
}

// RTSPURLRedacted returns the stream URL with the password masked,
// suitable for logs and API responses.
func (c *Client) RTSPURLRedacted() string {
	return fmt.Sprintf("rtsp://%s:****@%s:%d/%s", c.username, c.host, c.rtspPort(), rtspPath)
}

// rtspPort avoids reusing HTTP ports for RTSP.
func (c *Client) rtspPort() int {
	if c.port == 80 || c.port == 443 {
		return rtspDefaultPort
	}
	return c.port
}

// newRequest builds an authenticated GET request for a device endpoint.
func (c *Client) newRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrConnection, err)
	}
	req.SetBasicAuth(c.username, c.password)
	return req, nil
}

// getEnvelope performs a GET and decodes the response envelope without
// requiring success. Transport and auth failures still error.
func (c *Client) getEnvelope(ctx context.Context, path string, params url.Values) (*envelope, error) {
	req, err := c.newRequest(ctx, path, params)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: device returned %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: device returned status %d", ErrProtocol, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrProtocol, err)
	}
	return &env, nil
}

// getJSON performs a GET, requires a successful envelope, and returns
// the raw result payload.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	env, err := c.getEnvelope(ctx, path, params)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		if env.Error != nil {
			return nil, fmt.Errorf("%w: device error %d: %s", ErrProtocol, env.Error.Code, env.Error.Description)
		}
		return nil, fmt.Errorf("%w: device reported failure", ErrProtocol)
	}
	return env.Result, nil
}
