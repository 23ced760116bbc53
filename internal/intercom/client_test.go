package intercom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/config"
)

// testClient creates a client pointed at the given test server.
func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}

	return New(config.DeviceConfig{
		ID:       "test-device",
		Host:     u.Hostname(),
		Port:     port,
		Scheme:   "http",
		Username: "admin",
		Password: "secret",
	})
}

func TestGetCallStatusRinging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/call/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Error("missing or wrong basic auth")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"result":{"state":"ringing","direction":"incoming","caller":{"name":"John Doe","button":1}}}`))
	}))
	defer srv.Close()

	snap, err := testClient(t, srv).GetCallStatus(context.Background())
	if err != nil {
		t.Fatalf("GetCallStatus failed: %v", err)
	}

	if !snap.Ringing {
		t.Error("Ringing = false, want true")
	}
	if snap.State != CallStateRinging {
		t.Errorf("State = %q, want %q", snap.State, CallStateRinging)
	}
	if snap.Caller == nil {
		t.Fatal("Caller = nil, want populated")
	}
	if snap.Caller.Name != "John Doe" || snap.Caller.Button != 1 {
		t.Errorf("Caller = %+v, want name John Doe button 1", snap.Caller)
	}
	if snap.ObservedAt.IsZero() {
		t.Error("ObservedAt not set")
	}
	if snap.Latency <= 0 {
		t.Errorf("Latency = %v, want positive", snap.Latency)
	}
}

func TestGetCallStatusStateNormalisation(t *testing.T) {
	tests := []struct {
		name        string
		rawState    string
		wantState   CallState
		wantRinging bool
	}{
		{"idle", "idle", CallStateIdle, false},
		{"empty state", "", CallStateIdle, false},
		{"ringing mixed case", "Ringing", CallStateRinging, true},
		{"connected", "connected", CallStateConnected, false},
		{"vendor surprise", "transferring", CallStateUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`{"success":true,"result":{"state":"` + tt.rawState + `"}}`))
			}))
			defer srv.Close()

			snap, err := testClient(t, srv).GetCallStatus(context.Background())
			if err != nil {
				t.Fatalf("GetCallStatus failed: %v", err)
			}
			if snap.State != tt.wantState {
				t.Errorf("State = %q, want %q", snap.State, tt.wantState)
			}
			if snap.Ringing != tt.wantRinging {
				t.Errorf("Ringing = %v, want %v", snap.Ringing, tt.wantRinging)
			}
			if snap.Caller != nil {
				t.Errorf("Caller = %+v, want nil", snap.Caller)
			}
		})
	}
}

func TestGetCallStatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			"unauthorized",
			func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			ErrAuth,
		},
		{
			"forbidden",
			func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusForbidden) },
			ErrAuth,
		},
		{
			"server error",
			func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			ErrProtocol,
		},
		{
			"malformed body",
			func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("not json")) },
			ErrProtocol,
		},
		{
			"envelope failure",
			func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`{"success":false,"error":{"code":13,"description":"api disabled"}}`))
			},
			ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := testClient(t, srv).GetCallStatus(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GetCallStatus = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetCallStatusConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // immediately close so the port refuses connections

	_, err := testClient(t, srv).GetCallStatus(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Errorf("GetCallStatus against closed server = %v, want ErrConnection", err)
	}
}

func TestControlRelay(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/switch/ctrl" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ok, err := testClient(t, srv).ControlRelay(context.Background(), 2, RelayActionOn)
	if err != nil {
		t.Fatalf("ControlRelay failed: %v", err)
	}
	if !ok {
		t.Error("ControlRelay = false, want true")
	}
	if gotQuery.Get("switch") != "2" || gotQuery.Get("action") != "on" {
		t.Errorf("query = %v, want switch=2 action=on", gotQuery)
	}
	if gotQuery.Has("duration") {
		t.Error("on action must not carry a duration")
	}
}

func TestControlRelayRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success":false,"error":{"code":14,"description":"switch disabled"}}`))
	}))
	defer srv.Close()

	ok, err := testClient(t, srv).ControlRelay(context.Background(), 1, RelayActionOff)
	if err != nil {
		t.Fatalf("ControlRelay failed: %v", err)
	}
	if ok {
		t.Error("ControlRelay = true for rejected command, want false")
	}
}

func TestTriggerRelay(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ok, err := testClient(t, srv).TriggerRelay(context.Background(), 1, 2000)
	if err != nil {
		t.Fatalf("TriggerRelay failed: %v", err)
	}
	if !ok {
		t.Error("TriggerRelay = false, want true")
	}
	if gotQuery.Get("switch") != "1" || gotQuery.Get("action") != "trigger" || gotQuery.Get("duration") != "2000" {
		t.Errorf("query = %v, want switch=1 action=trigger duration=2000", gotQuery)
	}
}

func TestGetDirectoryShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"users object", `{"success":true,"result":{"users":[{"name":"Flat 1"},{"name":"Flat 2"}]}}`, 2},
		{"bare array", `{"success":true,"result":[{"name":"Flat 1"}]}`, 1},
		{"empty result", `{"success":true}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			entries, err := testClient(t, srv).GetDirectory(context.Background())
			if err != nil {
				t.Fatalf("GetDirectory failed: %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("len(entries) = %d, want %d", len(entries), tt.want)
			}
		})
	}
}

func TestGetSystemInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/system/info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"result":{"variant":"2N IP Verso","serialNumber":"54-1234-5678","swVersion":"2.43.2"}}`))
	}))
	defer srv.Close()

	info, err := testClient(t, srv).GetSystemInfo(context.Background())
	if err != nil {
		t.Fatalf("GetSystemInfo failed: %v", err)
	}
	if info.Variant != "2N IP Verso" || info.SWVersion != "2.43.2" {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestGetSnapshot(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("source") != "internal" {
			t.Errorf("source = %q, want internal", q.Get("source"))
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpeg)
	}))
	defer srv.Close()

	data, err := testClient(t, srv).GetSnapshot(context.Background(), 1280, 960)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if len(data) != len(jpeg) {
		t.Errorf("len(data) = %d, want %d", len(data), len(jpeg))
	}
}

func TestGetSnapshotResolutionFallback(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		requests = append(requests, q.Get("width")+"x"+q.Get("height"))
		if q.Get("width") != "640" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":false,"error":{"code":12,"description":"invalid parameter value"}}`))
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xFF, 0xD8})
	}))
	defer srv.Close()

	data, err := testClient(t, srv).GetSnapshot(context.Background(), 1920, 1080)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("fallback returned no data")
	}
	if len(requests) != 2 || requests[0] != "1920x1080" || requests[1] != "640x480" {
		t.Errorf("requests = %v, want [1920x1080 640x480]", requests)
	}
}

func TestGetSnapshotNonRetryableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"error":{"code":8,"description":"camera unavailable"}}`))
	}))
	defer srv.Close()

	_, err := testClient(t, srv).GetSnapshot(context.Background(), 640, 480)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("GetSnapshot = %v, want ErrProtocol", err)
	}
}

func TestRTSPURLs(t *testing.T) {
	tests := []struct {
		name     string
		port     int
		wantPort string
	}{
		{"https device port maps to rtsp", 443, ":554/"},
		{"http device port maps to rtsp", 80, ":554/"},
		{"custom port kept", 8443, ":8443/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(config.DeviceConfig{
				Host:     "10.0.0.5",
				Port:     tt.port,
				Scheme:   "https",
				Username: "admin",
				Password: "hunter2",
			})

			full := c.RTSPURL()
			if !strings.Contains(full, tt.wantPort) || !strings.Contains(full, "h264_stream") {
				t.Errorf("RTSPURL() = %q, want port %q and h264_stream path", full, tt.wantPort)
			}
			if !strings.Contains(full, "hunter2") {
				t.Errorf("RTSPURL() = %q, want embedded password", full)
			}

			redacted := c.RTSPURLRedacted()
			if strings.Contains(redacted, "hunter2") {
				t.Errorf("RTSPURLRedacted() = %q leaks the password", redacted)
			}
			if !strings.Contains(redacted, "****") {
				t.Errorf("RTSPURLRedacted() = %q, want masked password", redacted)
			}
		})
	}
}

func TestCallerInfoMerge(t *testing.T) {
	base := CallerInfo{Button: 1}
	merged := base.Merge(CallerInfo{Name: "John Doe", Number: "101", Button: 2})

	if merged.Name != "John Doe" || merged.Number != "101" {
		t.Errorf("Merge did not fill empty fields: %+v", merged)
	}
	if merged.Button != 1 {
		t.Errorf("Merge overwrote populated button: %+v", merged)
	}
}
