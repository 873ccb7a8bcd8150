package httpengine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mneves75/ai-health-sync-ios-sub001/audit"
	"github.com/mneves75/ai-health-sync-ios-sub001/healthprovider"
	"github.com/mneves75/ai-health-sync-ios-sub001/model"
	"github.com/mneves75/ai-health-sync-ios-sub001/pairing"
	"github.com/mneves75/ai-health-sync-ios-sub001/syncconfig"
)

type memoryDeviceStore struct {
	mu      sync.Mutex
	devices map[string]*model.PairedDevice
}

func newMemoryDeviceStore() *memoryDeviceStore {
	return &memoryDeviceStore{devices: map[string]*model.PairedDevice{}}
}

func (m *memoryDeviceStore) CreateDevice(d *model.PairedDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.TokenHash] = d
	return nil
}

func (m *memoryDeviceStore) FindActiveByTokenHash(tokenHash string) (*model.PairedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[tokenHash]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (m *memoryDeviceStore) TouchLastSeen(id string, at time.Time) error { return nil }

func (m *memoryDeviceStore) RevokeAll() error { return nil }

type memoryConfigBackend struct {
	cfg *model.SyncConfiguration
}

func (m *memoryConfigBackend) LoadConfiguration() (*model.SyncConfiguration, error) {
	copied := *m.cfg
	return &copied, nil
}

func (m *memoryConfigBackend) SaveConfiguration(cfg *model.SyncConfiguration) error {
	copied := *cfg
	m.cfg = &copied
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *pairing.Service) {
	t.Helper()
	deviceStore := newMemoryDeviceStore()
	pairingSvc := pairing.NewService(deviceStore)

	cfgBackend := &memoryConfigBackend{cfg: &model.SyncConfiguration{ID: 1}}
	cfgSvc, err := syncconfig.NewService(cfgBackend)
	require.NoError(t, err)

	provider := healthprovider.NewMemoryProvider()
	provider.AddSample(model.HealthSample{ID: "s1", Type: model.TypeStepCount, Value: 10, Start: time.Now().Add(-time.Minute), End: time.Now()})

	auditLog, err := audit.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	engine := NewEngine(pairingSvc, cfgSvc, provider, auditLog, nil, "Test Device")
	return engine, pairingSvc
}

// roundTrip sends a raw HTTP/1.1 request over an in-memory pipe to the
// engine and returns the parsed status code and JSON body.
func roundTrip(t *testing.T, engine *Engine, raw string) (int, map[string]any) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.HandleConnection(serverConn)
	}()

	_, err := clientConn.Write([]byte(raw))
	require.NoError(t, err)

	reader := bufio.NewReader(clientConn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)

	var code int
	_, err = fmt.Sscanf(statusLine, "HTTP/1.1 %d", &code)
	require.NoError(t, err)

	var contentLength int
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(trimmed), "content-length:") {
			fmt.Sscanf(trimmed, "Content-Length: %d", &contentLength)
		}
	}

	body := make([]byte, contentLength)
	if contentLength > 0 {
		_, err = io.ReadFull(reader, body)
		require.NoError(t, err)
	}
	clientConn.Close()
	<-done

	var decoded map[string]any
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &decoded))
	}
	return code, decoded
}

func jsonRequest(method, path, body string) string {
	return fmt.Sprintf("%s %s HTTP/1.1\r\nHost: localhost\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
		method, path, len(body), body)
}

func TestStatusWithoutTokenIsUnauthorized(t *testing.T) {
	engine, _ := newTestEngine(t)
	code, _ := roundTrip(t, engine, jsonRequest("GET", "/api/v1/status", ""))
	require.Equal(t, 401, code)
}

func TestUnknownRouteIs404(t *testing.T) {
	engine, _ := newTestEngine(t)
	code, _ := roundTrip(t, engine, jsonRequest("GET", "/api/v1/nope", ""))
	require.Equal(t, 404, code)
}

func TestPairThenStatusSucceeds(t *testing.T) {
	engine, pairingSvc := newTestEngine(t)
	code_, _, err := pairingSvc.BeginPairing()
	require.NoError(t, err)

	pairBody, _ := json.Marshal(model.PairRequest{Code: code_, ClientName: "Test Phone"})
	code, body := roundTrip(t, engine, jsonRequest("POST", "/api/v1/pair", string(pairBody)))
	require.Equal(t, 200, code)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	raw := fmt.Sprintf("GET /api/v1/status HTTP/1.1\r\nHost: localhost\r\nAuthorization: Bearer %s\r\nContent-Length: 0\r\n\r\n", token)
	code, statusBody := roundTrip(t, engine, raw)
	require.Equal(t, 200, code)
	require.Equal(t, "ok", statusBody["status"])
}

func TestHealthDataEmptyTypesIsBadRequest(t *testing.T) {
	engine, pairingSvc := newTestEngine(t)
	codeStr, _, _ := pairingSvc.BeginPairing()
	pairBody, _ := json.Marshal(model.PairRequest{Code: codeStr, ClientName: "x"})
	_, pairResp := roundTrip(t, engine, jsonRequest("POST", "/api/v1/pair", string(pairBody)))
	token := pairResp["token"].(string)

	body, _ := json.Marshal(model.HealthDataQuery{Start: time.Now().Add(-time.Hour), End: time.Now()})
	raw := fmt.Sprintf("POST /api/v1/health/data HTTP/1.1\r\nHost: localhost\r\nAuthorization: Bearer %s\r\nContent-Length: %d\r\n\r\n%s", token, len(body), body)
	code, _ := roundTrip(t, engine, raw)
	require.Equal(t, 400, code)
}

func TestRateLimiterRejectsRequestOverLimit(t *testing.T) {
	limiter := newRateLimiter()
	for i := 0; i < rateMaxRequests; i++ {
		require.True(t, limiter.allow("token"))
	}
	require.False(t, limiter.allow("token"))
}

func TestBearerTokenExtractionIsCaseInsensitive(t *testing.T) {
	req := request{Headers: map[string]string{"authorization": "BEARER abc123"}}
	token, ok := bearerToken(req)
	require.True(t, ok)
	require.Equal(t, "abc123", token)
}

func TestBearerTokenMissingHeader(t *testing.T) {
	req := request{Headers: map[string]string{}}
	_, ok := bearerToken(req)
	require.False(t, ok)
}
