// Package httpengine implements the request engine the TLS listener hands
// accepted connections to: a hand-rolled HTTP/1.1 parser (deliberately not
// built on net/http), a small fixed routing table, per-token sliding
// window rate limiting, and the four handlers the API surface exposes.
package httpengine

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mneves75/ai-health-sync-ios-sub001/audit"
	"github.com/mneves75/ai-health-sync-ios-sub001/healthprovider"
	"github.com/mneves75/ai-health-sync-ios-sub001/model"
	"github.com/mneves75/ai-health-sync-ios-sub001/pairing"
	"github.com/mneves75/ai-health-sync-ios-sub001/syncconfig"
)

// LockChecker reports whether the device is currently locked, queried
// through whatever protected-data capability a host application wires in.
// The reference engine treats "never locked" as the default.
type LockChecker interface {
	IsLocked() bool
}

type alwaysUnlocked struct{}

func (alwaysUnlocked) IsLocked() bool { return false }

// Metrics is the observability sink an Engine reports request and pairing
// outcomes into. Nil is a valid, no-op Metrics.
type Metrics interface {
	ObserveRequest(route, method, status string, duration time.Duration)
	ObservePairingAttempt(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRequest(string, string, string, time.Duration) {}
func (noopMetrics) ObservePairingAttempt(string)                         {}

// Engine owns everything a connection needs dispatched: the routing
// table, the rate limiter, and the component dependencies each handler
// calls into.
type Engine struct {
	Pairing    *pairing.Service
	Config     *syncconfig.Service
	Provider   healthprovider.Provider
	AuditLog   *audit.Log
	Lock       LockChecker
	DeviceName string
	Metrics    Metrics
	limiter    *rateLimiter
}

// EngineOptions carries the tunables NewEngineWithOptions accepts beyond its required
// dependencies; a zero-valued EngineOptions is the engine's built-in
// defaults.
type EngineOptions struct {
	Lock              LockChecker
	Metrics           Metrics
	RateLimitWindow   time.Duration
	RateLimitMax      int
}

// NewEngine constructs an Engine with default options. lock may be nil, in
// which case the device is always treated as unlocked.
func NewEngine(pairingSvc *pairing.Service, config *syncconfig.Service, provider healthprovider.Provider, auditLog *audit.Log, lock LockChecker, deviceName string) *Engine {
	return NewEngineWithOptions(pairingSvc, config, provider, auditLog, deviceName, EngineOptions{Lock: lock})
}

// NewEngineWithOptions constructs an Engine with explicit rate-limit and
// metrics wiring, used by the process entrypoint to apply operator
// configuration that NewEngine's defaults don't expose.
func NewEngineWithOptions(pairingSvc *pairing.Service, config *syncconfig.Service, provider healthprovider.Provider, auditLog *audit.Log, deviceName string, opts EngineOptions) *Engine {
	lock := opts.Lock
	if lock == nil {
		lock = alwaysUnlocked{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Engine{
		Pairing:    pairingSvc,
		Config:     config,
		Provider:   provider,
		AuditLog:   auditLog,
		Lock:       lock,
		DeviceName: deviceName,
		Metrics:    metrics,
		limiter:    newRateLimiterWithLimits(opts.RateLimitWindow, opts.RateLimitMax),
	}
}

// HandleConnection parses and serves exactly one request from conn, then
// closes it. A hand-rolled engine speaks HTTP/1.0-style one-request-per-
// connection semantics rather than attempting keep-alive. Handler panics
// never escape this call: a recovered panic becomes a dropped connection,
// consistent with the isolation the listener relies on.
func (e *Engine) HandleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		_ = recover()
	}()

	req, err := readRequest(conn)
	if err != nil {
		if pe, ok := err.(parseError); ok {
			writeEmptyStatus(conn, pe.status)
			return
		}
		writeEmptyStatus(conn, statusBadRequest)
		return
	}

	e.route(conn, req)
}

func (e *Engine) route(conn net.Conn, req request) {
	requestID := uuid.NewString()
	started := time.Now()
	recordedStatus := statusNotFound
	metricConn := &statusCapturingConn{Conn: conn, status: &recordedStatus}

	switch {
	case req.Method == "POST" && req.Path == "/api/v1/pair":
		e.handlePair(metricConn, req, requestID)
	case req.Method == "GET" && req.Path == "/api/v1/status":
		e.withAuth(metricConn, req, requestID, e.handleStatus)
	case req.Method == "GET" && req.Path == "/api/v1/health/types":
		e.withAuth(metricConn, req, requestID, e.handleTypes)
	case req.Method == "POST" && req.Path == "/api/v1/health/data":
		e.withAuth(metricConn, req, requestID, e.handleHealthData)
	default:
		writeJSON(metricConn, statusNotFound, map[string]string{"error": "not_found"})
	}

	e.Metrics.ObserveRequest(req.Path, req.Method, strconv.Itoa(int(recordedStatus)), time.Since(started))
}

// withAuth extracts and validates the bearer token, enforces the rate
// limit, and dispatches to handler only once both pass.
func (e *Engine) withAuth(conn net.Conn, req request, requestID string, handler func(conn net.Conn, req request, requestID string, device *model.PairedDevice)) {
	token, ok := bearerToken(req)
	if !ok {
		e.audit("security.unauthorized_access", map[string]string{"path": req.Path, "requestId": requestID})
		writeJSON(conn, statusUnauthorized, map[string]string{"error": "missing_token"})
		return
	}

	device, err := e.Pairing.ValidateToken(token)
	if err != nil {
		e.audit("security.unauthorized_access", map[string]string{"path": req.Path, "requestId": requestID})
		writeJSON(conn, statusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	if !e.limiter.allow(token) {
		e.audit("security.rate_limit_exceeded", map[string]string{"path": req.Path, "requestId": requestID})
		writeJSON(conn, statusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
		return
	}

	handler(conn, req, requestID, device)
}

func (e *Engine) handleStatus(conn net.Conn, req request, requestID string, device *model.PairedDevice) {
	enabled, err := e.Config.EnabledTypes()
	if err != nil {
		writeJSON(conn, statusBadRequest, map[string]string{"error": "internal"})
		return
	}
	writeJSON(conn, statusOK, model.StatusResponse{
		Status:       "ok",
		Version:      "1",
		DeviceName:   e.DeviceName,
		EnabledTypes: typeStrings(enabled),
		ServerTime:   time.Now(),
	})
}

func (e *Engine) handleTypes(conn net.Conn, req request, requestID string, device *model.PairedDevice) {
	enabled, err := e.Config.EnabledTypes()
	if err != nil {
		writeJSON(conn, statusBadRequest, map[string]string{"error": "internal"})
		return
	}
	writeJSON(conn, statusOK, model.TypesResponse{EnabledTypes: typeStrings(enabled)})
}

func (e *Engine) handlePair(conn net.Conn, req request, requestID string) {
	var body model.PairRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		e.audit("security.unauthorized_access", map[string]string{"path": req.Path, "requestId": requestID})
		writeJSON(conn, statusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}

	resp, err := e.Pairing.HandlePairRequest(body)
	clientHash := sha256Hex(body.ClientName)
	if err != nil {
		message, code := pairingErrorResponse(err)
		e.Metrics.ObservePairingAttempt(message)
		e.audit("auth.pair", map[string]string{"result": "failed", "reason": message, "requestId": requestID})
		writeJSON(conn, code, map[string]string{"error": message})
		return
	}

	e.Metrics.ObservePairingAttempt("success")
	e.audit("auth.pair", map[string]string{"result": "ok", "clientHash": clientHash, "requestId": requestID})
	writeJSON(conn, statusOK, resp)
}

func pairingErrorResponse(err error) (message string, code status) {
	switch err {
	case pairing.ErrNoPendingPairing:
		return "NoPendingSession", statusBadRequest
	case pairing.ErrCodeMismatch:
		return "InvalidCode", statusBadRequest
	case pairing.ErrPairingExpired:
		return "ExpiredCode", statusBadRequest
	case pairing.ErrTooManyAttempts:
		return "TooManyAttempts", statusBadRequest
	default:
		return "InvalidCode", statusBadRequest
	}
}

func (e *Engine) handleHealthData(conn net.Conn, req request, requestID string, device *model.PairedDevice) {
	var query model.HealthDataQuery
	if err := json.Unmarshal(req.Body, &query); err != nil {
		writeJSON(conn, statusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}

	if len(query.Types) == 0 {
		writeJSON(conn, statusBadRequest, map[string]string{"error": "empty_types"})
		return
	}
	if query.Start.After(query.End) {
		writeJSON(conn, statusBadRequest, map[string]string{"error": "invalid_date_range"})
		return
	}

	limit := 1000
	if query.Limit != nil {
		limit = *query.Limit
	}
	if limit <= 0 {
		writeJSON(conn, statusBadRequest, map[string]string{"error": "invalid_limit"})
		return
	}
	if limit > 10000 {
		limit = 10000
	}
	offset := 0
	if query.Offset != nil {
		offset = *query.Offset
	}
	if offset < 0 {
		offset = 0
	}

	allowed, err := e.Config.IsSubsetOfEnabled(query.Types)
	if err != nil {
		writeJSON(conn, statusBadRequest, map[string]string{"error": "internal"})
		return
	}
	if !allowed {
		e.audit("security.unauthorized_access", map[string]string{"path": req.Path, "requestId": requestID})
		writeJSON(conn, statusForbidden, map[string]string{"error": "unauthorized_access"})
		return
	}

	if e.Lock.IsLocked() {
		e.audit("data.read", map[string]string{"status": "locked", "requestId": requestID})
		writeJSON(conn, statusLocked, model.HealthDataResponse{Status: model.StatusLocked})
		return
	}

	resp := e.Provider.FetchSamples(query.Types, query.Start, query.End, limit, offset)
	e.audit("data.read", map[string]string{
		"status":    string(resp.Status),
		"count":     strconv.Itoa(resp.ReturnedCount),
		"hasMore":   strconv.FormatBool(resp.HasMore),
		"requestId": requestID,
	})

	if resp.Status == model.StatusOK {
		if err := e.Config.RecordExport(time.Now()); err != nil {
			// Export timestamp bookkeeping failing must not fail a
			// response that already succeeded from the client's view.
			e.audit("data.read", map[string]string{"status": "export_record_failed", "requestId": requestID})
		}
	}

	writeJSON(conn, statusOK, resp)
}

func (e *Engine) audit(eventType string, details map[string]string) {
	if e.AuditLog == nil {
		return
	}
	e.AuditLog.Record(eventType, details)
}

// statusCapturingConn wraps a connection to recover the status code a
// handler wrote, for metrics, without handlers needing to return it
// explicitly. It inspects only the first write, which is always the
// "HTTP/1.1 <code> <reason>" status line writeJSON/writeEmptyStatus emit.
type statusCapturingConn struct {
	net.Conn
	status   *status
	captured bool
}

func (c *statusCapturingConn) Write(b []byte) (int, error) {
	if !c.captured {
		c.captured = true
		if code, ok := parseStatusLine(b); ok {
			*c.status = code
		}
	}
	return c.Conn.Write(b)
}

func parseStatusLine(b []byte) (status, bool) {
	const prefix = "HTTP/1.1 "
	if len(b) < len(prefix)+3 || string(b[:len(prefix)]) != prefix {
		return 0, false
	}
	digits := b[len(prefix) : len(prefix)+3]
	code := 0
	for _, d := range digits {
		if d < '0' || d > '9' {
			return 0, false
		}
		code = code*10 + int(d-'0')
	}
	return status(code), true
}

func bearerToken(req request) (string, bool) {
	header := req.Header("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

func typeStrings(types []model.HealthDataType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
