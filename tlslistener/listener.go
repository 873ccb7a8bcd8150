// Package tlslistener owns the TCP/TLS accept loop: it acquires an
// Identity, binds a TLS 1.3 listener, best-effort advertises a Bonjour
// service, and hands every accepted connection off to the HTTP engine on
// its own isolated goroutine. Its control surface is the three operations
// the pairing and QR-code flow need: start, stop, and a consistent
// snapshot of {port, fingerprint}.
package tlslistener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mneves75/ai-health-sync-ios-sub001/identity"
)

// readyTimeout bounds how long start() waits for the listener to report
// .ready before treating startup as failed.
const readyTimeout = 5 * time.Second

// maxConcurrentConnections bounds how many connections the listener will
// service at once; beyond this, new connections queue at the kernel
// accept backlog rather than spawning unbounded goroutines.
const maxConcurrentConnections = 64

// connectionAdmissionRate and connectionAdmissionBurst throttle raw TCP
// accepts before a connection ever reaches the pairing endpoint, which
// has no bearer token to key a per-client limit on. This is a blunt,
// listener-wide token bucket, distinct from the engine's per-token
// sliding-window limiter for authenticated routes.
const (
	connectionAdmissionRate  = 20
	connectionAdmissionBurst = 40
)

// ConnectionHandler is the HTTP engine's connection entry point.
type ConnectionHandler interface {
	HandleConnection(conn net.Conn)
}

// Listener coordinates TLS identity, binding, and the per-connection
// engine dispatch loop.
type Listener struct {
	host       string
	handler    ConnectionHandler
	advertise  bool
	deviceName string
	logger     *slog.Logger

	mu          sync.Mutex
	listener    net.Listener
	mdns        *mdnsResponder
	group       *errgroup.Group
	cancel      context.CancelFunc
	admission   *rate.Limiter
	port        int
	fingerprint string
	running     bool
}

// Snapshot is the consistent {port, fingerprint} pair QR generation reads.
type Snapshot struct {
	Port        int
	Fingerprint string
}

// New constructs a Listener bound to host (empty means all interfaces).
func New(host string, handler ConnectionHandler, advertise bool, deviceName string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{host: host, handler: handler, advertise: advertise, deviceName: deviceName, logger: logger}
}

// readyResult is delivered once the TCP bind either succeeds or fails.
type readyResult struct {
	port int
	err  error
}

// Start acquires id (the caller's Identity, possibly ephemeral for
// tests), binds a TLS listener on the given port (0 for any free port),
// and begins accepting connections. The state handler — the channel start
// waits on — is installed before the bind goroutine is launched, so a
// bind that completes instantly can never race past a not-yet-listening
// caller.
func (l *Listener) Start(id identity.Identity, port int) (Snapshot, error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return Snapshot{}, errors.New("tlslistener: already running")
	}
	l.mu.Unlock()

	cert := tls.Certificate{
		Certificate: [][]byte{id.Certificate.DER},
		PrivateKey:  id.PrivateKey,
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	ready := make(chan readyResult, 1)

	go func() {
		raw, err := net.Listen("tcp", fmt.Sprintf("%s:%d", l.host, port))
		if err != nil {
			ready <- readyResult{err: fmt.Errorf("tlslistener: bind: %w", err)}
			return
		}
		tlsLn := tls.NewListener(netutil.LimitListener(raw, maxConcurrentConnections), tlsConfig)
		assignedPort := raw.Addr().(*net.TCPAddr).Port

		l.mu.Lock()
		l.listener = tlsLn
		l.port = assignedPort
		l.fingerprint = id.Certificate.FingerprintHex()
		l.mu.Unlock()

		ready <- readyResult{port: assignedPort}
	}()

	var result readyResult
	select {
	case result = <-ready:
	case <-time.After(readyTimeout):
		return Snapshot{}, errors.New("tlslistener: timed out waiting for bind")
	}
	if result.err != nil {
		return Snapshot{}, result.err
	}

	if l.advertise {
		if mdns, err := startMDNSResponder(l.deviceName, result.port, l.logger); err != nil {
			l.logger.Warn("tlslistener: mdns advertisement unavailable", slog.String("error", err.Error()))
		} else {
			l.mu.Lock()
			l.mdns = mdns
			l.mu.Unlock()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	l.mu.Lock()
	l.group = group
	l.cancel = cancel
	l.admission = rate.NewLimiter(rate.Limit(connectionAdmissionRate), connectionAdmissionBurst)
	l.running = true
	listenerRef := l.listener
	l.mu.Unlock()

	group.Go(func() error {
		return l.acceptLoop(groupCtx, listenerRef)
	})

	return Snapshot{Port: result.port, Fingerprint: id.Certificate.FingerprintHex()}, nil
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Warn("tlslistener: accept error", slog.String("error", err.Error()))
			continue
		}
		if !l.admission.Allow() {
			_ = conn.Close()
			continue
		}
		go func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("tlslistener: connection handler panicked", slog.Any("recovered", r))
				}
			}()
			l.handler.HandleConnection(conn)
		}()
	}
}

// Stop cancels the accept loop and clears port/fingerprint. It is
// idempotent: calling it on an already-stopped listener is a no-op.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	ln := l.listener
	mdns := l.mdns
	group := l.group
	cancel := l.cancel
	l.running = false
	l.listener = nil
	l.mdns = nil
	l.port = 0
	l.fingerprint = ""
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}
	if group != nil {
		_ = group.Wait()
	}
	if mdns != nil {
		mdns.stop()
	}
}

// Snapshot returns the listener's current {port, fingerprint}. Both are
// zero-valued when the listener is stopped.
func (l *Listener) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{Port: l.port, Fingerprint: l.fingerprint}
}
