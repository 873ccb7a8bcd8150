package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mneves75/ai-health-sync-ios-sub001/audit"
	"github.com/mneves75/ai-health-sync-ios-sub001/bootstrapconfig"
	"github.com/mneves75/ai-health-sync-ios-sub001/healthprovider"
	"github.com/mneves75/ai-health-sync-ios-sub001/httpengine"
	"github.com/mneves75/ai-health-sync-ios-sub001/identity"
	"github.com/mneves75/ai-health-sync-ios-sub001/observability/logging"
	"github.com/mneves75/ai-health-sync-ios-sub001/observability/metrics"
	"github.com/mneves75/ai-health-sync-ios-sub001/pairing"
	"github.com/mneves75/ai-health-sync-ios-sub001/store"
	"github.com/mneves75/ai-health-sync-ios-sub001/syncconfig"
	"github.com/mneves75/ai-health-sync-ios-sub001/tlslistener"
)

func main() {
	var cfgPath string
	var diagnosticsPort int
	flag.StringVar(&cfgPath, "config", "", "path to bootstrap configuration")
	flag.IntVar(&diagnosticsPort, "diagnostics-port", 0, "loopback-only port for /healthz and /metrics (0 picks any free port)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("HEALTHSYNC_ENV"))
	legacyLogger := log.New(os.Stdout, "healthsyncd ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := bootstrapconfig.Load(cfgPath)
	if err != nil {
		legacyLogger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		legacyLogger.Fatalf("invalid config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		legacyLogger.Fatalf("create data directory: %v", err)
	}

	logWriter := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Storage.DataDir, "healthsyncd.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     int(cfg.Audit.RetentionDays),
		Compress:   true,
	}
	slogger := logging.SetupWithWriter("healthsyncd", env, logWriter)

	idStore, err := identity.NewStore(filepath.Join(cfg.Storage.DataDir, "identity"))
	if err != nil {
		legacyLogger.Fatalf("open identity store: %v", err)
	}
	deviceIdentity, err := idStore.LoadOrCreate()
	if err != nil {
		legacyLogger.Fatalf("load or create identity: %v", err)
	}
	slogger.Info("device identity ready", slog.String("fingerprint", deviceIdentity.FingerprintHex()))

	db, err := store.Open(filepath.Join(cfg.Storage.DataDir, "healthsync.db"))
	if err != nil {
		legacyLogger.Fatalf("open store: %v", err)
	}
	defer db.Close()

	metricsRegistry := metrics.New("healthsyncd")

	auditLog, err := audit.OpenWithOptions(
		filepath.Join(cfg.Storage.DataDir, "audit"),
		slogger,
		time.Duration(cfg.Audit.RetentionDays)*24*time.Hour,
		metricsRegistry,
	)
	if err != nil {
		legacyLogger.Fatalf("open audit log: %v", err)
	}
	defer auditLog.Close()
	if err := auditLog.PurgeExpiredIfNeeded(); err != nil {
		slogger.Warn("audit: initial purge failed", slog.String("error", err.Error()))
	}

	pairingSvc := pairing.NewServiceWithTTLs(db, cfg.Pairing.CodeTTL, cfg.Pairing.TokenTTL)

	syncSvc, err := syncconfig.NewService(db)
	if err != nil {
		legacyLogger.Fatalf("initialize sync configuration: %v", err)
	}

	provider := healthprovider.NewMemoryProvider()
	diagnosticsServer, err := metrics.NewServer(metricsRegistry, diagnosticsPort)
	if err != nil {
		legacyLogger.Fatalf("start diagnostics server: %v", err)
	}
	go func() {
		if err := diagnosticsServer.Serve(); err != nil {
			slogger.Error("diagnostics server exited", slog.String("error", err.Error()))
		}
	}()
	slogger.Info("diagnostics surface ready", slog.String("addr", diagnosticsServer.Addr().String()))

	engine := httpengine.NewEngineWithOptions(pairingSvc, syncSvc, provider, auditLog, deviceName(), httpengine.EngineOptions{
		Metrics:         metricsRegistry,
		RateLimitWindow: time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		RateLimitMax:    cfg.RateLimit.MaxRequests,
	})

	listener := tlslistener.New(cfg.Listen.Host, engine, cfg.Listen.AdvertiseMDNS, deviceName(), slogger)
	snapshot, err := listener.Start(deviceIdentity, cfg.Listen.Port)
	if err != nil {
		legacyLogger.Fatalf("start listener: %v", err)
	}
	slogger.Info("listening", slog.Int("port", snapshot.Port), slog.String("fingerprint", snapshot.Fingerprint))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slogger.Info("shutting down")
	listener.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := diagnosticsServer.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("diagnostics shutdown failed", slog.String("error", err.Error()))
	}
}

func deviceName() string {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		return "HealthSync Device"
	}
	return name
}
