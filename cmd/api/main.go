package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/PaulBabatuyi/wayfare/internal/auth"
	"github.com/PaulBabatuyi/wayfare/internal/chat"
	"github.com/PaulBabatuyi/wayfare/internal/config"
	"github.com/PaulBabatuyi/wayfare/internal/data"
	"github.com/PaulBabatuyi/wayfare/internal/db"
	"github.com/PaulBabatuyi/wayfare/internal/logging"
	"github.com/PaulBabatuyi/wayfare/internal/metrics"
	"github.com/PaulBabatuyi/wayfare/internal/middleware"
	"github.com/PaulBabatuyi/wayfare/internal/scoring"
	"github.com/PaulBabatuyi/wayfare/internal/ws"
)

// tokenTTL only affects tokens signed by this process (tests and tooling).
const tokenTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logging.Component("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	dbClient, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database, db.WithTransactions(cfg.Mongo.Transactions))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()

	// Ensure indexes exist
	if err := dbClient.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create indexes")
	}

	// Create stores
	users := data.NewUsersStore(dbClient.Collection(db.Users))
	messages := data.NewMessagesStore(dbClient.Collection(db.Messages))
	conversations := data.NewConversationsStore(dbClient.Collection(db.Conversations))
	entities := data.NewEntitiesStore(dbClient.Collection(db.Businesses), dbClient.Collection(db.Locations))
	reviews := data.NewReviewsStore(dbClient.Collection(db.Reviews))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	jwtMgr := newJWTManager(cfg.JWT)

	coord := chat.NewCoordinator(chat.NewRegistry(), messages, conversations,
		chat.WithPresenceStore(users),
		chat.WithTransactor(dbClient),
		chat.WithMetrics(m),
		chat.WithLogger(logging.Component("chat")),
	)
	engine := scoring.NewEngine(entities, reviews,
		scoring.WithTransactor(dbClient),
		scoring.WithMetrics(m),
		scoring.WithLogger(logging.Component("scoring")),
	)
	if !dbClient.TransactionsEnabled() {
		log.Warn().Msg("transactions disabled: multi-document writes are sequential, not atomic")
	}

	// Per-user token buckets for websocket events and gRPC calls
	wsLimiter := middleware.NewLimiterStorePerSecond(cfg.Limits.WSEventsPerSecond, cfg.Limits.WSEventBurst, time.Minute)
	defer wsLimiter.Stop()
	grpcLimiter := middleware.NewLimiterStore(cfg.Limits.GRPCRequestsPerMinute, 3, time.Minute)
	defer grpcLimiter.Stop()

	wsHandler := ws.NewHandler(coord, jwtMgr,
		ws.WithLimiter(wsLimiter),
		ws.WithMetrics(m),
		ws.WithLogger(logging.Component("ws")),
	)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr(),
		Handler:           newRouter(wsHandler, dbClient, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// If TLS certs are configured, create server credentials and require TLS
	serverOpts := serverOptions(jwtMgr, grpcLimiter)
	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load TLS certs")
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	} else if cfg.Server.RequireTLS {
		log.Fatal().Msg("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}

	grpcServer := grpc.NewServer(serverOpts...)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	registerService(grpcServer, newServer(engine, entities, logging.Component("grpc")))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}

	go func() {
		log.Info().Str("addr", cfg.Server.GRPCAddr()).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("gRPC server exit")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.Server.HTTPAddr()).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server exit")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	<-ctx.Done()
	log.Info().Msg("shutting down")

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	grpcServer.GracefulStop()
}

// serverOptions chains the interceptors: auth first so the rate limiter can
// key on the caller.
func serverOptions(jwtMgr *auth.JWTManager, limiter *middleware.LimiterStore) []grpc.ServerOption {
	limited := map[string]bool{
		methodRecordInteraction: true,
		methodTopEntities:       true,
	}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			authUnaryInterceptor(jwtMgr),
			middleware.RateLimitUnaryInterceptor(limiter, limited, rateLimitKey),
		),
	}
}

// newJWTManager uses JWT_KEYS when supplied so tokens can be rotated;
// otherwise the single JWT_SECRET.
func newJWTManager(cfg config.JWTConfig) *auth.JWTManager {
	if len(cfg.Keys) > 0 {
		return auth.NewJWTManagerFromKeys(cfg.Keys, cfg.ActiveKID, tokenTTL)
	}
	return auth.NewJWTManager(cfg.Secret, tokenTTL)
}
