package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/lalith-99/circlecast/internal/access"
	"github.com/lalith-99/circlecast/internal/api"
	"github.com/lalith-99/circlecast/internal/auth"
	"github.com/lalith-99/circlecast/internal/cache"
	"github.com/lalith-99/circlecast/internal/chat"
	"github.com/lalith-99/circlecast/internal/config"
	"github.com/lalith-99/circlecast/internal/db"
	"github.com/lalith-99/circlecast/internal/fanout"
	"github.com/lalith-99/circlecast/internal/gateway"
	"github.com/lalith-99/circlecast/internal/messages"
	"github.com/lalith-99/circlecast/internal/notify"
	"github.com/lalith-99/circlecast/internal/observ"
	"github.com/lalith-99/circlecast/internal/presence"
	"github.com/lalith-99/circlecast/internal/repository/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dispatcher is a notification queue that runs until its context ends.
type dispatcher interface {
	notify.Dispatcher
	Run(ctx context.Context) error
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	instanceID := uuid.NewString()
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, instanceID)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 2. Postgres is required: messages, memberships and notifications
	// live there.
	// ---------------------------------------------------------------
	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// ---------------------------------------------------------------
	// 3. Redis is optional. Without it there is no message cache, fanout
	// stays on this instance and notifications are delivered in process.
	// ---------------------------------------------------------------
	var (
		redisClient redis.UniversalClient
		msgCache    cache.Versioned = cache.Nop{}
	)
	if client, err := db.NewRedis(ctx, cfg.RedisURL, logger); err != nil {
		logger.Warn("redis unavailable, running without cache", zap.Error(err))
	} else {
		defer client.Close()
		redisClient = client
		msgCache = cache.NewRedisCache(client)
	}

	bus := fanout.Connect(ctx, fanout.Options{
		Broker:  cfg.FanoutBroker,
		Redis:   redisClient,
		NATSURL: cfg.NATSURL,
	}, observ.Component(logger, "fanout"))
	defer bus.Close()

	// ---------------------------------------------------------------
	// 4. Stores and services
	// ---------------------------------------------------------------
	pool := database.Pool()
	roomRepo := postgres.NewRoomStore(pool)
	membershipRepo := postgres.NewMembershipStore(pool)
	userRepo := postgres.NewUserStore(pool)

	msgStore := messages.NewStore(postgres.NewMessageStore(pool), roomRepo, msgCache,
		cfg.MessageCacheTTL, cfg.MessagePageSize, observ.Component(logger, "messages"))

	aggregator := notify.NewAggregator(postgres.NewNotificationStore(pool), bus, observ.Component(logger, "notify"))
	queue := newDispatcher(cfg, redisClient != nil, aggregator, observ.Component(logger, "notify"))

	svc := chat.NewService(
		access.NewBroker(roomRepo, membershipRepo),
		msgStore,
		userRepo,
		postgres.NewCollabStore(pool),
		bus,
		queue,
		cfg.MessagePageMax,
		observ.Component(logger, "chat"),
	)

	gw := gateway.New(svc, bus, presence.NewTracker(),
		gateway.Options{SendBuffer: cfg.WSSendBuffer}, observ.Component(logger, "gateway"))

	router := api.NewRouter(api.Deps{
		Rooms:         svc,
		Collabs:       svc,
		Notifications: aggregator,
		Realtime:      gw,
		Users:         userRepo,
		Verifier:      auth.NewJWTVerifier(cfg.JWTSecret),
		Health:        database.Health,
	}, observ.Component(logger, "http"))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ---------------------------------------------------------------
	// 5. Run until a signal arrives, then drain.
	// ---------------------------------------------------------------
	logger.Info("starting circlecast",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("fanout", cfg.FanoutBroker),
		zap.String("notify_queue", cfg.NotifyQueue),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Int("sessions", gw.Sessions()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// hijacked websocket connections are not tracked by the server
		gw.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newDispatcher picks the notification queue. The asynq queue needs Redis;
// without it notifications fall back to the in-process pool.
func newDispatcher(cfg *config.Config, haveRedis bool, notifier notify.Notifier, logger *zap.Logger) dispatcher {
	if cfg.NotifyQueue == config.QueueAsynq {
		if !haveRedis {
			logger.Warn("asynq needs redis, delivering notifications in process")
		} else if opt, err := asynq.ParseRedisURI(cfg.RedisURL); err != nil {
			logger.Warn("invalid redis url for asynq, delivering notifications in process", zap.Error(err))
		} else {
			return notify.NewAsynqQueue(opt, notifier, cfg.NotifyWorkers, logger)
		}
	}
	return notify.NewPool(notifier, cfg.NotifyWorkers, cfg.NotifyBuffer, logger)
}
