// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/multibomb/arena/internal/auth"
	"github.com/multibomb/arena/internal/cache"
	"github.com/multibomb/arena/internal/config"
	"github.com/multibomb/arena/internal/database"
	"github.com/multibomb/arena/internal/discovery"
	"github.com/multibomb/arena/internal/game"
	"github.com/multibomb/arena/internal/handlers"
	"github.com/multibomb/arena/internal/lobby"
	"github.com/multibomb/arena/internal/middleware"
	"github.com/multibomb/arena/internal/server"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
	limiterIdle     = 10 * time.Minute
)

func main() {
	logger := logrus.New()
	cfg := config.Load(logger)
	logger.SetLevel(cfg.LogLevel)

	if err := run(logger, cfg); err != nil {
		logger.WithError(err).Error("server exited")
		os.Exit(1)
	}
}

func run(logger *logrus.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initAuth(logger, cfg); err != nil {
		return err
	}

	recorder, cleanup, err := newRecorder(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// bombs keep detonating while a lobby closes; only shutdown stops them
	hazards := game.NewHazardEngine(ctx, game.DefaultTiming, logger)

	reg := server.NewRegistry(server.Options{
		MaxLobbies: cfg.MaxLobbies,
		TicketTTL:  cfg.TicketTTL,
		Logger:     logger,
		Lobby: lobby.Options{
			TicksPerSecond: cfg.TicksPerSecond,
			Grace:          cfg.LobbyGrace,
			FinishGrace:    cfg.FinishGrace,
			Hazards:        hazards,
			Recorder:       recorder,
			Logger:         logger,
		},
	})

	sessionLn, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GamePort))
	if err != nil {
		return fmt.Errorf("listen game port: %w", err)
	}
	responder, err := discovery.Listen(":"+strconv.Itoa(cfg.DiscoveryPort), cfg.ServerName, logger)
	if err != nil {
		sessionLn.Close()
		return err
	}

	limiter := middleware.NewIPLimiter(cfg.AdmissionRate, cfg.AdmissionBurst)
	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           handlers.NewRouter(reg, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reg.Serve(gctx, sessionLn) })
	g.Go(func() error { return responder.Serve(gctx) })
	g.Go(func() error { return reg.RunSweeper(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(limiterIdle)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Prune(limiterIdle)
			}
		}
	})
	g.Go(func() error {
		logger.Infof("Running directory on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		reg.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	logger.WithFields(logrus.Fields{
		"name":      cfg.ServerName,
		"discovery": cfg.DiscoveryPort,
		"http":      cfg.HTTPPort,
		"game":      cfg.GamePort,
	}).Info("MultiBomb server started")

	err = g.Wait()
	hazards.Wait()
	return err
}

func initAuth(logger *logrus.Logger, cfg config.Config) error {
	if cfg.OperatorPrivateKey != "" && cfg.OperatorPublicKey != "" {
		return auth.InitFromPath(cfg.OperatorPrivateKey, cfg.OperatorPublicKey, cfg.TokenTTL)
	}
	if err := auth.Init(cfg.TokenTTL); err != nil {
		return err
	}
	token, err := auth.CreateJWT(auth.OperatorSubject)
	if err != nil {
		return fmt.Errorf("issue operator token: %w", err)
	}
	logger.WithField("token", token).Debug("Ephemeral operator key generated")
	return nil
}

// newRecorder picks where finished matches go: the historian queue, then the
// database, then the log.
func newRecorder(ctx context.Context, logger *logrus.Logger, cfg config.Config) (lobby.MatchRecorder, func(), error) {
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, 0)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("queue", cfg.QueueName).Info("Publishing match results to redis")
		return cache.NewMatchQueue(rdb, cfg.QueueName), func() { rdb.Close() }, nil
	}
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := database.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("Writing match results to postgres")
		return store, pool.Close, nil
	}
	return lobby.LogRecorder{Log: logger}, func() {}, nil
}
