package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/foodbridge/internal/config"
	"github.com/iliyamo/foodbridge/internal/database"
	"github.com/iliyamo/foodbridge/internal/handler"
	"github.com/iliyamo/foodbridge/internal/logger"
	"github.com/iliyamo/foodbridge/internal/middleware"
	"github.com/iliyamo/foodbridge/internal/queue"
	"github.com/iliyamo/foodbridge/internal/repository"
	"github.com/iliyamo/foodbridge/internal/router"
	"github.com/iliyamo/foodbridge/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("open database", "driver", cfg.DBDriver, "err", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		log.Fatal("migrate database", "err", err)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable; rate limiting and response cache disabled")
	} else {
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()

	var pub queue.Publisher = queue.NopPublisher{}
	if cfg.Events.Enabled {
		pub = queue.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Queue, log)
	}
	eng := service.NewEngine(db,
		service.WithLogger(log),
		service.WithPublisher(pub),
		service.WithCache(middleware.NewCacheBuster(cacheCfg, rdb)),
	)

	users := repository.NewUserRepo(db)
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(middleware.RequestLogger(log))
	router.Register(e, router.Deps{
		DB:         db,
		JWTSecret:  cfg.JWTSecret,
		Auth:       handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db), log),
		Users:      handler.NewUserHandler(users, eng, log),
		Donations:  handler.NewDonationHandler(eng, log),
		Requests:   handler.NewRequestHandler(eng, log),
		Deliveries: handler.NewDeliveryHandler(eng, log),
		RateLimit:  middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		Cache:      middleware.NewRedisCache(cacheCfg, rdb, log),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdown)
	})
	g.Go(func() error {
		eng.RunExpirySweeper(gctx, cfg.ExpirySweep)
		return nil
	})
	if cfg.Events.Enabled {
		g.Go(func() error {
			err := queue.StartLifecycleConsumer(gctx, cfg.Events.URL, cfg.Events.Queue, cfg.Events.LogPath, log)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("server stopped", "err", err)
		return
	}
	log.Info("server stopped")
}
