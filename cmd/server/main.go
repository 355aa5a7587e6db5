package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"rep0st/internal/config"
	"rep0st/internal/database"
	"rep0st/internal/featureworker"
	"rep0st/internal/ingest"
	"rep0st/internal/logger"
	"rep0st/internal/media"
	"rep0st/internal/model"
	"rep0st/internal/observability"
	"rep0st/internal/repositories"
	"rep0st/internal/router"
	"rep0st/internal/scheduler"
	"rep0st/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	env := "development"
	if cfg.Environment == config.Production {
		env = "production"
	}
	logger.Init("rep0st", env, logger.ParseLevelFromEnv())

	shutdownOTel, err := observability.InitOTel(context.Background(), "rep0st")
	if err != nil {
		slog.Warn("failed to initialize OpenTelemetry", "error", err)
	} else {
		defer func() {
			if err := shutdownOTel(context.Background()); err != nil {
				slog.Error("error shutting down OpenTelemetry", "error", err)
			}
		}()
	}

	if cfg.Environment == config.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.New(cfg.DatabaseURI)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer db.Close()
	slog.Info("connected to database")

	client, err := upstream.New(upstream.Config{
		BaseURLAPI:  cfg.APIBaseURLs.API,
		BaseURLImg:  cfg.APIBaseURLs.Img,
		BaseURLVid:  cfg.APIBaseURLs.Vid,
		BaseURLFull: cfg.APIBaseURLs.Full,
		User:        cfg.APIUser,
		Password:    cfg.APIPassword,
	})
	if err != nil {
		log.Fatalf("building upstream client: %v", err)
	}

	store := media.New(cfg.MediaPath, client)
	postRepo := repositories.NewPostRepository(db)
	vectorRepo := repositories.NewFeatureVectorRepository(db)

	ingestCtrl := ingest.New(db, client, store, postRepo, cfg.LimitIDTo)
	worker := featureworker.New(db, postRepo, vectorRepo, store)

	sched := scheduler.New()
	sched.Schedule(scheduler.Job{
		Name:     "update_posts",
		Timespec: cfg.UpdatePostsJobSchedule,
		Fn: func(ctx context.Context) error {
			return ingestCtrl.UpdatePosts(ctx, 0)
		},
	})
	sched.Schedule(scheduler.Job{
		Name:     "update_all_posts",
		Timespec: cfg.UpdateAllPostsJobSchedule,
		Fn: func(ctx context.Context) error {
			return ingestCtrl.UpdateAllPosts(ctx, 0, 0)
		},
	})
	sched.Schedule(scheduler.Job{
		Name:     "update_features",
		Timespec: cfg.UpdateFeaturesJobSchedule,
		Fn: func(ctx context.Context) error {
			return worker.UpdateFeatures(ctx, model.PostType(cfg.UpdateFeaturesPostType))
		},
	})
	sched.Schedule(scheduler.Job{
		Name:     "update_tags",
		Timespec: cfg.UpdateTagsJobSchedule,
		Fn: func(ctx context.Context) error {
			return ingestCtrl.UpdateTags(ctx)
		},
	})
	sched.Start()

	var server *http.Server
	if cfg.HTTPEnabled() {
		r := router.Setup(db)
		server = &http.Server{
			Addr:    fmt.Sprintf("%s:%s", cfg.WebserverBindHostname, cfg.WebserverBindPort),
			Handler: r,
		}
		go func() {
			slog.Info("http server starting", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("http server failed: %v", err)
			}
		}()
	} else {
		slog.Info("http server disabled (webserver_bind_hostname or webserver_bind_port not set)")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	slog.Info("shutting down")

	// Shutdown order: scheduler (stop producing new work), then the web
	// server (stop accepting requests), then the DB pool via the deferred
	// db.Close(); the upstream API client has no explicit close.
	sched.Shutdown(context.Background())

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("http server forced to shutdown", "error", err)
		}
	}

	slog.Info("shutdown complete")
}
