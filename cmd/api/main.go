package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/redis/go-redis/v9"

	"warehouse-relay/internal/api"
	"warehouse-relay/internal/config"
	"warehouse-relay/internal/notify"
	"warehouse-relay/internal/queue"
	"warehouse-relay/internal/ratelimit"
	"warehouse-relay/internal/secrets"
	"warehouse-relay/internal/warehouse"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Error("load aws config", "error", err)
		os.Exit(1)
	}

	provider := secrets.NewProvider(secretsmanager.NewFromConfig(awsCfg), cfg.SecretID, cfg.KeyPassphrase)
	connector := warehouse.NewConnector(provider, warehouse.Settings{
		Account:   cfg.SnowflakeAccount,
		User:      cfg.SnowflakeUser,
		Warehouse: cfg.SnowflakeWarehouse,
		Database:  cfg.SnowflakeDatabase,
		Schema:    cfg.SnowflakeSchema,
	})
	submitter := warehouse.NewSubmitter(connector)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	steps := queue.NewStepQueue(rdb, cfg.VisibilityTimeout)
	limiter := ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	notifier := notify.New(awsCfg.Credentials, cfg.AWSRegion, cfg.CallbackService)

	server := api.New(cfg, submitter, connector, notifier, steps, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
