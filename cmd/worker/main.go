package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/redis/go-redis/v9"

	"warehouse-relay/internal/config"
	"warehouse-relay/internal/notify"
	"warehouse-relay/internal/orchestrator"
	"warehouse-relay/internal/queue"
	"warehouse-relay/internal/secrets"
	"warehouse-relay/internal/telemetry"
	"warehouse-relay/internal/warehouse"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	steps := queue.NewStepQueue(rdb, cfg.VisibilityTimeout)
	notifier := notify.New(awsCfg.Credentials, cfg.AWSRegion, cfg.CallbackService)

	runner := orchestrator.NewRunner(cfg, steps, connector, notifier, log)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	log.Info("worker started", "poll_wait", cfg.PollWait.String(), "max_poll_attempts", cfg.MaxPollAttempts)
	if err := runner.Run(ctx); err != nil {
		log.Info("worker stopped", "reason", err.Error())
	}
}
