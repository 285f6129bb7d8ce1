// cmd/matching-client/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"matching-client/internal/app"
	"matching-client/internal/common/config"
	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.StringP("config", "c", "", "path to the run configuration file (default: search ./configs and .)")
	runID := pflag.String("run-id", "", "identifier for this run (default: random UUID)")
	pflag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		zapLog := logger.New("info", "console")
		defer zapLog.Sync()
		zapLog.Error("config load failed", zap.Error(err))
		return apperrors.ExitCode(err)
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	if *runID == "" {
		*runID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting run", map[string]interface{}{
		"runId":      *runID,
		"input":      cfg.InfilePath,
		"endpoint":   cfg.URI,
		"batchSize":  cfg.BatchSize,
		"maxBatches": cfg.MaxBatches,
		"workers":    cfg.Pipeline.Workers,
	})

	start := time.Now()
	res, err := app.Run(ctx, cfg, app.Options{
		RunID:  *runID,
		Logger: log,
		OnProgress: func(batches int64, elapsed time.Duration) {
			fmt.Printf("debug cntr = %d. Elapsed time: %ds\n", batches, int64(elapsed.Seconds()))
		},
	})

	if res != nil && res.Stats != nil {
		fmt.Printf("Unmatched msgs = %d\n", res.Stats.TotalUnmatchedMessages)
	}
	fmt.Printf("Elapsed time: %ds\n", int64(time.Since(start).Seconds()))

	return apperrors.NewErrorHandler(log).HandleRunError(*runID, err)
}
