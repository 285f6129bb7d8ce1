// Package app assembles a classification run from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	awsclient "matching-client/internal/common/aws"
	"matching-client/internal/common/config"
	"matching-client/internal/common/database"
	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
	"matching-client/internal/common/metrics"
	"matching-client/internal/common/observability"
	"matching-client/internal/models"
	"matching-client/internal/pipeline/batcher"
	"matching-client/internal/pipeline/classifier"
	"matching-client/internal/pipeline/decoder"
	"matching-client/internal/pipeline/driver"
	"matching-client/internal/pipeline/residual"
	"matching-client/internal/pipeline/source"
	"matching-client/internal/pipeline/stats"
	"matching-client/internal/publish"
)

const (
	serviceName = "matching-client"

	connectAttempts = 3
	connectDelay    = 500 * time.Millisecond
	connectTimeout  = 10 * time.Second
)

type Options struct {
	RunID  string
	Logger logger.Logger

	// Registerer receives the OTel exporter; nil uses the default registry.
	Registerer promclient.Registerer
	OnProgress func(batches int64, elapsed time.Duration)
}

// Result is what a finished run leaves behind. Summary is nil only when the
// run could not be started.
type Result struct {
	Stats   *models.RunStats
	Summary *models.RunSummary
}

// Run opens the input and outputs named by cfg, connects the enabled
// publishers and drives the run to completion.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	runLog := log.WithFields(map[string]interface{}{"runId": opts.RunID})

	src, err := source.Open(cfg.InfilePath)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer src.Close()

	dec, err := decoder.New(decoder.FromConfig(cfg.Fields))
	if err != nil {
		return nil, err
	}

	chunks, err := batcher.New(src, dec, cfg.BatchSize, cfg.MaxBatches)
	if err != nil {
		return nil, err
	}

	table := stats.NewTable(nil)
	sink, err := residual.Create(cfg.OutfilePath, residual.Layout(cfg.Residual.Layout), table)
	if err != nil {
		return nil, err
	}

	var obs *observability.Observability
	if opts.Registerer != nil {
		obs = observability.NewWithRegisterer(serviceName, opts.Registerer, runLog)
	} else {
		obs = observability.New(serviceName, runLog)
	}
	defer obs.Shutdown()

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		srv := metrics.Serve(addr, runLog)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	out, err := connectOutlets(ctx, cfg, runLog)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	defer out.close(runLog)

	cls := classifier.NewClient(classifier.Config{
		Endpoint:        cfg.URI,
		MPID:            cfg.MPID,
		Timeout:         cfg.Classifier.TimeoutDuration(),
		StrictAlignment: cfg.Classifier.StrictAlignment,
	}, runLog)

	d := driver.New(driver.Options{
		RunID:      opts.RunID,
		Chunks:     chunks,
		Classifier: cls,
		Stats:      table,
		Residual:   sink,
		Report:     stats.FileReport{Path: cfg.StatsOutfilePath},
		Settings: driver.Settings{
			Workers:       cfg.Pipeline.Workers,
			ProgressEvery: cfg.Pipeline.ProgressEvery,
		},
		Logger:     log,
		Recorder:   obs,
		Publishers: out.publishers,
		Observers:  out.observers,
		Notifier:   out.notifier(),
		OnProgress: opts.OnProgress,
	})

	runStats, runErr := d.Run(ctx)
	return &Result{Stats: runStats, Summary: d.Summary()}, runErr
}

// outlets are the optional external stores of a run.
type outlets struct {
	publishers []driver.Publisher
	observers  []driver.ResidualObserver
	notifiers  publish.MultiNotifier
	closers    []func() error
}

func (o *outlets) notifier() driver.Notifier {
	if len(o.notifiers) == 0 {
		return nil
	}
	return o.notifiers
}

func (o *outlets) close(log logger.Logger) {
	var err error
	for _, c := range o.closers {
		err = multierr.Append(err, c())
	}
	if err != nil {
		log.WithError(err).Warn("closing publisher connections", nil)
	}
}

// connectOutlets builds every enabled publisher. A store that cannot be
// reached is skipped with a warning; only an unusable setting is an error.
func connectOutlets(ctx context.Context, cfg *config.Config, log logger.Logger) (*outlets, error) {
	o := &outlets{}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if pc := cfg.Publish.Postgres; pc.Enabled {
		pg, err := database.NewPostgres(pc)
		if err != nil {
			return nil, apperrors.NewConfigWrongTypeError("publish.postgres", "valid connection settings", err)
		}
		pub := publish.NewPostgresPublisher(pg, log)
		err = retryWithBackoff(ctx, func() error {
			if err := pg.Ping(ctx); err != nil {
				return err
			}
			return pub.EnsureSchema(ctx)
		}, connectAttempts, connectDelay, log, "PostgreSQL connection")
		if err != nil {
			log.WithError(err).Warn("postgres publisher disabled", nil)
			_ = pg.Close()
		} else {
			o.publishers = append(o.publishers, pub)
			o.closers = append(o.closers, pg.Close)
		}
	}

	if rc := cfg.Publish.Redis; rc.Enabled {
		rdb := database.NewRedis(rc)
		err := retryWithBackoff(ctx, func() error {
			return rdb.Ping(ctx)
		}, connectAttempts, connectDelay, log, "Redis connection")
		if err != nil {
			log.WithError(err).Warn("redis publisher disabled", nil)
			_ = rdb.Close()
		} else {
			ttl := time.Duration(rc.TTL) * time.Second
			o.publishers = append(o.publishers, publish.NewRedisPublisher(rdb.Client, rc.KeyPrefix, ttl, log))
			o.closers = append(o.closers, rdb.Close)
		}
	}

	if ec := cfg.Publish.Elasticsearch; ec.Enabled {
		es, err := database.NewElasticsearch(ec, nil)
		if err != nil {
			return nil, apperrors.NewConfigWrongTypeError("publish.elasticsearch", "valid connection settings", err)
		}
		err = retryWithBackoff(ctx, func() error {
			return es.Ping(ctx)
		}, connectAttempts, connectDelay, log, "Elasticsearch connection")
		if err != nil {
			log.WithError(err).Warn("elasticsearch residual indexing disabled", nil)
		} else {
			o.observers = append(o.observers, publish.NewResidualIndexer(es.Client, ec.Index, log))
		}
	}

	if sc := cfg.Notify.SNS; sc.Enabled {
		client, err := awsclient.NewSNSClient(ctx, sc.Region)
		if err != nil {
			log.WithError(err).Warn("sns notifier disabled", nil)
		} else {
			o.notifiers = append(o.notifiers, publish.NewSNSNotifier(client, sc.TopicARN, log))
		}
	}

	if ec := cfg.Notify.Email; ec.Enabled {
		client, err := awsclient.NewSESClient(ctx, ec.Region)
		if err != nil {
			log.WithError(err).Warn("email notifier disabled", nil)
		} else {
			o.notifiers = append(o.notifiers, publish.NewEmailNotifier(client, ec.From, ec.To, log))
		}
	}

	return o, nil
}
