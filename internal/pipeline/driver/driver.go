// Package driver runs the chunk → classify → route loop and finalizes the run.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
	"matching-client/internal/common/metrics"
	"matching-client/internal/models"
	"matching-client/internal/pipeline/batcher"
	"matching-client/internal/pipeline/classifier"
)

// notifyTimeout bounds run-end publishing and notification.
const notifyTimeout = 15 * time.Second

type ChunkSource interface {
	Next(ctx context.Context) (*batcher.Chunk, error)
	Capped() bool
}

type Classifier interface {
	Classify(ctx context.Context, batch []*models.Message) ([]models.ClassificationResult, error)
}

type Aggregator interface {
	RecordMessage(msg *models.Message)
	Emit() []models.StatRow
	Snapshot() *models.RunStats
}

type ResidualSink interface {
	Write(msg *models.Message) error
	Flush() error
	Close() error
}

type ReportPersister interface {
	Persist(rows []models.StatRow) error
}

// Recorder receives per-batch telemetry.
type Recorder interface {
	RecordBatch(ctx context.Context, status string, duration time.Duration)
	RecordRouted(ctx context.Context, route string, n int)
}

// Publisher mirrors a successful run's results into an external store.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, summary *models.RunSummary) error
}

// ResidualObserver sees each chunk's unmatched messages after they are written.
type ResidualObserver interface {
	Name() string
	ObserveResidual(ctx context.Context, runID string, seq int64, msgs []*models.Message) error
}

// Notifier announces every finished run, successful or not.
type Notifier interface {
	Notify(ctx context.Context, summary *models.RunSummary) error
}

type Settings struct {
	// Workers > 1 overlaps classify calls across chunks.
	Workers int
	// ProgressEvery reports progress every N routed chunks; 0 disables it.
	ProgressEvery int
}

type Options struct {
	RunID string

	Chunks     ChunkSource
	Classifier Classifier
	Stats      Aggregator
	Residual   ResidualSink
	Report     ReportPersister

	Settings Settings
	Logger   logger.Logger

	// Optional.
	Recorder   Recorder
	Publishers []Publisher
	Observers  []ResidualObserver
	Notifier   Notifier
	OnProgress func(batches int64, elapsed time.Duration)
}

type Driver struct {
	opts  Options
	log   logger.Logger
	state atomic.Int32

	started time.Time
	batches int64
	summary *models.RunSummary
}

func New(opts Options) *Driver {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Driver{
		opts: opts,
		log:  log.WithFields(map[string]interface{}{"runId": opts.RunID}),
	}
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

// Summary is available once Run has returned.
func (d *Driver) Summary() *models.RunSummary {
	return d.summary
}

func (d *Driver) transition(from, to State) bool {
	return d.state.CompareAndSwap(int32(from), int32(to))
}

func (d *Driver) validate() error {
	switch {
	case d.opts.Chunks == nil:
		return fmt.Errorf("driver: no chunk source: %w", apperrors.ErrInvalidState)
	case d.opts.Classifier == nil:
		return fmt.Errorf("driver: no classifier: %w", apperrors.ErrInvalidState)
	case d.opts.Stats == nil:
		return fmt.Errorf("driver: no aggregator: %w", apperrors.ErrInvalidState)
	case d.opts.Residual == nil:
		return fmt.Errorf("driver: no residual sink: %w", apperrors.ErrInvalidState)
	case d.opts.Report == nil:
		return fmt.Errorf("driver: no report persister: %w", apperrors.ErrInvalidState)
	}
	return nil
}

// Run processes every chunk, then persists the stats report and closes the
// residual output. On failure it still finalizes what was routed and returns
// the error that stopped the run. Run may be called once.
func (d *Driver) Run(ctx context.Context) (*models.RunStats, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if !d.transition(StateIdle, StateRunning) {
		return nil, apperrors.NewInvalidStateError("driver.Run", d.State().String())
	}

	d.started = time.Now()
	d.log.Info("run started", map[string]interface{}{"workers": d.workers()})

	var runErr error
	if d.workers() > 1 {
		runErr = d.runPool(ctx)
	} else {
		runErr = d.runSequential(ctx)
	}

	if runErr == nil {
		d.transition(StateRunning, StateDraining)
		if err := d.finalize(); err != nil {
			runErr = err
		}
	} else {
		if err := d.finalize(); err != nil {
			d.log.WithError(err).Error("finalize after failure incomplete", nil)
		}
	}

	final := StateDone
	if runErr != nil {
		final = StateFailed
	}
	d.state.Store(int32(final))

	d.summary = d.buildSummary(runErr)
	d.announce(ctx, runErr == nil)

	fields := map[string]interface{}{
		"state":     final.String(),
		"batches":   d.summary.BatchesProcessed,
		"matched":   d.summary.MatchedMessages,
		"unmatched": d.summary.UnmatchedMessages,
		"capped":    d.summary.Capped,
		"elapsed":   d.summary.Elapsed().String(),
	}
	if runErr != nil {
		d.log.WithError(runErr).Error("run failed", fields)
	} else {
		d.log.Info("run finished", fields)
	}

	return d.opts.Stats.Snapshot(), runErr
}

func (d *Driver) workers() int {
	if d.opts.Settings.Workers < 1 {
		return 1
	}
	return d.opts.Settings.Workers
}

func (d *Driver) runSequential(ctx context.Context) error {
	for {
		chunk, err := d.opts.Chunks.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		results, err := d.classify(ctx, chunk)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", chunk.Seq, err)
		}
		if err := d.route(ctx, chunk, results); err != nil {
			return fmt.Errorf("chunk %d: %w", chunk.Seq, err)
		}
	}
}

func (d *Driver) classify(ctx context.Context, chunk *batcher.Chunk) ([]models.ClassificationResult, error) {
	start := time.Now()
	results, err := d.opts.Classifier.Classify(ctx, chunk.Messages)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = string(apperrors.CodeOf(err))
		if status == "" {
			status = "error"
		}
	}
	metrics.BatchesProcessed.WithLabelValues(status).Inc()
	if d.opts.Recorder != nil {
		d.opts.Recorder.RecordBatch(ctx, status, elapsed)
	}

	d.log.Debug("chunk classified", map[string]interface{}{
		"seq":      chunk.Seq,
		"messages": len(chunk.Messages),
		"status":   status,
		"duration": elapsed.String(),
	})
	return results, err
}

// route sends every message of chunk to exactly one of the aggregator or the
// residual sink, in chunk order. Only one goroutine calls route.
func (d *Driver) route(ctx context.Context, chunk *batcher.Chunk, results []models.ClassificationResult) error {
	classifier.Apply(classifier.Zip(chunk.Messages, results))

	var unmatched []*models.Message
	for _, msg := range chunk.Messages {
		if msg.Matched() {
			d.opts.Stats.RecordMessage(msg)
			continue
		}
		if err := d.opts.Residual.Write(msg); err != nil {
			return err
		}
		unmatched = append(unmatched, msg)
	}
	if err := d.opts.Residual.Flush(); err != nil {
		return err
	}

	matched := len(chunk.Messages) - len(unmatched)
	metrics.MessagesRouted.WithLabelValues(metrics.RouteMatched).Add(float64(matched))
	metrics.MessagesRouted.WithLabelValues(metrics.RouteUnmatched).Add(float64(len(unmatched)))
	if d.opts.Recorder != nil {
		d.opts.Recorder.RecordRouted(ctx, metrics.RouteMatched, matched)
		d.opts.Recorder.RecordRouted(ctx, metrics.RouteUnmatched, len(unmatched))
	}

	if len(unmatched) > 0 {
		for _, o := range d.opts.Observers {
			if err := o.ObserveResidual(ctx, d.opts.RunID, chunk.Seq, unmatched); err != nil {
				d.log.WithError(err).Warn("residual observer failed", map[string]interface{}{
					"observer": o.Name(),
					"seq":      chunk.Seq,
				})
			}
		}
	}

	d.batches++
	if every := int64(d.opts.Settings.ProgressEvery); every > 0 && d.batches%every == 0 {
		elapsed := time.Since(d.started)
		d.log.Info("progress", map[string]interface{}{
			"batches":        d.batches,
			"elapsedSeconds": int64(elapsed.Seconds()),
		})
		if d.opts.OnProgress != nil {
			d.opts.OnProgress(d.batches, elapsed)
		}
	}
	return nil
}

// finalize persists the report and closes the residual output, attempting both.
func (d *Driver) finalize() error {
	var err error
	err = multierr.Append(err, d.opts.Report.Persist(d.opts.Stats.Emit()))
	err = multierr.Append(err, d.opts.Residual.Close())
	return err
}

func (d *Driver) buildSummary(runErr error) *models.RunSummary {
	snap := d.opts.Stats.Snapshot()
	s := &models.RunSummary{
		RunID:             d.opts.RunID,
		Status:            models.RunStatusDone,
		StartedAt:         d.started,
		FinishedAt:        time.Now(),
		BatchesProcessed:  d.batches,
		Capped:            d.opts.Chunks.Capped(),
		MatchedMessages:   snap.TotalMatchedMessages,
		UnmatchedMessages: snap.TotalUnmatchedMessages,
		Templates:         d.opts.Stats.Emit(),
	}
	if runErr != nil {
		s.Status = models.RunStatusFailed
		s.ErrorCode = string(apperrors.CodeOf(runErr))
		s.Error = runErr.Error()
	}
	return s
}

// announce runs publishers after a successful run and the notifier after
// every run. Their failures are logged and never change the outcome.
func (d *Driver) announce(ctx context.Context, ok bool) {
	if len(d.opts.Publishers) == 0 && d.opts.Notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if ok {
		for _, p := range d.opts.Publishers {
			if err := p.Publish(ctx, d.summary); err != nil {
				d.log.WithError(err).Warn("publish failed", map[string]interface{}{
					"publisher": p.Name(),
					"errorCode": string(apperrors.CodeOf(err)),
				})
				continue
			}
			d.log.Info("published run", map[string]interface{}{"publisher": p.Name()})
		}
	}

	if d.opts.Notifier != nil {
		if err := d.opts.Notifier.Notify(ctx, d.summary); err != nil {
			d.log.WithError(err).Warn("run notification failed", nil)
		}
	}
}
