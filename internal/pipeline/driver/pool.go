package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"matching-client/internal/models"
	"matching-client/internal/pipeline/batcher"
)

type chunkResult struct {
	seq     int64
	chunk   *batcher.Chunk
	results []models.ClassificationResult
	err     error
}

// runPool overlaps classify calls on a bounded set of workers and routes
// results strictly in sequence order. After a failure at sequence f no new
// chunks are produced; in-flight calls finish, every chunk below f is still
// routed and nothing at or above f is. The returned error is the one at the
// lowest failing sequence, as a sequential run would report.
func (d *Driver) runPool(ctx context.Context) error {
	workers := d.workers()

	// window bounds chunks that are in flight or waiting in the reorder buffer.
	window := make(chan struct{}, 2*workers)
	jobs := make(chan *batcher.Chunk, workers)
	out := make(chan chunkResult, workers)
	stop := make(chan struct{})
	var stopOnce sync.Once
	halt := func() { stopOnce.Do(func() { close(stop) }) }

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		var produced int64
		for {
			select {
			case window <- struct{}{}:
			case <-stop:
				return
			}
			chunk, err := d.opts.Chunks.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				out <- chunkResult{seq: produced, err: err}
				return
			}
			produced++
			select {
			case jobs <- chunk:
			case <-stop:
				return
			}
		}
	}()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				results, err := d.classify(ctx, chunk)
				if err != nil {
					err = fmt.Errorf("chunk %d: %w", chunk.Seq, err)
				}
				out <- chunkResult{seq: chunk.Seq, chunk: chunk, results: results, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var (
		next     int64
		failSeq  int64 = -1
		firstErr error
		pending  = make(map[int64]chunkResult)
	)
	fail := func(seq int64, err error) {
		if failSeq < 0 || seq < failSeq {
			failSeq, firstErr = seq, err
		}
		halt()
	}

	for r := range out {
		if r.err != nil {
			fail(r.seq, r.err)
			continue
		}
		pending[r.seq] = r

		for {
			p, ok := pending[next]
			if !ok || (failSeq >= 0 && next >= failSeq) {
				break
			}
			delete(pending, next)
			if err := d.route(ctx, p.chunk, p.results); err != nil {
				fail(next, fmt.Errorf("chunk %d: %w", next, err))
				break
			}
			next++
			<-window
		}
	}

	if len(pending) > 0 {
		d.log.Debug("discarded classified chunks after failure", map[string]interface{}{
			"discarded": len(pending),
			"failedSeq": failSeq,
		})
	}
	return firstErr
}
