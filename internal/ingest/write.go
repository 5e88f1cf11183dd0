package ingest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/starford/gpahub/internal/models"
	"github.com/starford/gpahub/internal/store"
)

// writeSequential writes batches one after another, at most one batch per
// BatchPause.
func (p *Pipeline) writeSequential(ctx context.Context, log *slog.Logger, ops []models.Operation) writeResult {
	var limiter *rate.Limiter
	if p.cfg.BatchPause > 0 {
		limiter = rate.NewLimiter(rate.Every(p.cfg.BatchPause), 1)
	}

	var res writeResult
	for _, batch := range chunk(ops, p.cfg.BatchSize) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				res.err = err
				return res
			}
		}
		if err := p.writeBatch(ctx, log, p.target, batch); err != nil {
			if isContextErr(err) {
				res.err = err
				return res
			}
			res.failed++
			log.Error("ingest: batch failed", slog.Int("size", len(batch)), slog.String("error", err.Error()))
			continue
		}
		res.written += len(batch)
		log.Info("ingest: progress",
			slog.Int("written", res.written),
			slog.Int("total", len(ops)),
			slog.Float64("percent", percent(res.written, len(ops))),
		)
	}
	return res
}

// writeParallel splits the batches into one contiguous group per worker.
// Every worker opens its own store connection and writes its group in order.
func (p *Pipeline) writeParallel(ctx context.Context, log *slog.Logger, ops []models.Operation) writeResult {
	batches := chunk(ops, p.cfg.BatchSize)
	workers := min(p.cfg.Workers, len(batches))
	per := (len(batches) + workers - 1) / workers

	var written, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		group := batches[min(w*per, len(batches)):min((w+1)*per, len(batches))]
		if len(group) == 0 {
			continue
		}
		worker := w
		g.Go(func() error {
			wlog := log.With(slog.Int("worker", worker))
			conn, err := p.connect(gctx)
			if err != nil {
				wlog.Error("ingest: worker connect failed", slog.String("error", err.Error()))
				failed.Add(int64(len(group)))
				return nil
			}
			defer conn.Close()

			for _, batch := range group {
				if err := p.writeBatch(gctx, wlog, conn, batch); err != nil {
					if isContextErr(err) {
						return err
					}
					failed.Add(1)
					wlog.Error("ingest: batch failed", slog.Int("size", len(batch)), slog.String("error", err.Error()))
					continue
				}
				done := written.Add(int64(len(batch)))
				wlog.Info("ingest: progress",
					slog.Int64("written", done),
					slog.Int("total", len(ops)),
					slog.Float64("percent", percent(int(done), len(ops))),
				)
			}
			return nil
		})
	}
	err := g.Wait()
	return writeResult{written: int(written.Load()), failed: int(failed.Load()), err: err}
}

// writeBatch applies batch with up to MaxRetries retries spaced RetryBackoff apart.
func (p *Pipeline) writeBatch(ctx context.Context, log *slog.Logger, w store.Writer, batch []models.Operation) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryBackoff), uint64(p.cfg.MaxRetries)),
		ctx,
	)
	op := func() error {
		err := w.ApplyBatch(ctx, batch)
		if err != nil && isContextErr(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.metrics.BatchRetry()
		log.Warn("ingest: retrying batch", slog.Duration("wait", wait), slog.String("error", err.Error()))
	}
	return backoff.RetryNotify(op, policy, notify)
}

func percent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}

func stringReader(s string) io.Reader { return strings.NewReader(s) }
