package gc

import (
	"context"
	"time"

	"github.com/attachd/attachd/attachcore/attachment"
	"github.com/attachd/attachd/attachcore/config"
	"github.com/attachd/attachd/attachcore/datastore"
	"github.com/attachd/attachd/core/common"
	"github.com/attachd/attachd/core/logging"
	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// SetupWorkers starts the background cleanup loop.
func SetupWorkers(ctx context.Context, c *Collector) {
	go c.startCleanupWorker(ctx)
}

func (c *Collector) startCleanupWorker(ctx context.Context) {
	freq := time.Duration(config.Configuration.CleanupWorkerFreq) * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(freq):
			c.Cleanup(ctx)
		}
	}
}

// Cleanup runs one sweep over the three reclaimable populations: temporaries
// past their expiry, temporaries that were never referenced and outlived the
// temp TTL, and soft-deleted rows past the grace period. Each record is
// settled in its own transaction so one bad row never blocks the batch, and
// an interrupted sweep just leaves work for the next tick.
func (c *Collector) Cleanup(ctx context.Context) {
	now := common.Now()

	c.sweep(ctx, "expired temporary", func(ctx context.Context) ([]*attachment.Attachment, error) {
		return attachment.GetExpiredTemporary(ctx, now, sweepBatchSize)
	}, func(a *attachment.Attachment) bool {
		return a.IsTemporary && a.ExpiresAt > 0 && a.ExpiresAt < now && a.Status != attachment.StatusPurged
	})

	orphanCutoff := time.Now().Add(-config.Configuration.TempFileTTL)
	c.sweep(ctx, "orphaned temporary", func(ctx context.Context) ([]*attachment.Attachment, error) {
		return attachment.GetOrphanedTemporary(ctx, orphanCutoff, sweepBatchSize)
	}, func(a *attachment.Attachment) bool {
		if !a.IsTemporary || a.Status != attachment.StatusActive || !a.CreatedAt.Before(orphanCutoff) {
			return false
		}
		u, err := a.Usage()
		return err == nil && u.Count() == 0
	})

	graceCutoff := now - common.Timestamp(config.Configuration.GracePeriod.Seconds())
	c.sweep(ctx, "soft deleted", func(ctx context.Context) ([]*attachment.Attachment, error) {
		return attachment.GetSoftDeletedBefore(ctx, graceCutoff, sweepBatchSize)
	}, func(a *attachment.Attachment) bool {
		return a.Status == attachment.StatusSoftDeleted && a.DeletedAt > 0 && a.DeletedAt < graceCutoff
	})
}

// sweep settles one batch. The batch rows are only candidates: a request can
// reference or restore a row between the fetch and its turn in the batch, so
// each record is re-loaded in its own transaction and re-checked against the
// reap predicate before anything is removed.
func (c *Collector) sweep(ctx context.Context, kind string,
	fetch func(ctx context.Context) ([]*attachment.Attachment, error),
	eligible func(a *attachment.Attachment) bool) {

	var batch []*attachment.Attachment
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		var err error
		batch, err = fetch(ctx)
		return err
	})
	if err != nil {
		logging.Logger.Error("cleanup fetch failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	if len(batch) == 0 {
		return
	}

	swg := sizedwaitgroup.New(config.Configuration.CleanupNumWorkers)
	for _, a := range batch {
		if ctx.Err() != nil {
			break
		}
		swg.Add()
		go func(id string) {
			defer swg.Done()
			err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
				fresh, err := attachment.GetByID(ctx, id)
				if err != nil {
					if common.IsCode(err, common.ErrCodeNotFound) {
						return nil
					}
					return err
				}
				if !eligible(fresh) {
					return nil
				}
				return c.PhysicallyDelete(ctx, fresh)
			})
			if err != nil {
				logging.Logger.Error("cleanup delete failed",
					zap.String("kind", kind), zap.String("id", id), zap.Error(err))
			}
		}(a.ID)
	}
	swg.Wait()
}
