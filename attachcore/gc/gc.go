// Package gc implements the staged deletion lifecycle: soft deletes with a
// grace period, physical byte removal, and the background sweeps that reap
// expired temporaries and soft-deleted rows.
package gc

import (
	"context"

	"github.com/attachd/attachd/attachcore/attachment"
	"github.com/attachd/attachd/attachcore/config"
	"github.com/attachd/attachd/attachcore/datastore"
	"github.com/attachd/attachd/attachcore/filestore"
	"github.com/attachd/attachd/core/common"
	"github.com/attachd/attachd/core/logging"
	"go.uber.org/zap"
)

// Collector owns byte removal. Catalog access goes through the transaction
// carried in ctx, same as everywhere else.
type Collector struct {
	store filestore.FileStore
}

func NewCollector(store filestore.FileStore) *Collector {
	return &Collector{store: store}
}

// Delete stages or performs removal of an attachment.
//
// A force delete, or a delete within the recency window of the upload, goes
// physical immediately: a just-uploaded file was almost certainly a mistake
// and nothing has had time to reference it. Anything older is soft-deleted
// and sits out the grace period first. Deleting an already soft-deleted row
// with force finishes the job; deleting a purged row is a no-op.
func (c *Collector) Delete(ctx context.Context, id string, force bool) (*attachment.Attachment, error) {
	var result *attachment.Attachment
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		a, err := attachment.GetByID(ctx, id)
		if err != nil {
			return err
		}
		result = a

		switch a.Status {
		case attachment.StatusPurged:
			return nil
		case attachment.StatusSoftDeleted:
			if force {
				return c.PhysicallyDelete(ctx, a)
			}
			return nil
		}

		// CreatedAt is always in the past, so Within reduces to the
		// one-sided "uploaded less than a window ago" check.
		recent := common.Within(a.CreatedAt.Unix(), int64(config.Configuration.RecencyWindow.Seconds()))
		if force || recent {
			return c.PhysicallyDelete(ctx, a)
		}

		a.Status = attachment.StatusSoftDeleted
		a.DeletedAt = common.Now()
		return a.Save(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Restore brings a soft-deleted attachment back while its grace period is
// still running. Purged rows have no bytes left to restore.
func (c *Collector) Restore(ctx context.Context, id string) (*attachment.Attachment, error) {
	var result *attachment.Attachment
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		a, err := attachment.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == attachment.StatusPurged {
			return common.NewErrorf(common.ErrCodeNotFound, "attachment %v is purged", id)
		}
		if a.Status == attachment.StatusActive {
			result = a
			return nil
		}
		a.Status = attachment.StatusActive
		a.DeletedAt = 0
		result = a
		return a.Save(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PhysicallyDelete removes the attachment's bytes and settles the row.
// Byte removal is best effort: a path that is already gone counts as done.
// A row that was ever referenced becomes purged and stays in the catalog so
// stale back-references resolve to "file was deleted"; a never-referenced
// row is dropped entirely. Safe to call again on a purged row.
func (c *Collector) PhysicallyDelete(ctx context.Context, a *attachment.Attachment) error {
	if err := c.store.Delete(a.FullPath); err != nil {
		return common.NewErrorf(common.ErrCodeStorageWrite, "deleting %v: %v", a.FullPath, err)
	}
	if a.ThumbnailPath != "" {
		if err := c.store.Delete(a.ThumbnailPath); err != nil {
			logging.Logger.Warn("thumbnail delete failed",
				zap.String("path", a.ThumbnailPath), zap.Error(err))
		}
	}

	u, err := a.Usage()
	if err != nil {
		return err
	}
	if u.Count() > 0 {
		a.Status = attachment.StatusPurged
		if a.DeletedAt == 0 {
			a.DeletedAt = common.Now()
		}
		return a.Save(ctx)
	}
	return attachment.DeleteRow(ctx, a)
}
