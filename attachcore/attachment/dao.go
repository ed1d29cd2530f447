package attachment

import (
	"context"
	"errors"
	"time"

	"github.com/attachd/attachd/attachcore/datastore"
	"github.com/attachd/attachd/core/common"
	"gorm.io/gorm"
)

// emptyUsageCondition matches rows whose usage column holds no entries.
const emptyUsageCondition = `(usage_info IS NULL OR usage_info = '' OR usage_info = '{}')`

// GetByID loads an attachment row by id.
func GetByID(ctx context.Context, id string) (*Attachment, error) {
	db := datastore.GetStore().GetTransaction(ctx)
	a := &Attachment{}
	err := db.Where(&Attachment{ID: id}).First(a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewErrorf(common.ErrCodeNotFound, "no attachment with id %v", id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByHashAndName resolves the dedup natural key (content hash, original
// name). Only active rows qualify; rows overwritten by an edit are
// dedup-exempt and skipped.
func GetByHashAndName(ctx context.Context, contentHash, originalName string) (*Attachment, error) {
	db := datastore.GetStore().GetTransaction(ctx)
	a := &Attachment{}
	err := db.Where(&Attachment{
		ContentHash:  contentHash,
		OriginalName: originalName,
		Status:       StatusActive,
	}).First(a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.IsEdited() {
		return nil, nil
	}
	return a, nil
}

// GetByIDs loads a batch of rows; missing ids are simply absent from the result.
func GetByIDs(ctx context.Context, ids []string) ([]*Attachment, error) {
	db := datastore.GetStore().GetTransaction(ctx)
	attachments := make([]*Attachment, 0, len(ids))
	err := db.Where("id IN ?", ids).Find(&attachments).Error
	if err != nil {
		return nil, err
	}
	return attachments, nil
}

// GetExpiredTemporary returns temporary attachments whose expiry has passed.
func GetExpiredTemporary(ctx context.Context, now common.Timestamp, limit int) ([]*Attachment, error) {
	db := datastore.GetStore().GetTransaction(ctx)
	attachments := make([]*Attachment, 0)
	err := db.Where("is_temporary = ? AND expires_at > 0 AND expires_at < ? AND status <> ?",
		true, now, StatusPurged).
		Order("expires_at").
		Limit(limit).
		Find(&attachments).Error
	return attachments, err
}

// GetOrphanedTemporary returns temporary attachments that nothing references
// and that outlived the temp-file TTL.
func GetOrphanedTemporary(ctx context.Context, olderThan time.Time, limit int) ([]*Attachment, error) {
	db := datastore.GetStore().GetTransaction(ctx)
	attachments := make([]*Attachment, 0)
	err := db.Where("is_temporary = ? AND status = ? AND created_at < ? AND "+emptyUsageCondition,
		true, StatusActive, olderThan).
		Order("created_at").
		Limit(limit).
		Find(&attachments).Error
	return attachments, err
}

// GetSoftDeletedBefore returns soft-deleted attachments whose grace period
// ran out at the given cutoff.
func GetSoftDeletedBefore(ctx context.Context, cutoff common.Timestamp, limit int) ([]*Attachment, error) {
	db := datastore.GetStore().GetTransaction(ctx)
	attachments := make([]*Attachment, 0)
	err := db.Where("status = ? AND deleted_at > 0 AND deleted_at < ?", StatusSoftDeleted, cutoff).
		Order("deleted_at").
		Limit(limit).
		Find(&attachments).Error
	return attachments, err
}

// Create inserts the row.
func (a *Attachment) Create(ctx context.Context) error {
	db := datastore.GetStore().GetTransaction(ctx)
	return db.Create(a).Error
}

// Save writes the row back.
func (a *Attachment) Save(ctx context.Context) error {
	db := datastore.GetStore().GetTransaction(ctx)
	descriptorCache.Delete(a.ID) //nolint:errcheck // stale cache entry only
	return db.Save(a).Error
}

// DeleteRow removes the catalog row entirely. Only the GC does this, and
// only for never-used files.
func DeleteRow(ctx context.Context, a *Attachment) error {
	db := datastore.GetStore().GetTransaction(ctx)
	descriptorCache.Delete(a.ID) //nolint:errcheck // stale cache entry only
	return db.Delete(&Attachment{}, "id = ?", a.ID).Error
}
