package gc

import (
	"context"
	"strings"

	"github.com/attachd/attachd/attachcore/attachment"
	"github.com/attachd/attachd/attachcore/datastore"
	"github.com/attachd/attachd/core/common"
)

// ScrubOrphanedReference removes fileID from every attachment-reference list
// in a nested payload, mutating it in place. A reference list is any slice
// held under a key named "attachments" or ending in "attachments", in either
// the flat id form or the object form with an "id" key. Nested maps and
// slices are walked all the way down. Reports whether anything was removed.
func ScrubOrphanedReference(payload map[string]interface{}, fileID string) bool {
	changed := false
	for key, value := range payload {
		if isReferenceKey(key) {
			if list, ok := value.([]interface{}); ok {
				scrubbed, removed := scrubList(list, fileID)
				if removed {
					payload[key] = scrubbed
					changed = true
				}
				continue
			}
		}
		if scrubValue(value, fileID) {
			changed = true
		}
	}
	return changed
}

func isReferenceKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), "attachments")
}

func scrubValue(value interface{}, fileID string) bool {
	switch v := value.(type) {
	case map[string]interface{}:
		return ScrubOrphanedReference(v, fileID)
	case []interface{}:
		changed := false
		for _, item := range v {
			if scrubValue(item, fileID) {
				changed = true
			}
		}
		return changed
	}
	return false
}

func scrubList(list []interface{}, fileID string) ([]interface{}, bool) {
	out := make([]interface{}, 0, len(list))
	removed := false
	for _, item := range list {
		if referenceMatches(item, fileID) {
			removed = true
			continue
		}
		out = append(out, item)
	}
	return out, removed
}

func referenceMatches(item interface{}, fileID string) bool {
	switch v := item.(type) {
	case string:
		return v == fileID
	case map[string]interface{}:
		id, _ := v["id"].(string)
		return id == fileID
	}
	return false
}

// CleanupOrphanedReference scrubs fileID out of an owning record's payload
// and, when the catalog row still exists, drops the owner's usage entry so
// the two sides agree again. Callers invoke this explicitly with the payload
// they are about to persist; nothing runs it automatically.
func CleanupOrphanedReference(ctx context.Context, fileID, entityType, entityID string,
	payload map[string]interface{}) (bool, error) {

	changed := ScrubOrphanedReference(payload, fileID)

	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		a, err := attachment.GetByID(ctx, fileID)
		if err != nil {
			if common.IsCode(err, common.ErrCodeNotFound) {
				return nil
			}
			return err
		}
		if err := attachment.RemoveUsage(a, entityType, entityID, ""); err != nil {
			return err
		}
		return a.Save(ctx)
	})
	if err != nil {
		return changed, err
	}
	return changed, nil
}
