package attachment

import (
	"encoding/json"
	"time"

	"github.com/attachd/attachd/core/common"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Attachment lifecycle states. A row is Purged when its bytes are gone but
// back-references still need to resolve to "file was deleted".
const (
	StatusActive      = "active"
	StatusSoftDeleted = "soft_deleted"
	StatusPurged      = "purged"
)

// Meta keys maintained by the ingest engine and the image pipeline.
const (
	MetaWidth           = "width"
	MetaHeight          = "height"
	MetaOptimized       = "optimized"
	MetaThumbnail       = "thumbnail"
	MetaProcessingError = "processing_error"
	MetaEdited          = "edited"
	MetaEditedFrom      = "edited_from"
	MetaEditHistory     = "edit_history"
)

// Attachment is the catalog record: one row per stored file.
//
// ID, ContentHash and FullPath are immutable after creation. DeletedAt is the
// grace-period clock and is meaningful only while Status is soft_deleted.
type Attachment struct {
	ID            string         `gorm:"column:id;primary_key;size:64" json:"id"`
	// (content_hash, original_name) is the dedup natural key. The index is
	// not unique: force-new uploads and rows made dedup-exempt by an
	// overwrite edit legitimately repeat the pair.
	ContentHash   string         `gorm:"column:content_hash;size:64;index:idx_attachments_hash_name" json:"content_hash"`
	OriginalName  string         `gorm:"column:original_name;size:255;index:idx_attachments_hash_name" json:"original_name"`
	MimeType      string         `gorm:"column:mime_type;size:255" json:"mime_type"`
	Size          int64          `gorm:"column:size" json:"size"`
	StorageDir    string         `gorm:"column:storage_dir;size:255" json:"storage_dir"`
	StoredName    string         `gorm:"column:stored_name;size:255" json:"stored_name"`
	FullPath      string         `gorm:"column:full_path;size:512" json:"full_path"`
	PublicURL     string         `gorm:"column:public_url;size:1024" json:"public_url"`
	ThumbnailPath string         `gorm:"column:thumbnail_path;size:512" json:"thumbnail_path,omitempty"`
	IsPublic      bool           `gorm:"column:is_public" json:"is_public"`
	Meta          datatypes.JSON `gorm:"column:meta" json:"meta,omitempty"`
	UsageInfo     datatypes.JSON `gorm:"column:usage_info" json:"usage_info,omitempty"`
	UploadedBy    string         `gorm:"column:uploaded_by;size:255" json:"uploaded_by"`
	IsTemporary   bool           `gorm:"column:is_temporary" json:"is_temporary"`

	// ExpiresAt is zero unless the attachment is temporary.
	ExpiresAt common.Timestamp `gorm:"column:expires_at;index" json:"expires_at,omitempty"`

	Status    string           `gorm:"column:status;size:16;index;default:active" json:"status"`
	DeletedAt common.Timestamp `gorm:"column:deleted_at" json:"deleted_at,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Attachment) TableName() string {
	return "attachments"
}

// New returns an Attachment with a fresh id and zero usage.
func New() *Attachment {
	return &Attachment{
		ID:        uuid.NewString(),
		Status:    StatusActive,
		Meta:      datatypes.JSON("{}"),
		UsageInfo: datatypes.JSON("{}"),
	}
}

// Usage decodes the usage column. A missing or empty column decodes to an
// empty UsageInfo, never an error for the caller to special-case.
func (a *Attachment) Usage() (UsageInfo, error) {
	u := UsageInfo{}
	if len(a.UsageInfo) == 0 {
		return u, nil
	}
	if err := json.Unmarshal(a.UsageInfo, &u); err != nil {
		return nil, common.NewErrorf(common.ErrCodeInvalidParams, "decoding usage info: %v", err)
	}
	return u, nil
}

// SetUsage encodes u back into the usage column.
func (a *Attachment) SetUsage(u UsageInfo) error {
	b, err := json.Marshal(u)
	if err != nil {
		return common.NewErrorf(common.ErrCodeInvalidParams, "encoding usage info: %v", err)
	}
	a.UsageInfo = datatypes.JSON(b)
	return nil
}

// GetMeta decodes the open metadata map.
func (a *Attachment) GetMeta() map[string]interface{} {
	m := map[string]interface{}{}
	if len(a.Meta) > 0 {
		_ = json.Unmarshal(a.Meta, &m)
	}
	return m
}

// SetMeta merges the given keys into the metadata map.
func (a *Attachment) SetMeta(kv map[string]interface{}) error {
	m := a.GetMeta()
	for k, v := range kv {
		m[k] = v
	}
	b, err := json.Marshal(m)
	if err != nil {
		return common.NewErrorf(common.ErrCodeInvalidParams, "encoding meta: %v", err)
	}
	a.Meta = datatypes.JSON(b)
	return nil
}

// AppendEditHistory records one edit pass in the metadata.
func (a *Attachment) AppendEditHistory(entry map[string]interface{}) error {
	m := a.GetMeta()
	history, _ := m[MetaEditHistory].([]interface{})
	history = append(history, entry)
	m[MetaEditHistory] = history
	b, err := json.Marshal(m)
	if err != nil {
		return common.NewErrorf(common.ErrCodeInvalidParams, "encoding meta: %v", err)
	}
	a.Meta = datatypes.JSON(b)
	return nil
}

// IsEdited reports whether the stored bytes were overwritten by an edit,
// which exempts the row from content-hash deduplication.
func (a *Attachment) IsEdited() bool {
	edited, _ := a.GetMeta()[MetaEdited].(bool)
	return edited
}
