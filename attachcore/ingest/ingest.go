package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/attachd/attachd/attachcore/attachment"
	"github.com/attachd/attachd/attachcore/config"
	"github.com/attachd/attachd/attachcore/datastore"
	"github.com/attachd/attachd/attachcore/filestore"
	"github.com/attachd/attachd/attachcore/imageproc"
	"github.com/attachd/attachd/core/common"
	"github.com/attachd/attachd/core/encryption"
	"github.com/attachd/attachd/core/lock"
	"github.com/attachd/attachd/core/logging"
	"go.uber.org/zap"
)

// protectedTokenLen is the length of the path token appended to protected
// file URLs. The token is derived, not random: it can be reconstructed from
// the row alone and is not a security boundary.
const protectedTokenLen = 16

// OwnerRef names the owning-entity field an ingest or edit is attached to.
type OwnerRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	FieldName  string `json:"field_name,omitempty"`
}

// Options control a single ingest.
type Options struct {
	// ForceNew skips deduplication and always stores a new attachment.
	ForceNew bool
	// IsPublic overrides the directory convention when non-nil.
	IsPublic *bool
	// CreateThumbnail asks the image pipeline for a thumbnail.
	CreateThumbnail bool
	// Optimize allows the pipeline to downscale oversized images.
	Optimize bool
	// UploadedBy is a caller-supplied foreign identifier, stored as-is.
	UploadedBy string
}

// Engine orchestrates validate -> hash -> catalog lookup -> store ->
// post-process -> persist.
type Engine struct {
	store filestore.FileStore
}

func NewEngine(store filestore.FileStore) *Engine {
	return &Engine{store: store}
}

// ContentHash computes the content digest used for deduplication.
func ContentHash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Ingest stores (or reuses) an uploaded file and returns its catalog row.
//
// The lookup-then-insert window is serialized per content hash, so two
// concurrent ingests of identical content cannot both insert.
func (e *Engine) Ingest(ctx context.Context, data []byte, originalName, mimeType string,
	owner *OwnerRef, targetDir string, opts Options) (*attachment.Attachment, error) {

	if err := validateUpload(data, mimeType); err != nil {
		return nil, err
	}

	contentHash := ContentHash(data)

	mutex := lock.GetMutex(attachment.Attachment{}.TableName(), contentHash)
	mutex.Lock()
	defer mutex.Unlock()

	var (
		result  *attachment.Attachment
		written []string
	)
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		if !opts.ForceNew {
			existing, err := attachment.GetByHashAndName(ctx, contentHash, originalName)
			if err != nil {
				return err
			}
			if existing != nil {
				result = existing
				return e.reuse(ctx, existing, owner)
			}
		}

		a, paths, err := e.storeNew(ctx, data, originalName, mimeType, contentHash, owner, targetDir, opts)
		written = paths
		if err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		// no orphan bytes on a failed write
		e.removeBytes(written)
		return nil, err
	}
	return result, nil
}

// reuse records the usage against an existing row without touching bytes.
func (e *Engine) reuse(ctx context.Context, a *attachment.Attachment, owner *OwnerRef) error {
	if owner == nil {
		return nil
	}
	if owner.FieldName != "" && attachment.IsUsedInField(a, owner.EntityType, owner.EntityID, owner.FieldName) {
		return common.NewErrorf(common.ErrCodeDuplicate,
			"file %v is already attached to %v/%v field %v",
			a.ID, owner.EntityType, owner.EntityID, owner.FieldName)
	}
	if err := attachment.AddUsage(a, owner.EntityType, owner.EntityID, owner.FieldName); err != nil {
		return err
	}
	return a.Save(ctx)
}

func (e *Engine) storeNew(ctx context.Context, data []byte, originalName, mimeType, contentHash string,
	owner *OwnerRef, targetDir string, opts Options) (*attachment.Attachment, []string, error) {

	if targetDir == "" {
		targetDir = config.Configuration.DefaultDir
	}
	storageDir := filestore.SanitizePath(targetDir)
	storedName := filestore.SlugFileName(originalName, contentHash)

	a := attachment.New()
	if e.store.Exists(storageDir + "/" + storedName) {
		// another row already owns the deterministic name
		storedName = filestore.Disambiguate(storedName, a.ID[:8])
	}
	a.ContentHash = contentHash
	a.OriginalName = originalName
	a.MimeType = mimeType
	a.StorageDir = storageDir
	a.StoredName = storedName
	a.FullPath = storageDir + "/" + storedName
	a.UploadedBy = opts.UploadedBy

	// image post-processing happens before any byte is written so the main
	// file is written exactly once
	fileBytes := data
	var (
		thumbBytes []byte
		imgMeta    *imageproc.ImageMeta
	)
	if imageproc.IsImageMime(mimeType) {
		res, perr := imageproc.Process(data, mimeType, imageproc.Options{
			MaxDimension:  config.Configuration.MaxImageDimension,
			ThumbnailSize: config.Configuration.ThumbnailSize,
			JPEGQuality:   config.Configuration.JPEGQuality,
			Downscale:     opts.Optimize,
			Thumbnail:     opts.CreateThumbnail,
		})
		if perr != nil {
			// degraded ingest: keep original bytes, no thumbnail
			logging.Logger.Warn("image processing failed",
				zap.String("name", originalName), zap.Error(perr))
			if err := a.SetMeta(map[string]interface{}{
				attachment.MetaProcessingError: perr.Error(),
			}); err != nil {
				return nil, nil, err
			}
		} else {
			if res.Bytes != nil {
				fileBytes = res.Bytes
			}
			thumbBytes = res.Thumb
			imgMeta = &res.Meta
		}
	}
	a.Size = int64(len(fileBytes))

	a.IsPublic = derivePublic(storageDir, opts.IsPublic)
	a.PublicURL = PublicURL(a)

	if owner == nil {
		a.IsTemporary = true
		a.ExpiresAt = common.Now() + common.Timestamp(config.Configuration.TempFileTTL.Seconds())
	} else {
		if err := attachment.AddUsage(a, owner.EntityType, owner.EntityID, owner.FieldName); err != nil {
			return nil, nil, err
		}
	}

	written := []string{a.FullPath}
	if err := e.store.Put(a.FullPath, fileBytes); err != nil {
		return nil, nil, err
	}
	if thumbBytes != nil {
		thumbPath := storageDir + "/" + filestore.ThumbFileName(storedName)
		if err := e.store.Put(thumbPath, thumbBytes); err != nil {
			// thumbnail loss degrades, it does not fail the ingest
			logging.Logger.Warn("thumbnail write failed",
				zap.String("path", thumbPath), zap.Error(err))
		} else {
			a.ThumbnailPath = thumbPath
			imgMeta.Thumbnail = filestore.ThumbFileName(storedName)
			written = append(written, thumbPath)
		}
	}
	if imgMeta != nil {
		if err := a.SetMeta(imgMeta.ToMap()); err != nil {
			return nil, written, err
		}
	}

	if err := a.Create(ctx); err != nil {
		return nil, written, common.NewErrorf(common.ErrCodeStorageWrite,
			"persisting attachment row: %v", err)
	}
	return a, written, nil
}

func (e *Engine) removeBytes(paths []string) {
	for _, p := range paths {
		if err := e.store.Delete(p); err != nil {
			logging.Logger.Error("rolling back written bytes", zap.String("path", p), zap.Error(err))
		}
	}
}

func validateUpload(data []byte, mimeType string) error {
	if len(data) == 0 {
		return common.NewError(common.ErrCodeUploadValidation, "empty upload")
	}
	if max := config.Configuration.MaxFileSize; max > 0 && int64(len(data)) > max {
		return common.NewErrorf(common.ErrCodeUploadValidation,
			"upload of %d bytes exceeds the limit of %d", len(data), max)
	}
	for _, prefix := range config.Configuration.AllowedMimePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return nil
		}
	}
	return common.NewErrorf(common.ErrCodeUploadValidation, "mime type %v is not allowed", mimeType)
}

func derivePublic(storageDir string, explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	top := storageDir
	if i := strings.IndexByte(storageDir, '/'); i >= 0 {
		top = storageDir[:i]
	}
	for _, dir := range config.Configuration.PublicDirs {
		if top == dir {
			return true
		}
	}
	return false
}

// PublicURL derives the URL stored on the row. Protected files carry a
// deterministic token computed from the content hash and storage directory,
// so the URL can be rebuilt from the row without extra state.
func PublicURL(a *attachment.Attachment) string {
	url := config.Configuration.URLBase + "/" + a.FullPath
	if a.IsPublic {
		return url
	}
	return url + "?token=" + PathToken(a.ContentHash, a.StorageDir)
}

// PathToken returns the unguessable path component for protected files.
func PathToken(contentHash, storageDir string) string {
	return encryption.Hash(contentHash + ":" + storageDir)[:protectedTokenLen]
}
