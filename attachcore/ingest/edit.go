package ingest

import (
	"context"
	"image"

	"github.com/attachd/attachd/attachcore/attachment"
	"github.com/attachd/attachd/attachcore/config"
	"github.com/attachd/attachd/attachcore/datastore"
	"github.com/attachd/attachd/attachcore/filestore"
	"github.com/attachd/attachd/attachcore/imageproc"
	"github.com/attachd/attachd/core/common"
	"github.com/attachd/attachd/core/logging"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Save modes for ApplyEdits.
const (
	SaveModeOverwrite = "overwrite"
	SaveModeCopy      = "copy"
)

// ApplyEdits runs an ordered list of rotate/crop operations against an
// attachment's current bytes. Ops run in the frame of the raster as it
// stands when they execute: a crop after a rotate works in rotated
// coordinates.
//
// Overwrite mode re-encodes in place; the row keeps its ingest-time content
// hash and becomes dedup-exempt. Copy mode makes a new attachment and, when
// an owner is supplied, moves that owner's usage from the original to the
// copy so only one row stays live for that field.
func (e *Engine) ApplyEdits(ctx context.Context, id string, ops []imageproc.EditOp,
	saveMode string, owner *OwnerRef) (*attachment.Attachment, error) {

	if len(ops) == 0 {
		return nil, common.NewError(common.ErrCodeInvalidParams, "no edit operations supplied")
	}
	if saveMode != SaveModeOverwrite && saveMode != SaveModeCopy {
		return nil, common.NewErrorf(common.ErrCodeInvalidParams, "unknown save mode %v", saveMode)
	}

	var (
		result  *attachment.Attachment
		written []string
	)
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		a, err := attachment.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != attachment.StatusActive {
			return common.NewErrorf(common.ErrCodeNotFound, "attachment %v is deleted", id)
		}
		if !imageproc.IsImageMime(a.MimeType) {
			return common.NewErrorf(common.ErrCodeProcessing, "attachment %v is not an image", id)
		}

		src, err := e.store.Get(a.FullPath)
		if err != nil {
			return err
		}
		img, err := imageproc.Decode(src)
		if err != nil {
			return err
		}
		img, err = imageproc.Apply(img, ops)
		if err != nil {
			return err
		}

		format, err := imageproc.FormatFromMime(a.MimeType)
		if err != nil {
			return err
		}
		encoded, err := imageproc.Encode(img, format, config.Configuration.JPEGQuality)
		if err != nil {
			return err
		}

		if saveMode == SaveModeOverwrite {
			result, err = e.overwriteEdit(ctx, a, encoded, img, format, len(ops))
			return err
		}
		result, written, err = e.copyEdit(ctx, a, encoded, img, format, owner)
		return err
	})
	if err != nil {
		e.removeBytes(written)
		return nil, err
	}
	return result, nil
}

func (e *Engine) overwriteEdit(ctx context.Context, a *attachment.Attachment,
	encoded []byte, img image.Image, format imaging.Format, opCount int) (*attachment.Attachment, error) {

	if err := e.store.Put(a.FullPath, encoded); err != nil {
		return nil, err
	}
	a.Size = int64(len(encoded))

	bounds := img.Bounds()
	if err := a.SetMeta(map[string]interface{}{
		attachment.MetaWidth:  bounds.Dx(),
		attachment.MetaHeight: bounds.Dy(),
		attachment.MetaEdited: true,
	}); err != nil {
		return nil, err
	}
	if err := a.AppendEditHistory(map[string]interface{}{
		"mode": SaveModeOverwrite,
		"ops":  opCount,
		"at":   common.Now(),
	}); err != nil {
		return nil, err
	}

	// regenerate the thumbnail at its existing path
	if a.ThumbnailPath != "" {
		if err := e.regenerateThumbnail(a.ThumbnailPath, img, format); err != nil {
			logging.Logger.Warn("thumbnail regeneration failed",
				zap.String("path", a.ThumbnailPath), zap.Error(err))
		}
	}

	return a, a.Save(ctx)
}

func (e *Engine) copyEdit(ctx context.Context, orig *attachment.Attachment,
	encoded []byte, img image.Image, format imaging.Format,
	owner *OwnerRef) (*attachment.Attachment, []string, error) {

	contentHash := ContentHash(encoded)

	a := attachment.New()
	a.ContentHash = contentHash
	a.OriginalName = orig.OriginalName
	a.MimeType = orig.MimeType
	a.Size = int64(len(encoded))
	a.StorageDir = orig.StorageDir
	a.StoredName = filestore.SlugFileName(orig.OriginalName, contentHash)
	if e.store.Exists(a.StorageDir + "/" + a.StoredName) {
		a.StoredName = filestore.Disambiguate(a.StoredName, a.ID[:8])
	}
	a.FullPath = a.StorageDir + "/" + a.StoredName
	a.UploadedBy = orig.UploadedBy
	a.IsPublic = orig.IsPublic
	a.PublicURL = PublicURL(a)

	bounds := img.Bounds()
	if err := a.SetMeta(map[string]interface{}{
		attachment.MetaWidth:      bounds.Dx(),
		attachment.MetaHeight:     bounds.Dy(),
		attachment.MetaEditedFrom: orig.ID,
	}); err != nil {
		return nil, nil, err
	}

	written := []string{a.FullPath}
	if err := e.store.Put(a.FullPath, encoded); err != nil {
		return nil, nil, err
	}

	if orig.ThumbnailPath != "" {
		thumbPath := a.StorageDir + "/" + filestore.ThumbFileName(a.StoredName)
		if err := e.regenerateThumbnail(thumbPath, img, format); err != nil {
			logging.Logger.Warn("thumbnail write failed",
				zap.String("path", thumbPath), zap.Error(err))
		} else {
			a.ThumbnailPath = thumbPath
			written = append(written, thumbPath)
		}
	}

	if owner == nil {
		a.IsTemporary = true
		a.ExpiresAt = common.Now() + common.Timestamp(config.Configuration.TempFileTTL.Seconds())
	} else {
		if err := attachment.AddUsage(a, owner.EntityType, owner.EntityID, owner.FieldName); err != nil {
			return nil, written, err
		}
	}

	if err := a.Create(ctx); err != nil {
		return nil, written, common.NewErrorf(common.ErrCodeStorageWrite,
			"persisting edited copy: %v", err)
	}

	// the copy takes over the owner's reference; only one row stays live
	// for that field
	if owner != nil {
		if err := attachment.RemoveUsage(orig, owner.EntityType, owner.EntityID, owner.FieldName); err != nil {
			return nil, written, err
		}
		if err := orig.Save(ctx); err != nil {
			return nil, written, err
		}
	}

	return a, written, nil
}

// regenerateThumbnail writes a fresh cover-fit thumbnail for img at relPath.
// Shared by the ingest pipeline and the copy-on-edit path through
// imageproc.Thumbnail.
func (e *Engine) regenerateThumbnail(relPath string, img image.Image, format imaging.Format) error {
	thumb := imageproc.Thumbnail(img, config.Configuration.ThumbnailSize)
	data, err := imageproc.Encode(thumb, format, config.Configuration.JPEGQuality)
	if err != nil {
		return err
	}
	return e.store.Put(relPath, data)
}
