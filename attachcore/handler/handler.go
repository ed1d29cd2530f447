// Package handler wires the attachment operations to their HTTP routes.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/attachd/attachd/attachcore/attachment"
	"github.com/attachd/attachd/attachcore/config"
	"github.com/attachd/attachd/attachcore/datastore"
	"github.com/attachd/attachd/attachcore/gc"
	"github.com/attachd/attachd/attachcore/imageproc"
	"github.com/attachd/attachd/attachcore/ingest"
	"github.com/attachd/attachd/core/common"
)

var (
	engine    *ingest.Engine
	collector *gc.Collector
)

/*SetupHandlers sets up the necessary API end points */
func SetupHandlers(r *mux.Router, eng *ingest.Engine, coll *gc.Collector) {
	engine = eng
	collector = coll

	defaultLimiter := common.GetRateLimiter(config.Configuration.DefaultRPS, nil, true, time.Hour)
	uploadLimiter := common.GetRateLimiter(config.Configuration.UploadRPS, nil, true, time.Hour)

	r.HandleFunc("/v1/attachments",
		common.RateLimitByIP(common.ToJSONResponse(UploadHandler), uploadLimiter)).
		Methods(http.MethodPost)
	r.HandleFunc("/v1/attachments/resolve",
		common.RateLimitByIP(common.ToJSONResponse(ResolveHandler), defaultLimiter)).
		Methods(http.MethodPost)
	r.HandleFunc("/v1/attachments/{id}",
		common.RateLimitByIP(common.ToJSONResponse(GetHandler), defaultLimiter)).
		Methods(http.MethodGet)
	r.HandleFunc("/v1/attachments/{id}",
		common.RateLimitByIP(common.ToJSONResponse(DeleteHandler), defaultLimiter)).
		Methods(http.MethodDelete)
	r.HandleFunc("/v1/attachments/{id}/restore",
		common.RateLimitByIP(common.ToJSONResponse(RestoreHandler), defaultLimiter)).
		Methods(http.MethodPost)
	r.HandleFunc("/v1/attachments/{id}/usage",
		common.RateLimitByIP(common.ToJSONResponse(AddUsageHandler), defaultLimiter)).
		Methods(http.MethodPost)
	r.HandleFunc("/v1/attachments/{id}/usage",
		common.RateLimitByIP(common.ToJSONResponse(RemoveUsageHandler), defaultLimiter)).
		Methods(http.MethodDelete)
	r.HandleFunc("/v1/attachments/{id}/edits",
		common.RateLimitByIP(common.ToJSONResponse(EditHandler), uploadLimiter)).
		Methods(http.MethodPost)

	r.HandleFunc("/_health", common.ToJSONResponse(HealthHandler)).Methods(http.MethodGet)
}

// UploadHandler ingests the raw request body as a new attachment. The file
// name, target directory and owning entity come in as query parameters.
func UploadHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	originalName := r.FormValue("name")
	if originalName == "" {
		return nil, common.InvalidRequest("name is required")
	}
	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, config.Configuration.MaxFileSize+1))
	if err != nil {
		return nil, common.NewErrorf(common.ErrCodeInvalidParams, "reading body: %v", err)
	}

	opts := ingest.Options{
		ForceNew:        r.FormValue("force_new") == "true",
		CreateThumbnail: r.FormValue("thumbnail") != "false",
		Optimize:        r.FormValue("optimize") != "false",
		UploadedBy:      r.FormValue("uploaded_by"),
	}
	if v := r.FormValue("is_public"); v != "" {
		isPublic := v == "true"
		opts.IsPublic = &isPublic
	}

	return engine.Ingest(ctx, data, originalName, mimeType,
		ownerFromForm(r), r.FormValue("dir"), opts)
}

// GetHandler returns the catalog row.
func GetHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	var result *attachment.Attachment
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		a, err := attachment.GetByID(ctx, mux.Vars(r)["id"])
		result = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteHandler stages or forces removal.
func DeleteHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	force, _ := strconv.ParseBool(r.FormValue("force"))
	return collector.Delete(ctx, mux.Vars(r)["id"], force)
}

// RestoreHandler undoes a soft delete within the grace period.
func RestoreHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	return collector.Restore(ctx, mux.Vars(r)["id"])
}

// AddUsageHandler records an owning-entity reference on the attachment.
func AddUsageHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	owner, err := ownerFromBody(r)
	if err != nil {
		return nil, err
	}
	return updateUsage(mux.Vars(r)["id"], func(a *attachment.Attachment) error {
		return attachment.AddUsage(a, owner.EntityType, owner.EntityID, owner.FieldName)
	})
}

// RemoveUsageHandler drops an owning-entity reference. The row and its bytes
// stay put; release of the last reference only makes the file a GC candidate.
func RemoveUsageHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	owner, err := ownerFromBody(r)
	if err != nil {
		return nil, err
	}
	return updateUsage(mux.Vars(r)["id"], func(a *attachment.Attachment) error {
		return attachment.RemoveUsage(a, owner.EntityType, owner.EntityID, owner.FieldName)
	})
}

func updateUsage(id string, change func(a *attachment.Attachment) error) (*attachment.Attachment, error) {
	var result *attachment.Attachment
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		a, err := attachment.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := change(a); err != nil {
			return err
		}
		result = a
		return a.Save(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type editRequest struct {
	Ops      []imageproc.EditOp `json:"ops"`
	SaveMode string             `json:"save_mode"`
	Owner    *ingest.OwnerRef   `json:"owner,omitempty"`
}

// EditHandler applies rotate/crop operations to an image attachment.
func EditHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, common.NewErrorf(common.ErrCodeInvalidParams, "decoding edit request: %v", err)
	}
	if req.SaveMode == "" {
		req.SaveMode = ingest.SaveModeOverwrite
	}
	return engine.ApplyEdits(ctx, mux.Vars(r)["id"], req.Ops, req.SaveMode, req.Owner)
}

type resolveRequest struct {
	IDs []string `json:"ids"`
}

// ResolveHandler returns lightweight descriptors for a batch of ids. Unknown
// ids are simply absent from the response.
func ResolveHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, common.NewErrorf(common.ErrCodeInvalidParams, "decoding resolve request: %v", err)
	}
	if len(req.IDs) == 0 {
		return map[string]*attachment.Descriptor{}, nil
	}

	var result map[string]*attachment.Descriptor
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		var err error
		result, err = attachment.ResolveByIDs(ctx, req.IDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HealthHandler reports process liveness and DB reachability.
func HealthHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		return nil, common.NewErrorf(common.ErrCodeDBOpen, "database unreachable: %v", err)
	}
	return map[string]interface{}{"status": "ok", "time": common.Now()}, nil
}

func ownerFromForm(r *http.Request) *ingest.OwnerRef {
	entityType := r.FormValue("entity_type")
	entityID := r.FormValue("entity_id")
	if entityType == "" || entityID == "" {
		return nil
	}
	return &ingest.OwnerRef{
		EntityType: entityType,
		EntityID:   entityID,
		FieldName:  r.FormValue("field_name"),
	}
}

func ownerFromBody(r *http.Request) (*ingest.OwnerRef, error) {
	var owner ingest.OwnerRef
	if err := json.NewDecoder(r.Body).Decode(&owner); err != nil {
		return nil, common.NewErrorf(common.ErrCodeInvalidParams, "decoding owner: %v", err)
	}
	if owner.EntityType == "" || owner.EntityID == "" {
		return nil, common.InvalidRequest("entity_type and entity_id are required")
	}
	return &owner, nil
}
