package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	mocket "github.com/selvatico/go-mocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attachd/attachd/attachcore/attachment"
	"github.com/attachd/attachd/attachcore/config"
	"github.com/attachd/attachd/attachcore/datastore"
	"github.com/attachd/attachd/attachcore/filestore"
	"github.com/attachd/attachd/core/common"
)

func setupTestConfig() {
	config.Configuration.DefaultDir = "uploads/misc"
	config.Configuration.PublicDirs = []string{"public", "cms"}
	config.Configuration.URLBase = "/files"
	config.Configuration.MaxFileSize = 10 * 1024 * 1024
	config.Configuration.AllowedMimePrefixes = []string{"image/", "application/pdf"}
	config.Configuration.MaxImageDimension = 1920
	config.Configuration.ThumbnailSize = 16
	config.Configuration.JPEGQuality = 85
	config.Configuration.TempFileTTL = 24 * time.Hour
}

func setupEngine(t *testing.T) *Engine {
	t.Helper()
	setupTestConfig()

	db, err := datastore.UseInMemory()
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&attachment.Attachment{}))
	db.Exec("DELETE FROM attachments")

	store, err := filestore.SetupFSStore(t.TempDir())
	require.NoError(t, err)
	return NewEngine(store)
}

func countStoredFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIngestStoresNewFile(t *testing.T) {
	e := setupEngine(t)
	data := []byte("%PDF-1.4 test document")

	a, err := e.Ingest(context.TODO(), data, "report.pdf", "application/pdf", nil, "uploads/docs", Options{})
	require.NoError(t, err)

	assert.Equal(t, ContentHash(data), a.ContentHash)
	assert.Equal(t, "uploads/docs", a.StorageDir)
	assert.Equal(t, int64(len(data)), a.Size)
	assert.True(t, e.store.Exists(a.FullPath))

	// ownerless uploads are temporary with a TTL
	assert.True(t, a.IsTemporary)
	assert.Greater(t, int64(a.ExpiresAt), int64(common.Now()))

	// uploads/ is not a public dir, so the URL carries the path token
	assert.Contains(t, a.PublicURL, "?token="+PathToken(a.ContentHash, a.StorageDir))
}

func TestIngestDedupReturnsExistingRow(t *testing.T) {
	e := setupEngine(t)
	data := []byte("%PDF-1.4 shared content")

	first, err := e.Ingest(context.TODO(), data, "shared.pdf", "application/pdf",
		&OwnerRef{EntityType: "articles", EntityID: "a1", FieldName: "cover"}, "", Options{})
	require.NoError(t, err)

	second, err := e.Ingest(context.TODO(), data, "shared.pdf", "application/pdf",
		&OwnerRef{EntityType: "articles", EntityID: "a2", FieldName: "cover"}, "", Options{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "identical content and name reuse the row")
	assert.Equal(t, 1, countStoredFiles(t, e.store.GetRoot()), "one physical copy")

	u, err := second.Usage()
	require.NoError(t, err)
	assert.Equal(t, 2, u.Count())
}

func TestIngestDuplicateFieldConflict(t *testing.T) {
	e := setupEngine(t)
	data := []byte("%PDF-1.4 conflict content")
	owner := &OwnerRef{EntityType: "articles", EntityID: "a1", FieldName: "cover"}

	_, err := e.Ingest(context.TODO(), data, "cover.pdf", "application/pdf", owner, "", Options{})
	require.NoError(t, err)

	_, err = e.Ingest(context.TODO(), data, "cover.pdf", "application/pdf", owner, "", Options{})
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeDuplicate))
}

func TestIngestLegacyOwnerNeverConflicts(t *testing.T) {
	e := setupEngine(t)
	data := []byte("%PDF-1.4 legacy owner")
	owner := &OwnerRef{EntityType: "articles", EntityID: "a1"}

	first, err := e.Ingest(context.TODO(), data, "legacy.pdf", "application/pdf", owner, "", Options{})
	require.NoError(t, err)

	// without field granularity a repeat attach is an idempotent reuse
	second, err := e.Ingest(context.TODO(), data, "legacy.pdf", "application/pdf", owner, "", Options{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	u, err := second.Usage()
	require.NoError(t, err)
	assert.Equal(t, 1, u.Count())
}

func TestIngestForceNewSkipsDedup(t *testing.T) {
	e := setupEngine(t)
	data := []byte("%PDF-1.4 forced copy")

	first, err := e.Ingest(context.TODO(), data, "copy.pdf", "application/pdf", nil, "", Options{})
	require.NoError(t, err)
	second, err := e.Ingest(context.TODO(), data, "copy.pdf", "application/pdf", nil, "", Options{ForceNew: true})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestIngestDifferentNameIsNotDeduped(t *testing.T) {
	e := setupEngine(t)
	data := []byte("%PDF-1.4 same bytes")

	first, err := e.Ingest(context.TODO(), data, "one.pdf", "application/pdf", nil, "", Options{})
	require.NoError(t, err)
	second, err := e.Ingest(context.TODO(), data, "two.pdf", "application/pdf", nil, "", Options{})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "the dedup key includes the original name")
	assert.Equal(t, 2, countStoredFiles(t, e.store.GetRoot()))
}

func TestIngestValidation(t *testing.T) {
	e := setupEngine(t)

	tests := []struct {
		name string
		data []byte
		mime string
	}{
		{name: "empty upload", data: nil, mime: "application/pdf"},
		{name: "disallowed mime", data: []byte("MZ"), mime: "application/x-msdownload"},
		{name: "over size limit", data: bytes.Repeat([]byte("a"), int(config.Configuration.MaxFileSize)+1), mime: "application/pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Ingest(context.TODO(), tt.data, "f.pdf", tt.mime, nil, "", Options{})
			require.Error(t, err)
			assert.True(t, common.IsCode(err, common.ErrCodeUploadValidation))
		})
	}
}

func TestIngestPublicDirConvention(t *testing.T) {
	e := setupEngine(t)

	pub, err := e.Ingest(context.TODO(), []byte("%PDF-1.4 a"), "a.pdf", "application/pdf", nil, "public/docs", Options{})
	require.NoError(t, err)
	assert.True(t, pub.IsPublic)
	assert.NotContains(t, pub.PublicURL, "token=")

	// an explicit flag beats the directory convention
	isPublic := false
	priv, err := e.Ingest(context.TODO(), []byte("%PDF-1.4 b"), "b.pdf", "application/pdf", nil, "public/docs",
		Options{IsPublic: &isPublic})
	require.NoError(t, err)
	assert.False(t, priv.IsPublic)
	assert.Contains(t, priv.PublicURL, "token=")
}

func TestPathTokenDeterministic(t *testing.T) {
	a := PathToken("abc123", "uploads/docs")
	b := PathToken("abc123", "uploads/docs")
	require.Equal(t, a, b)
	require.Len(t, a, protectedTokenLen)

	assert.NotEqual(t, a, PathToken("abc124", "uploads/docs"))
	assert.NotEqual(t, a, PathToken("abc123", "uploads/other"))
}

func TestIngestImageThumbnail(t *testing.T) {
	e := setupEngine(t)

	a, err := e.Ingest(context.TODO(), pngBytes(t, 64, 32), "photo.png", "image/png", nil, "",
		Options{CreateThumbnail: true})
	require.NoError(t, err)

	require.NotEmpty(t, a.ThumbnailPath)
	assert.True(t, e.store.Exists(a.ThumbnailPath))

	meta := a.GetMeta()
	assert.EqualValues(t, 64, meta[attachment.MetaWidth])
	assert.EqualValues(t, 32, meta[attachment.MetaHeight])
	assert.Equal(t, filestore.ThumbFileName(a.StoredName), meta[attachment.MetaThumbnail])
}

func TestIngestCorruptImageDegrades(t *testing.T) {
	e := setupEngine(t)

	a, err := e.Ingest(context.TODO(), []byte("definitely not a png"), "broken.png", "image/png", nil, "",
		Options{CreateThumbnail: true})
	require.NoError(t, err, "a processing failure does not fail the ingest")

	assert.Empty(t, a.ThumbnailPath)
	meta := a.GetMeta()
	assert.NotEmpty(t, meta[attachment.MetaProcessingError])
	assert.True(t, e.store.Exists(a.FullPath), "original bytes are kept")
}

func TestIngestRollbackOnInsertFailure(t *testing.T) {
	setupTestConfig()
	datastore.UseMocket(false)
	defer mocket.Catcher.Reset()

	store, err := filestore.SetupFSStore(t.TempDir())
	require.NoError(t, err)
	e := NewEngine(store)

	mocket.Catcher.NewMock().
		WithQuery(`INSERT INTO "attachments"`).
		WithError(errors.New("injected insert failure"))

	_, err = e.Ingest(context.TODO(), []byte("%PDF-1.4 doomed"), "doomed.pdf", "application/pdf", nil, "", Options{})
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeStorageWrite))

	assert.Equal(t, 0, countStoredFiles(t, store.GetRoot()), "no orphan bytes after a failed insert")
}
