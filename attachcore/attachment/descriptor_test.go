package attachment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attachd/attachd/attachcore/config"
	"github.com/attachd/attachd/attachcore/datastore"
)

func setupDescriptorTest(t *testing.T) {
	t.Helper()
	config.Configuration.URLBase = "/files"
	SetupDescriptorCache(64)

	db, err := datastore.UseInMemory()
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Attachment{}))
	db.Exec("DELETE FROM attachments")
}

func createRow(t *testing.T, mutate func(a *Attachment)) *Attachment {
	t.Helper()
	a := New()
	a.ContentHash = "hash-" + a.ID[:8]
	a.OriginalName = "file.pdf"
	a.MimeType = "application/pdf"
	a.Size = 42
	a.StorageDir = "uploads/misc"
	a.StoredName = "file-" + a.ID[:8] + ".pdf"
	a.FullPath = a.StorageDir + "/" + a.StoredName
	a.PublicURL = "/files/" + a.FullPath
	if mutate != nil {
		mutate(a)
	}
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		return a.Create(ctx)
	})
	require.NoError(t, err)
	return a
}

func TestResolveByIDs(t *testing.T) {
	setupDescriptorTest(t)

	one := createRow(t, nil)
	two := createRow(t, func(a *Attachment) {
		require.NoError(t, AddUsage(a, "articles", "a1", "cover"))
	})

	var result map[string]*Descriptor
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		var err error
		result, err = ResolveByIDs(ctx, []string{one.ID, two.ID, "missing"})
		return err
	})
	require.NoError(t, err)

	require.Len(t, result, 2, "unknown ids are absent, not errors")
	assert.Equal(t, "file.pdf", result[one.ID].FileName)
	assert.Equal(t, int64(42), result[one.ID].FileSize)
	assert.Equal(t, 0, result[one.ID].UsageCount)
	assert.Equal(t, 1, result[two.ID].UsageCount)
	assert.Equal(t, one.PublicURL, result[one.ID].URL)
}

func TestResolvePurgedRowIsDeleted(t *testing.T) {
	setupDescriptorTest(t)

	gone := createRow(t, func(a *Attachment) {
		a.Status = StatusPurged
		require.NoError(t, AddUsage(a, "articles", "a1", "cover"))
	})

	var result map[string]*Descriptor
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		var err error
		result, err = ResolveByIDs(ctx, []string{gone.ID})
		return err
	})
	require.NoError(t, err)

	d := result[gone.ID]
	require.NotNil(t, d, "purged rows still resolve")
	assert.True(t, d.Deleted)
	assert.Empty(t, d.URL, "no URL for purged bytes")
	assert.Empty(t, d.ThumbnailURL)
}

func TestResolveCacheInvalidatedOnSave(t *testing.T) {
	setupDescriptorTest(t)

	a := createRow(t, nil)

	resolve := func() *Descriptor {
		var result map[string]*Descriptor
		err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
			var err error
			result, err = ResolveByIDs(ctx, []string{a.ID})
			return err
		})
		require.NoError(t, err)
		return result[a.ID]
	}

	require.Equal(t, int64(42), resolve().FileSize)

	a.Size = 99
	err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
		return a.Save(ctx)
	})
	require.NoError(t, err)

	assert.Equal(t, int64(99), resolve().FileSize, "save drops the stale cache entry")
}
