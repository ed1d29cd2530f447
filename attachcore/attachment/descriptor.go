package attachment

import (
	"context"

	"github.com/attachd/attachd/attachcore/config"
	"github.com/attachd/attachd/core/cache"
)

// descriptorCache memoizes resolved descriptors across resolve calls; write
// paths drop entries on Save/DeleteRow.
var descriptorCache cache.Cache = cache.NewLRUCache(1024)

// SetupDescriptorCache resizes the cache from configuration. Called once at
// startup.
func SetupDescriptorCache(size int) {
	if size > 0 {
		descriptorCache = cache.NewLRUCache(size)
	}
}

// Descriptor is the materialized view an owning record needs for a file id
// it stores internally.
type Descriptor struct {
	ID           string `json:"id"`
	FileName     string `json:"file_name"`
	FileType     string `json:"file_type"`
	FileSize     int64  `json:"file_size"`
	URL          string `json:"url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	UsageCount   int    `json:"usage_count"`
	IsPublic     bool   `json:"is_public"`
	// Deleted marks ids whose bytes were purged; the row is kept so the
	// reference resolves to "file was deleted" rather than "never existed".
	Deleted bool `json:"deleted,omitempty"`
}

// NewDescriptor builds the descriptor view of a row.
func NewDescriptor(a *Attachment) *Descriptor {
	d := &Descriptor{
		ID:       a.ID,
		FileName: a.OriginalName,
		FileType: a.MimeType,
		FileSize: a.Size,
		IsPublic: a.IsPublic,
		Deleted:  a.Status == StatusPurged,
	}
	if u, err := a.Usage(); err == nil {
		d.UsageCount = u.Count()
	}
	if d.Deleted {
		return d
	}
	d.URL = a.PublicURL
	if a.ThumbnailPath != "" {
		d.ThumbnailURL = config.Configuration.URLBase + "/" + a.ThumbnailPath
	}
	return d
}

// ResolveByIDs materializes descriptors for a batch of file ids. Unknown ids
// are absent from the result; the owning service decides whether that means
// drift worth reconciling.
func ResolveByIDs(ctx context.Context, ids []string) (map[string]*Descriptor, error) {
	result := make(map[string]*Descriptor, len(ids))

	misses := make([]string, 0, len(ids))
	for _, id := range ids {
		if v, err := descriptorCache.Get(id); err == nil {
			if d, ok := v.(*Descriptor); ok {
				result[id] = d
				continue
			}
		}
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		return result, nil
	}

	rows, err := GetByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, a := range rows {
		d := NewDescriptor(a)
		result[a.ID] = d
		descriptorCache.Add(a.ID, d) //nolint:errcheck // cache miss is harmless
	}
	return result, nil
}
