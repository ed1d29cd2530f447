package filestore

import (
	"path/filepath"
	"strings"
)

const (
	// FallbackComponent replaces a path component that sanitization emptied out.
	FallbackComponent = "misc"
	// MaxComponentLen bounds a single sanitized path component.
	MaxComponentLen = 64
	// GenericBucket is used when the caller supplied no usable directory.
	GenericBucket = "uploads/misc"
)

// SanitizePath normalizes a caller-supplied storage directory into a safe
// relative path. Each component is reduced to [a-z0-9_-]; components that end
// up empty or overlong become a fixed fallback token. Inputs that do not keep
// at least two components collapse into the generic bucket. The result can
// never resolve outside the storage root.
func SanitizePath(dir string) string {
	parts := strings.FieldsFunc(dir, func(r rune) bool {
		return r == '/' || r == '\\'
	})

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, sanitizeComponent(p))
	}

	if len(out) < 2 {
		return GenericBucket
	}
	return strings.Join(out, "/")
}

func sanitizeComponent(c string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(c) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	s := b.String()
	// "." and ".." sanitize to "" and "" respectively, so traversal can
	// never survive this point
	if s == "" || len(s) > MaxComponentLen {
		return FallbackComponent
	}
	return s
}

// SlugFileName derives the stored file name from the original name and the
// content hash: slug(base) + "-" + hash[:8] + "." + ext. Deterministic,
// collision-resistant and still recognizable when debugging on disk.
func SlugFileName(originalName, contentHash string) string {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(originalName)), ".")

	slug := slugify(base)
	if slug == "" {
		slug = "file"
	}
	if ext == "" || slugify(ext) != ext {
		ext = "bin"
	}

	h := contentHash
	if len(h) > 8 {
		h = h[:8]
	}
	return slug + "-" + h + "." + ext
}

// Disambiguate inserts a tag before the extension of a stored name. Used
// when the deterministic name is already taken on disk, which happens when a
// force-new upload or a dedup-exempt row holds the same (name, hash) pair.
func Disambiguate(storedName, tag string) string {
	ext := filepath.Ext(storedName)
	return strings.TrimSuffix(storedName, ext) + "-" + tag + ext
}

// ThumbFileName derives the thumbnail name stored next to the main bytes.
func ThumbFileName(storedName string) string {
	return "thumb_" + storedName
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
