package crawler

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/serene416/friend/internal/types"
)

const imageProxyHost = "search.pstatic.net"

func reviewHash(content, author, postedAt string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(content) + "|" + strings.TrimSpace(author) + "|" + strings.TrimSpace(postedAt)))
	return hex.EncodeToString(sum[:])
}

// DedupeReviews keeps the first review per id. Reviews without an id are
// keyed by a hash of content, author and date label. Empty reviews are
// dropped.
func DedupeReviews(reviews []types.Review, now time.Time) []types.Review {
	seen := make(map[string]struct{}, len(reviews))
	out := make([]types.Review, 0, len(reviews))
	for _, r := range reviews {
		r.Content = strings.TrimSpace(r.Content)
		if r.Content == "" {
			continue
		}
		r.Author = strings.TrimSpace(r.Author)
		r.PostedAtRaw = strings.TrimSpace(r.PostedAtRaw)
		r.ReviewID = strings.TrimSpace(r.ReviewID)
		if r.ReviewID == "" {
			r.ReviewID = "review-" + reviewHash(r.Content, r.Author, r.PostedAtRaw)
		}
		if _, dup := seen[r.ReviewID]; dup {
			continue
		}
		seen[r.ReviewID] = struct{}{}
		if r.PostedAt == nil {
			r.PostedAt = ParsePostedAt(r.PostedAtRaw, now)
		}
		out = append(out, r)
	}
	return out
}

// CanonicalImageURL unwraps the image proxy and strips query and fragment,
// so size variants of one image share a key.
func CanonicalImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if strings.Contains(u.Host, imageProxyHost) && strings.HasPrefix(u.Path, "/common") {
		if src := strings.TrimSpace(u.Query().Get("src")); src != "" {
			return src
		}
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// DedupePhotos keeps one photo per canonical image URL.
func DedupePhotos(photos []types.Photo) []types.Photo {
	seen := make(map[string]struct{}, len(photos))
	out := make([]types.Photo, 0, len(photos))
	for _, p := range photos {
		raw := strings.TrimSpace(p.ImageURL)
		if raw == "" {
			continue
		}
		key := CanonicalImageURL(raw)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		p.ImageURL = key
		if p.PhotoID == "" {
			sum := sha1.Sum([]byte(key))
			p.PhotoID = "photo-" + hex.EncodeToString(sum[:])[:16]
		}
		if p.Metadata == nil {
			p.Metadata = map[string]string{}
		}
		out = append(out, p)
	}
	return out
}
