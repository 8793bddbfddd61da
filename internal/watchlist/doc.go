// File: internal/watchlist/doc.go

// Package watchlist models the user's owned ticker list and coordinates
// optimistic mutations against its remote document.
package watchlist

import (
	"strings"
	"time"

	"watchdeck/internal/store"
)

// MaxTickers caps the watchlist length.
const MaxTickers = 5

// Document mirrors the remote watchlist document. Tickers are uppercase,
// deduplicated, at most MaxTickers. The document is never deleted, only
// emptied.
type Document struct {
	OwnerID     string
	Tickers     []string
	LastUpdated time.Time
}

func NormalizeTicker(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// FromSnapshot decodes a store snapshot. A missing document decodes to the
// empty watchlist.
func FromSnapshot(d store.Document) Document {
	var out Document
	if !d.Exists {
		return out
	}
	if v, ok := d.Fields["owner_id"].(string); ok {
		out.OwnerID = v
	}
	switch vs := d.Fields["tickers"].(type) {
	case []string:
		out.Tickers = append(out.Tickers, vs...)
	case []any:
		for _, v := range vs {
			if s, ok := v.(string); ok {
				out.Tickers = append(out.Tickers, s)
			}
		}
	}
	switch v := d.Fields["last_updated"].(type) {
	case time.Time:
		out.LastUpdated = v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			out.LastUpdated = t
		}
	}
	return out
}

func contains(list []string, t string) bool {
	for _, s := range list {
		if s == t {
			return true
		}
	}
	return false
}
