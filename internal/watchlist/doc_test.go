package watchlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"watchdeck/internal/store"
)

func TestFromSnapshot(t *testing.T) {
	d := store.Document{
		ID:     "watchlist",
		Path:   "ns/users/u1/watchlist",
		Exists: true,
		Fields: map[string]any{
			"owner_id": "u1",
			// decoded JSON arrives as []any
			"tickers":      []any{"AAPL", "TSLA"},
			"last_updated": "2026-08-24T10:00:00Z",
		},
	}
	doc := FromSnapshot(d)
	assert.Equal(t, "u1", doc.OwnerID)
	assert.Equal(t, []string{"AAPL", "TSLA"}, doc.Tickers)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC), doc.LastUpdated)
}

func TestFromSnapshotMissingDocument(t *testing.T) {
	doc := FromSnapshot(store.Document{ID: "watchlist", Exists: false})
	assert.Empty(t, doc.Tickers)
}

func TestNormalizeTicker(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeTicker("  aapl "))
	assert.Equal(t, "", NormalizeTicker("   "))
}
