// File: internal/alertfeed/alertfeed.go

// Package alertfeed projects the server-produced alert collection into the
// list the UI renders. The client only ever reads these records.
package alertfeed

import (
	"sort"
	"time"

	"watchdeck/internal/store"
)

type Kind string

const (
	SignificantIncrease Kind = "significant_increase"
	SignificantDrop     Kind = "significant_drop"
)

type Record struct {
	ID               string    `json:"id"`
	Ticker           string    `json:"ticker"`
	Kind             Kind      `json:"kind"`
	PercentageChange float64   `json:"percentageChange"`
	PeriodDays       int       `json:"periodDays"`
	CurrentPrice     float64   `json:"currentPrice"`
	OccurredAt       time.Time `json:"occurredAt"`
	Note             string    `json:"note,omitempty"`
	IsRead           bool      `json:"isRead"`
}

// FromSnapshot projects each member document (carrying its identifier) and
// sorts newest first. Records sharing a timestamp order by id ascending so
// the feed is stable across deliveries.
func FromSnapshot(cs store.CollectionSnapshot) []Record {
	out := make([]Record, 0, len(cs.Docs))
	for _, d := range cs.Docs {
		out = append(out, fromDoc(d))
	}
	Sort(out)
	return out
}

func Sort(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].OccurredAt.Equal(rs[j].OccurredAt) {
			return rs[i].OccurredAt.After(rs[j].OccurredAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func fromDoc(d store.Document) Record {
	r := Record{ID: d.ID}
	r.Ticker, _ = d.Fields["ticker"].(string)
	if v, ok := d.Fields["kind"].(string); ok {
		r.Kind = Kind(v)
	}
	r.PercentageChange = floatField(d.Fields, "percentage_change")
	r.PeriodDays = int(floatField(d.Fields, "period_days"))
	r.CurrentPrice = floatField(d.Fields, "current_price")
	r.Note, _ = d.Fields["note"].(string)
	r.IsRead, _ = d.Fields["is_read"].(bool)
	switch v := d.Fields["occurred_at"].(type) {
	case time.Time:
		r.OccurredAt = v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			r.OccurredAt = t
		}
	case float64:
		// epoch ms
		r.OccurredAt = time.Unix(0, int64(v)*int64(time.Millisecond)).UTC()
	}
	return r
}

func floatField(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
