// File: internal/alertfeed/csvlog.go
package alertfeed

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogToCSV appends one alert row into alerts_YYYYMMDD.csv under dir.
func LogToCSV(dir string, r Record) error {
	name := fmt.Sprintf("alerts_%s.csv", r.OccurredAt.Format("20060102"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	row := []string{
		r.OccurredAt.Format(time.RFC3339),
		r.ID,
		r.Ticker,
		string(r.Kind),
		fmt.Sprintf("%.2f", r.PercentageChange),
		fmt.Sprintf("%d", r.PeriodDays),
		fmt.Sprintf("%.4f", r.CurrentPrice),
		r.Note,
	}
	return w.Write(row)
}
