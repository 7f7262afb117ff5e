package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/maskguard/maskguard/pkg/models"
)

// csvHeader is the fixed export column order. Consumers depend on it.
var csvHeader = []string{"timestamp", "source", "label", "confidence", "track_id", "snapshot_ref"}

// writeCSV renders events (already filtered and ordered) to w.
func writeCSV(w io.Writer, events []models.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range events {
		row := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.Source),
			string(e.Label),
			fmt.Sprintf("%.4f", e.Confidence),
			e.TrackID,
			e.SnapshotRef,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
