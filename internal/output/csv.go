package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/torosent/chatfire/internal/metrics"
)

// CSVHeader is the column layout of the per-message export.
var CSVHeader = []string{"timestamp", "messageType", "latencyMs", "statusCode", "roomId"}

// WriteCSVRecords writes records ordered by timestamp. The timestamp column
// is Unix milliseconds.
func WriteCSVRecords(w io.Writer, records []metrics.Record) error {
	sorted := append([]metrics.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	row := make([]string, len(CSVHeader))
	for _, r := range sorted {
		row[0] = strconv.FormatInt(r.Timestamp.UnixMilli(), 10)
		row[1] = string(r.Kind)
		row[2] = strconv.FormatInt(r.LatencyMs, 10)
		row[3] = strconv.Itoa(r.StatusCode)
		row[4] = r.RoomID
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV exports records to path. A sibling ".lock" file guards against
// concurrent runs writing the same report.
func WriteCSV(path string, records []metrics.Record) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("report %s is being written by another process", path)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv report: %w", err)
	}
	if err := WriteCSVRecords(f, records); err != nil {
		f.Close()
		return fmt.Errorf("write csv report: %w", err)
	}
	return f.Close()
}
