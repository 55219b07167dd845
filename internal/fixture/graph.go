package fixture

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/GoSim-25-26J-441/loopback-harness/internal/metrics"
)

// writeGraph writes the sampled quality series as CSV. Title and label go
// into leading comment lines; missing samples are empty cells.
func writeGraph(path, title, label string, start time.Time, collector *metrics.Collector) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create graph output: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "# title: %s\n# label: %s\n", title, label); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	header := append([]string{"time_ms"}, metrics.GraphMetrics...)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range metrics.SampleTable(collector, metrics.GraphMetrics...) {
		record := make([]string, 0, len(row.Values)+1)
		record = append(record, strconv.FormatInt(row.At.Sub(start).Milliseconds(), 10))
		for _, v := range row.Values {
			if math.IsNaN(v) {
				record = append(record, "")
				continue
			}
			record = append(record, strconv.FormatFloat(v, 'f', 3, 64))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
