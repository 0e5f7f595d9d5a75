package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

// csvHeader is the fixed bill-of-materials schema. Missing attributes render
// as empty cells, never as an error.
var csvHeader = []string{"id", "type", "lat", "lon", "tenant_count", "confidence", "providers"}

func renderCSV(snapshot *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, f := range snapshot.Features {
		row := []string{
			f.ID,
			f.Type,
			formatCoord(f.Centroid[1]),
			formatCoord(f.Centroid[0]),
			strconv.Itoa(f.TenantCount),
			formatConfidence(f.Confidence),
			strings.Join(f.Providers, ";"),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	for _, c := range snapshot.Clusters {
		row := []string{
			c.ID,
			models.FeatureTypeCluster,
			formatCoord(c.Centroid[1]),
			formatCoord(c.Centroid[0]),
			strconv.Itoa(c.TenantCount),
			"", // clusters carry no confidence
			"",
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 7, 64)
}

func formatConfidence(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
