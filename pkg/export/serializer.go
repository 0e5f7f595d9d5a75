package export

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// Snapshot is the immutable job result the serializer reads. Formats share it
// read-only, so they can render concurrently.
type Snapshot struct {
	Features    []models.QualifiedFeature
	Clusters    []models.Cluster
	Assignments []models.AccessoryAssignment
}

// Rendered is one serialized artifact.
type Rendered struct {
	Format      string
	ContentType string
	Content     []byte
}

// Serializer renders job results into the requested output formats.
type Serializer struct {
	logger ectologger.Logger
}

// NewSerializer creates a serializer.
func NewSerializer(logger ectologger.Logger) *Serializer {
	return &Serializer{logger: logger}
}

// Export renders every requested format in parallel. One failing format fails
// the export; formats have no ordering dependency on each other, but the
// returned slice is sorted by format name for stable artifact ordering.
func (s *Serializer) Export(ctx context.Context, snapshot *Snapshot, formats []string) ([]Rendered, error) {
	ctx, span := tracing.StartSpan(ctx, "export.Serializer.Export")
	defer span.End()

	results := make([]Rendered, len(formats))
	errs := make([]error, len(formats))

	var wg sync.WaitGroup
	for i, format := range formats {
		wg.Add(1)
		go func(i int, format string) {
			defer wg.Done()
			content, err := s.render(snapshot, format)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = Rendered{
				Format:      format,
				ContentType: models.ContentTypeFor(format),
				Content:     content,
			}
		}(i, format)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Format < results[j].Format })

	for _, r := range results {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"format": r.Format,
			"bytes":  len(r.Content),
		}).Debug("rendered artifact")
	}

	return results, nil
}

func (s *Serializer) render(snapshot *Snapshot, format string) ([]byte, error) {
	switch format {
	case models.FormatGeoJSON:
		return renderGeoJSON(snapshot)
	case models.FormatKML:
		return renderKML(snapshot)
	case models.FormatKMZ:
		return renderKMZ(snapshot)
	case models.FormatCSV:
		return renderCSV(snapshot)
	default:
		return nil, fmt.Errorf("unknown export format: %s", format)
	}
}
