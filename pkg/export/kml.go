package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image/color"
	"strings"

	"github.com/paulmach/orb"
	kml "github.com/twpayne/go-kml/v2"

	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

// folder display order and per-type styles
var kmlTypeOrder = []string{
	models.FeatureTypeBuilding,
	models.FeatureTypeRoad,
	models.FeatureTypePOI,
	models.FeatureTypeLandmark,
}

var kmlFolderNames = map[string]string{
	models.FeatureTypeBuilding: "Buildings",
	models.FeatureTypeRoad:     "Roads",
	models.FeatureTypePOI:      "Points of Interest",
	models.FeatureTypeLandmark: "Landmarks",
	models.FeatureTypeCluster:  "Distribution Points",
}

func renderKML(snapshot *Snapshot) ([]byte, error) {
	accessories := assignmentsByTarget(snapshot.Assignments)

	elements := []kml.Element{
		kml.Name("Aggregated Features"),
		kml.SharedStyle("building",
			kml.LineStyle(kml.Color(color.RGBA{R: 0xff, G: 0x99, B: 0x00, A: 0xff}), kml.Width(1)),
			kml.PolyStyle(kml.Color(color.RGBA{R: 0xff, G: 0x99, B: 0x00, A: 0x7f})),
		),
		kml.SharedStyle("road",
			kml.LineStyle(kml.Color(color.RGBA{R: 0x00, G: 0x66, B: 0xff, A: 0xff}), kml.Width(3)),
		),
		kml.SharedStyle("poi",
			kml.LineStyle(kml.Color(color.RGBA{R: 0x00, G: 0xcc, B: 0x33, A: 0xff}), kml.Width(1)),
		),
		kml.SharedStyle("landmark",
			kml.LineStyle(kml.Color(color.RGBA{R: 0xcc, G: 0x00, B: 0xcc, A: 0xff}), kml.Width(1)),
		),
		kml.SharedStyle("cluster",
			kml.LineStyle(kml.Color(color.RGBA{R: 0xff, G: 0x00, B: 0x00, A: 0xff}), kml.Width(2)),
		),
	}

	byType := make(map[string][]models.QualifiedFeature)
	for _, f := range snapshot.Features {
		byType[f.Type] = append(byType[f.Type], f)
	}

	for _, featureType := range kmlTypeOrder {
		features := byType[featureType]
		if len(features) == 0 {
			continue
		}

		placemarks := make([]kml.Element, 0, len(features)+1)
		placemarks = append(placemarks, kml.Name(kmlFolderNames[featureType]))
		for _, f := range features {
			pm := featurePlacemark(f, accessories[f.ID])
			if pm != nil {
				placemarks = append(placemarks, pm)
			}
		}
		elements = append(elements, kml.Folder(placemarks...))
	}

	if len(snapshot.Clusters) > 0 {
		placemarks := make([]kml.Element, 0, len(snapshot.Clusters)+1)
		placemarks = append(placemarks, kml.Name(kmlFolderNames[models.FeatureTypeCluster]))
		for _, c := range snapshot.Clusters {
			placemarks = append(placemarks, clusterPlacemark(c, accessories[c.ID]))
		}
		elements = append(elements, kml.Folder(placemarks...))
	}

	doc := kml.KML(kml.Document(elements...))

	var buf bytes.Buffer
	if err := doc.WriteIndent(&buf, "", "  "); err != nil {
		return nil, fmt.Errorf("failed to render kml: %w", err)
	}
	return buf.Bytes(), nil
}

func renderKMZ(snapshot *Snapshot) ([]byte, error) {
	kmlBytes, err := renderKML(snapshot)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("doc.kml")
	if err != nil {
		return nil, fmt.Errorf("failed to create kmz entry: %w", err)
	}
	if _, err := w.Write(kmlBytes); err != nil {
		return nil, fmt.Errorf("failed to write kmz entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close kmz: %w", err)
	}
	return buf.Bytes(), nil
}

func featurePlacemark(f models.QualifiedFeature, accessories []models.AccessoryAssignment) kml.Element {
	geom := kmlGeometry(f.Geometry.Geometry())
	if geom == nil {
		return nil
	}

	name := f.Name
	if name == "" {
		name = f.ID
	}

	return kml.Placemark(
		kml.Name(name),
		kml.Description(featureDescription(f, accessories)),
		kml.StyleURL("#"+f.Type),
		geom,
	)
}

func clusterPlacemark(c models.Cluster, accessories []models.AccessoryAssignment) kml.Element {
	var desc strings.Builder
	fmt.Fprintf(&desc, "tenants: %d<br/>members: %d<br/>radius: %.1f m", c.TenantCount, len(c.MemberIDs), c.RadiusM)
	if c.RecommendedSplit {
		desc.WriteString("<br/>recommended split")
	}
	appendAccessoryLines(&desc, accessories)

	return kml.Placemark(
		kml.Name(c.ID),
		kml.Description(desc.String()),
		kml.StyleURL("#cluster"),
		kml.Point(kml.Coordinates(kml.Coordinate{Lon: c.Centroid[0], Lat: c.Centroid[1]})),
	)
}

func featureDescription(f models.QualifiedFeature, accessories []models.AccessoryAssignment) string {
	var desc strings.Builder
	fmt.Fprintf(&desc, "providers: %s<br/>confidence: %.2f", strings.Join(f.Providers, ", "), f.Confidence)
	if f.TenantCount > 0 {
		fmt.Fprintf(&desc, "<br/>tenants: %d", f.TenantCount)
	}
	if f.AreaM2 > 0 {
		fmt.Fprintf(&desc, "<br/>area: %.1f m²", f.AreaM2)
	}
	appendAccessoryLines(&desc, accessories)
	return desc.String()
}

func appendAccessoryLines(desc *strings.Builder, accessories []models.AccessoryAssignment) {
	for _, a := range accessories {
		fmt.Fprintf(desc, "<br/>%s x%d (%s)", a.AccessoryCode, a.Quantity, a.Reason)
	}
}

func kmlGeometry(g orb.Geometry) kml.Element {
	switch v := g.(type) {
	case orb.Point:
		return kml.Point(kml.Coordinates(kml.Coordinate{Lon: v[0], Lat: v[1]}))
	case orb.LineString:
		return kml.LineString(kml.Coordinates(kmlCoordinates(v)...))
	case orb.Polygon:
		if len(v) == 0 {
			return nil
		}
		elements := []kml.Element{
			kml.OuterBoundaryIs(kml.LinearRing(kml.Coordinates(kmlCoordinates(orb.LineString(v[0]))...))),
		}
		for _, inner := range v[1:] {
			elements = append(elements,
				kml.InnerBoundaryIs(kml.LinearRing(kml.Coordinates(kmlCoordinates(orb.LineString(inner))...))))
		}
		return kml.Polygon(elements...)
	case orb.MultiPolygon:
		if len(v) == 0 {
			return nil
		}
		return kmlGeometry(v[0])
	default:
		return nil
	}
}

func kmlCoordinates(line orb.LineString) []kml.Coordinate {
	out := make([]kml.Coordinate, 0, len(line))
	for _, pt := range line {
		out = append(out, kml.Coordinate{Lon: pt[0], Lat: pt[1]})
	}
	return out
}
