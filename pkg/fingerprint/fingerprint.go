package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
)

// Generate creates a deterministic fingerprint for feature data
// The fingerprint is a SHA256 hash of the canonicalized JSON
func Generate(data map[string]any) string {
	canonical := canonicalize(data)
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// Geometry creates a deterministic identity for a feature from its geometry
// and type. Coordinates are rounded to 7 decimal places (~1cm) so identical
// shapes fingerprint identically regardless of float noise in the source.
func Geometry(g orb.Geometry, featureType string) string {
	h := sha256.New()
	h.Write([]byte(featureType))
	h.Write([]byte{0})
	writeGeometry(h, g)
	return hex.EncodeToString(h.Sum(nil))
}

func writeGeometry(h interface{ Write(p []byte) (int, error) }, g orb.Geometry) {
	switch v := g.(type) {
	case orb.Point:
		writePoint(h, v)
	case orb.LineString:
		for _, pt := range v {
			writePoint(h, pt)
		}
	case orb.Ring:
		for _, pt := range v {
			writePoint(h, pt)
		}
	case orb.Polygon:
		for _, ring := range v {
			h.Write([]byte{'('})
			writeGeometry(h, ring)
			h.Write([]byte{')'})
		}
	case orb.MultiPolygon:
		for _, poly := range v {
			h.Write([]byte{'['})
			writeGeometry(h, poly)
			h.Write([]byte{']'})
		}
	}
}

func writePoint(h interface{ Write(p []byte) (int, error) }, pt orb.Point) {
	h.Write([]byte(strconv.FormatFloat(round7(pt[0]), 'f', 7, 64)))
	h.Write([]byte{','})
	h.Write([]byte(strconv.FormatFloat(round7(pt[1]), 'f', 7, 64)))
	h.Write([]byte{';'})
}

func round7(f float64) float64 {
	const scale = 1e7
	if f >= 0 {
		return float64(int64(f*scale+0.5)) / scale
	}
	return float64(int64(f*scale-0.5)) / scale
}

// canonicalize creates a deterministic string representation of a value
// by sorting keys and recursively processing nested structures
func canonicalize(data any) string {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		result := "{"
		for i, k := range keys {
			if i > 0 {
				result += ","
			}
			keyJSON, _ := json.Marshal(k)
			result += string(keyJSON) + ":" + canonicalize(v[k])
		}
		result += "}"
		return result
	case []any:
		result := "["
		for i, item := range v {
			if i > 0 {
				result += ","
			}
			result += canonicalize(item)
		}
		result += "]"
		return result
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
