package export

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

// property keys the serializer owns; source attributes never clobber these.
var reservedProperties = map[string]bool{
	"id": true, "type": true, "name": true, "tenant_count": true,
	"confidence": true, "area_m2": true, "source_providers": true,
	"source_ids": true, "accessories": true,
}

func renderGeoJSON(snapshot *Snapshot) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	accessories := assignmentsByTarget(snapshot.Assignments)

	for _, qf := range snapshot.Features {
		f := geojson.NewFeature(qf.Geometry.Geometry())
		f.ID = qf.ID
		f.Properties["id"] = qf.ID
		f.Properties["type"] = qf.Type
		f.Properties["tenant_count"] = qf.TenantCount
		f.Properties["confidence"] = qf.Confidence
		f.Properties["area_m2"] = qf.AreaM2
		f.Properties["source_providers"] = qf.Providers
		f.Properties["source_ids"] = qf.SourceIDs
		if qf.Name != "" {
			f.Properties["name"] = qf.Name
		}
		for k, v := range qf.Attributes {
			if !reservedProperties[k] {
				f.Properties[k] = v
			}
		}
		if acc := accessories[qf.ID]; len(acc) > 0 {
			f.Properties["accessories"] = accessoryProperties(acc)
		}
		fc.Append(f)
	}

	for _, c := range snapshot.Clusters {
		f := geojson.NewFeature(orb.Point(c.Centroid))
		f.ID = c.ID
		f.Properties["id"] = c.ID
		f.Properties["type"] = models.FeatureTypeCluster
		f.Properties["tenant_count"] = c.TenantCount
		f.Properties["member_ids"] = c.MemberIDs
		f.Properties["radius_m"] = c.RadiusM
		f.Properties["recommended_split"] = c.RecommendedSplit
		if acc := accessories[c.ID]; len(acc) > 0 {
			f.Properties["accessories"] = accessoryProperties(acc)
		}
		fc.Append(f)
	}

	return fc.MarshalJSON()
}

func assignmentsByTarget(assignments []models.AccessoryAssignment) map[string][]models.AccessoryAssignment {
	out := make(map[string][]models.AccessoryAssignment)
	for _, a := range assignments {
		out[a.TargetID] = append(out[a.TargetID], a)
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool { return list[i].RuleID < list[j].RuleID })
	}
	return out
}

func accessoryProperties(assignments []models.AccessoryAssignment) []map[string]any {
	out := make([]map[string]any, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, map[string]any{
			"accessory_code": a.AccessoryCode,
			"quantity":       a.Quantity,
			"rule_id":        a.RuleID,
			"reason":         a.Reason,
		})
	}
	return out
}
