package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewiskimaru/lasomi-sub001/pkg/logging"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

func newTestEngine() *Engine {
	return NewEngine(logging.NewNop())
}

func validProfile(rules ...models.Rule) *models.RuleProfile {
	return &models.RuleProfile{
		ID:                 "rp-1",
		Name:               "default",
		MaxTenantsPerPoint: 16,
		MaxServiceRadiusM:  200,
		Rules:              rules,
	}
}

func TestValidateProfile(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		name    string
		profile *models.RuleProfile
		wantErr bool
	}{
		{
			name: "valid profile",
			profile: validProfile(models.Rule{
				ID: "r1", Category: "splice", Predicate: "tenant_count > `4`",
				AccessoryCode: "SPL-16", Quantity: "`1`", Reason: "large building {{ id }}",
			}),
		},
		{
			name: "malformed predicate",
			profile: validProfile(models.Rule{
				ID: "r1", Category: "splice", Predicate: "tenant_count >",
				AccessoryCode: "SPL-16", Quantity: "`1`",
			}),
			wantErr: true,
		},
		{
			name: "malformed quantity",
			profile: validProfile(models.Rule{
				ID: "r1", Category: "splice", Predicate: "tenant_count > `4`",
				AccessoryCode: "SPL-16", Quantity: "][",
			}),
			wantErr: true,
		},
		{
			name: "malformed reason template",
			profile: validProfile(models.Rule{
				ID: "r1", Category: "splice", Predicate: "tenant_count > `4`",
				AccessoryCode: "SPL-16", Quantity: "`1`", Reason: "bad {{ >> }}",
			}),
			wantErr: true,
		},
		{
			name: "missing structural fields",
			profile: &models.RuleProfile{
				ID: "rp-2", Name: "broken",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.ValidateProfile(tt.profile)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedRuleProfile)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluate_FirstMatchPerCategoryWins(t *testing.T) {
	e := newTestEngine()

	profile := validProfile(
		models.Rule{
			ID: "r1", Category: "splice", Predicate: "tenant_count >= `8`",
			AccessoryCode: "SPL-32", Quantity: "`2`", Reason: "high density",
		},
		models.Rule{
			ID: "r2", Category: "splice", Predicate: "tenant_count >= `1`",
			AccessoryCode: "SPL-16", Quantity: "`1`", Reason: "default splice",
		},
		models.Rule{
			ID: "r3", Category: "drop", Predicate: "type == 'building'",
			AccessoryCode: "DROP-STD", Quantity: "tenant_count",
		},
	)
	require.NoError(t, e.ValidateProfile(profile))

	features := []models.QualifiedFeature{
		{ID: "big", Type: models.FeatureTypeBuilding, TenantCount: 10},
		{ID: "small", Type: models.FeatureTypeBuilding, TenantCount: 2},
	}

	assignments := e.Evaluate(context.Background(), profile, features, nil)
	require.Len(t, assignments, 4)

	byTarget := map[string][]models.AccessoryAssignment{}
	for _, a := range assignments {
		byTarget[a.TargetID] = append(byTarget[a.TargetID], a)
	}

	// "big" matches r1 and r3; r2 is skipped because r1 consumed the category
	require.Len(t, byTarget["big"], 2)
	assert.Equal(t, "r1", byTarget["big"][0].RuleID)
	assert.Equal(t, "SPL-32", byTarget["big"][0].AccessoryCode)
	assert.Equal(t, 2, byTarget["big"][0].Quantity)
	assert.Equal(t, "r3", byTarget["big"][1].RuleID)
	assert.Equal(t, 10, byTarget["big"][1].Quantity)

	// "small" falls through to r2
	require.Len(t, byTarget["small"], 2)
	assert.Equal(t, "r2", byTarget["small"][0].RuleID)
}

func TestEvaluate_ClustersAreEntities(t *testing.T) {
	e := newTestEngine()

	profile := validProfile(models.Rule{
		ID: "r1", Category: "cabinet", Predicate: "recommended_split",
		AccessoryCode: "CAB-L", Quantity: "`1`", Reason: "cluster {{ id }} near capacity",
	})
	require.NoError(t, e.ValidateProfile(profile))

	clusters := []models.Cluster{
		{ID: "cluster-001", TenantCount: 15, RecommendedSplit: true},
		{ID: "cluster-002", TenantCount: 3, RecommendedSplit: false},
	}

	assignments := e.Evaluate(context.Background(), profile, nil, clusters)
	require.Len(t, assignments, 1)
	assert.Equal(t, "cluster-001", assignments[0].TargetID)
	assert.Equal(t, "cluster cluster-001 near capacity", assignments[0].Reason)
}

func TestEvaluate_ZeroQuantityProducesNothing(t *testing.T) {
	e := newTestEngine()

	profile := validProfile(models.Rule{
		ID: "r1", Category: "splice", Predicate: "tenant_count >= `0`",
		AccessoryCode: "SPL-16", Quantity: "`0`",
	})
	require.NoError(t, e.ValidateProfile(profile))

	features := []models.QualifiedFeature{{ID: "a", Type: models.FeatureTypeBuilding, TenantCount: 1}}
	assignments := e.Evaluate(context.Background(), profile, features, nil)
	assert.Empty(t, assignments)
}

func TestEvaluate_ZeroQuantityStillClaimsCategory(t *testing.T) {
	e := newTestEngine()

	// r1 matches but fits nothing; r2 must not fire for the same category
	profile := validProfile(
		models.Rule{
			ID: "r1", Category: "splice", Predicate: "tenant_count >= `1`",
			AccessoryCode: "SPL-32", Quantity: "`0`",
		},
		models.Rule{
			ID: "r2", Category: "splice", Predicate: "tenant_count >= `1`",
			AccessoryCode: "SPL-16", Quantity: "`1`",
		},
	)
	require.NoError(t, e.ValidateProfile(profile))

	features := []models.QualifiedFeature{{ID: "a", Type: models.FeatureTypeBuilding, TenantCount: 3}}
	assignments := e.Evaluate(context.Background(), profile, features, nil)
	assert.Empty(t, assignments)
}

func TestRenderTemplate(t *testing.T) {
	eval := newEvaluator()
	doc := map[string]any{"id": "b-1", "tenant_count": 7.0}

	assert.Equal(t, "building b-1 has 7 tenants",
		eval.renderTemplate("building {{ id }} has {{ tenant_count }} tenants", doc))
	assert.Equal(t, "no placeholders", eval.renderTemplate("no placeholders", doc))
	assert.Equal(t, "missing: ", eval.renderTemplate("missing: {{ nope }}", doc))
}
