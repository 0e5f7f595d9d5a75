package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// ErrMalformedRuleProfile marks profiles rejected at load time. Malformed
// predicates never surface during evaluation.
var ErrMalformedRuleProfile = errors.New("malformed rule profile")

// Engine validates rule profiles and evaluates them against qualified
// entities.
type Engine struct {
	logger   ectologger.Logger
	eval     *evaluator
	validate *validator.Validate
}

// NewEngine creates a rule engine.
func NewEngine(logger ectologger.Logger) *Engine {
	return &Engine{
		logger:   logger,
		eval:     newEvaluator(),
		validate: validator.New(),
	}
}

// ValidateProfile rejects structurally invalid profiles and profiles whose
// predicate, quantity, or reason expressions do not compile.
func (e *Engine) ValidateProfile(profile *models.RuleProfile) error {
	if err := e.validate.Struct(profile); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRuleProfile, err)
	}

	for _, rule := range profile.Rules {
		if err := e.eval.validate(rule.Predicate); err != nil {
			return fmt.Errorf("%w: rule %s predicate: %v", ErrMalformedRuleProfile, rule.ID, err)
		}
		if err := e.eval.validate(rule.Quantity); err != nil {
			return fmt.Errorf("%w: rule %s quantity: %v", ErrMalformedRuleProfile, rule.ID, err)
		}
		if rule.Reason != "" {
			if err := e.eval.validateTemplate(rule.Reason); err != nil {
				return fmt.Errorf("%w: rule %s reason: %v", ErrMalformedRuleProfile, rule.ID, err)
			}
		}
	}

	return nil
}

// Evaluate runs the profile's rules over every feature and cluster. Rules
// apply in profile order and the first match per (entity, accessory category)
// wins; later rules in the same category are skipped for that entity.
func (e *Engine) Evaluate(ctx context.Context, profile *models.RuleProfile, features []models.QualifiedFeature, clusters []models.Cluster) []models.AccessoryAssignment {
	ctx, span := tracing.StartSpan(ctx, "rules.Engine.Evaluate")
	defer span.End()

	var assignments []models.AccessoryAssignment

	for _, f := range features {
		doc := entityDocument(f)
		assignments = append(assignments, e.evaluateEntity(ctx, profile, f.ID, doc)...)
	}
	for _, c := range clusters {
		doc := entityDocument(c)
		assignments = append(assignments, e.evaluateEntity(ctx, profile, c.ID, doc)...)
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"profile":     profile.ID,
		"entities":    len(features) + len(clusters),
		"assignments": len(assignments),
	}).Info("rule evaluation complete")

	return assignments
}

func (e *Engine) evaluateEntity(ctx context.Context, profile *models.RuleProfile, entityID string, doc map[string]any) []models.AccessoryAssignment {
	var out []models.AccessoryAssignment
	matchedCategories := make(map[string]bool)

	for _, rule := range profile.Rules {
		if matchedCategories[rule.Category] {
			continue
		}

		matched, err := e.eval.evaluateBool(rule.Predicate, doc)
		if err != nil {
			// profiles are validated at load time; an evaluation error here
			// means the data shape surprised us, not a bad profile
			e.logger.WithContext(ctx).WithError(err).Warnf("rule %s predicate failed for %s", rule.ID, entityID)
			continue
		}
		if !matched {
			continue
		}

		// a matched rule claims its category even when its quantity comes out
		// below one: the first match decides the category, a zero quantity
		// just means nothing is fitted
		matchedCategories[rule.Category] = true

		quantity, err := e.eval.evaluateInt(rule.Quantity, doc)
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).Warnf("rule %s quantity failed for %s", rule.ID, entityID)
			continue
		}
		if quantity < 1 {
			continue
		}

		out = append(out, models.AccessoryAssignment{
			TargetID:      entityID,
			AccessoryCode: rule.AccessoryCode,
			Quantity:      quantity,
			RuleID:        rule.ID,
			Reason:        e.eval.renderTemplate(rule.Reason, doc),
		})
	}

	return out
}

// entityDocument flattens an entity to the generic map JMESPath operates on.
func entityDocument(entity any) map[string]any {
	b, err := json.Marshal(entity)
	if err != nil {
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return map[string]any{}
	}
	return doc
}
