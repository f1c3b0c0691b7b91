package training

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/hrygo/marketsense/store"
)

// DefaultPolicy makes explicit opt-in the only path to eligibility.
const DefaultPolicy = "opted_in"

// ConsentGetter reads the per-user consent record.
type ConsentGetter interface {
	GetTrainingConsent(ctx context.Context, userID string) (*store.TrainingConsent, error)
}

// EligibilityChecker decides whether a user's turns may be captured. The
// policy is a CEL expression over the variables opted_in (bool) and plan
// (string) that must evaluate to a bool.
type EligibilityChecker struct {
	consents ConsentGetter
	policy   string
	program  cel.Program
}

// NewEligibilityChecker compiles policy, or DefaultPolicy when empty.
func NewEligibilityChecker(consents ConsentGetter, policy string) (*EligibilityChecker, error) {
	if policy == "" {
		policy = DefaultPolicy
	}

	env, err := cel.NewEnv(
		cel.Variable("opted_in", cel.BoolType),
		cel.Variable("plan", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create policy environment")
	}
	ast, iss := env.Compile(policy)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "invalid training policy %q", policy)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid training policy %q", policy)
	}

	return &EligibilityChecker{consents: consents, policy: policy, program: program}, nil
}

// Policy returns the compiled expression.
func (c *EligibilityChecker) Policy() string {
	return c.policy
}

// Eligible reports whether userID's turns may be stored for training.
// Users without a consent record are never eligible.
func (c *EligibilityChecker) Eligible(ctx context.Context, userID string) (bool, error) {
	consent, err := c.consents.GetTrainingConsent(ctx, userID)
	if err != nil {
		return false, errors.Wrap(err, "failed to get training consent")
	}
	if consent == nil {
		return false, nil
	}
	return c.Evaluate(consent)
}

// Evaluate runs the policy against consent.
func (c *EligibilityChecker) Evaluate(consent *store.TrainingConsent) (bool, error) {
	out, _, err := c.program.Eval(map[string]any{
		"opted_in": consent.OptedIn,
		"plan":     consent.Plan,
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to evaluate training policy")
	}
	eligible, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("training policy %q returned %T, want bool", c.policy, out.Value())
	}
	return eligible, nil
}
