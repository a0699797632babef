// Package authz evaluates the embedded rego policy that decides who may act
// on bookings, payments and routes.
package authz

import (
	"context"
	_ "embed"
	"fmt"

	"ticketbackend/internal/domain"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed policy.rego
var policy string

const (
	BookingView     = "booking.view"
	BookingDecide   = "booking.decide"
	BookingComplete = "booking.complete"
	BookingCancel   = "booking.cancel"
	PaymentCheckout = "payment.checkout"
	PaymentView     = "payment.view"
	PaymentRefund   = "payment.refund"
	RouteCreate     = "route.create"
	RouteVerify     = "route.verify"
)

// Resource carries the ownership facts of the thing being acted on.
type Resource struct {
	UserID   int64
	VendorID int64
}

type Authorizer struct {
	query rego.PreparedEvalQuery
}

func New(ctx context.Context) (*Authorizer, error) {
	q, err := rego.New(
		rego.Query("data.ticketing.authz.allow"),
		rego.Module("policy.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare authz policy: %w", err)
	}
	return &Authorizer{query: q}, nil
}

func (a *Authorizer) Allow(ctx context.Context, action string, subject domain.RequestContext, res Resource) (bool, error) {
	input := map[string]any{
		"action": action,
		"subject": map[string]any{
			"user_id": subject.UserID,
			"role":    subject.Role,
		},
		"resource": map[string]any{
			"user_id":   res.UserID,
			"vendor_id": res.VendorID,
		},
	}
	rs, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluate authz policy: %w", err)
	}
	return rs.Allowed(), nil
}

// Require returns an AuthorizationError when the policy denies the action.
func (a *Authorizer) Require(ctx context.Context, action string, subject domain.RequestContext, res Resource) error {
	ok, err := a.Allow(ctx, action, subject, res)
	if err != nil {
		return domain.InternalError{Msg: "authorization check failed", Err: err}
	}
	if !ok {
		return domain.AuthorizationError{Action: action}
	}
	return nil
}
