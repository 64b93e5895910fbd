// Package validator rejects malformed queries before they reach the
// orchestrator.
package validator

import (
	"strings"
	"unicode/utf8"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/middleware"
)

// ValidatorFunc validates a query in its middleware context.
type ValidatorFunc func(*middleware.Context) error

// InputValidator validates the query
type InputValidator struct {
	validators []ValidatorFunc
}

// NewInputValidator creates an input validation middleware running each
// validator in order.
func NewInputValidator(validators ...ValidatorFunc) *InputValidator {
	return &InputValidator{validators: validators}
}

// Name returns the middleware name
func (m *InputValidator) Name() string {
	return "InputValidator"
}

// Execute validates the input and trims surrounding whitespace.
func (m *InputValidator) Execute(ctx *middleware.Context, next middleware.Handler) error {
	for _, v := range m.validators {
		if err := v(ctx); err != nil {
			return err
		}
	}
	ctx.Query = strings.TrimSpace(ctx.Query)
	return next(ctx)
}

// NonEmpty rejects blank queries.
func NonEmpty() ValidatorFunc {
	return func(ctx *middleware.Context) error {
		if strings.TrimSpace(ctx.Query) == "" {
			return medragerr.New(medragerr.CodeMiddlewareInvalidInput, "query must not be empty")
		}
		return nil
	}
}

// MaxLength rejects queries longer than n characters.
func MaxLength(n int) ValidatorFunc {
	return func(ctx *middleware.Context) error {
		if n > 0 && utf8.RuneCountInString(ctx.Query) > n {
			return medragerr.Errorf(medragerr.CodeMiddlewareInvalidInput, "query exceeds %d characters", n)
		}
		return nil
	}
}

// TopKRange rejects result-count limits outside [0, max]; zero means the
// default.
func TopKRange(max int) ValidatorFunc {
	return func(ctx *middleware.Context) error {
		if k := ctx.Options.TopK; k < 0 || (max > 0 && k > max) {
			return medragerr.Errorf(medragerr.CodeMiddlewareInvalidInput, "top_k must be between 1 and %d", max)
		}
		return nil
	}
}

// HistoryRoles rejects history turns that are not user or assistant turns.
func HistoryRoles() ValidatorFunc {
	return func(ctx *middleware.Context) error {
		for i, turn := range ctx.History {
			if turn == nil {
				return medragerr.Errorf(medragerr.CodeMiddlewareInvalidInput, "history turn %d is empty", i)
			}
			if turn.Role != message.RoleUser && turn.Role != message.RoleAssistant {
				return medragerr.Errorf(medragerr.CodeMiddlewareInvalidInput, "history turn %d has role %q", i, turn.Role)
			}
		}
		return nil
	}
}
