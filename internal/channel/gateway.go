package channel

import (
	"github.com/sourcegraph/conc/panics"

	"github.com/coachpo/eventline/errs"
	"github.com/coachpo/eventline/internal/domain/schema"
)

// validate runs v over raw. Failures, including validator panics, come back as
// errs.CodeValidation envelopes carrying the individual issues.
func validate(event string, v schema.Validator, raw any) (value any, err error) {
	if v == nil {
		return raw, nil
	}
	var catcher panics.Catcher
	catcher.Try(func() { value, err = v.Validate(raw) })
	if recovered := catcher.Recovered(); recovered != nil {
		return nil, errs.New(event, errs.CodeValidation,
			errs.WithMessage("validator panicked"),
			errs.WithCause(recovered.AsError()))
	}
	if err == nil {
		return value, nil
	}
	var issues []string
	if ve, ok := schema.AsValidationError(err); ok {
		issues = ve.Strings()
	} else {
		issues = []string{err.Error()}
	}
	return nil, errs.New(event, errs.CodeValidation,
		errs.WithMessage("payload does not match schema"),
		errs.WithIssues(issues...),
		errs.WithCause(err))
}
