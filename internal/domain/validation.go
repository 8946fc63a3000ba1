// Package domain defines the types shared by the session engine: pipeline
// steps, the session read model, job bindings, remote job statuses and the
// poll task state machine.
//
// Types here carry validation tags and are checked with a single shared
// validator instance. Nothing in this package performs I/O; persistence,
// transport and coordination live under internal/flow.
package domain

import (
	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance used for struct validation.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator exposes the shared validator so other packages validate with the
// same rules and tag registrations.
func Validator() *validator.Validate { return validate }
