package supervisor

import (
	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/process"
	"github.com/core-tools/hsu-startup/pkg/readiness"
)

// FailurePolicy decides what happens when the dependency never becomes ready
type FailurePolicy string

const (
	// FailurePolicyAbort terminates the dependency and exits without starting the primary
	FailurePolicyAbort FailurePolicy = "abort"

	// FailurePolicyContinue starts the primary anyway, in degraded mode
	FailurePolicyContinue FailurePolicy = "continue"
)

type Options struct {
	Dependency          process.ProcessSpec
	Primary             process.ProcessSpec
	Readiness           readiness.Check
	OnDependencyFailure FailurePolicy
}

func ValidateFailurePolicy(policy FailurePolicy) error {
	switch policy {
	case FailurePolicyAbort, FailurePolicyContinue:
		return nil
	case "":
		return errors.NewValidationError("dependency failure policy must be set explicitly", nil).
			WithContext("supported_policies", "abort, continue")
	default:
		return errors.NewValidationError("unsupported dependency failure policy: "+string(policy), nil).
			WithContext("supported_policies", "abort, continue")
	}
}

// WithDefaults fills roles and derives the readiness target from the
// dependency's bind address and port when the check leaves them unset
func (o Options) WithDefaults() Options {
	o.Dependency.Role = process.RoleDependency
	o.Primary.Role = process.RolePrimary

	if o.Readiness.Port == 0 {
		o.Readiness.Port = o.Dependency.BindPort
	}
	if o.Readiness.Address == "" {
		o.Readiness.Address = o.Dependency.BindAddress
	}
	o.Readiness = o.Readiness.WithDefaults()

	return o
}

func ValidateOptions(options Options) error {
	if err := ValidateFailurePolicy(options.OnDependencyFailure); err != nil {
		return err
	}

	if err := process.ValidateProcessSpec(options.Dependency); err != nil {
		return errors.NewValidationError("invalid dependency process", err)
	}

	if err := process.ValidateProcessSpec(options.Primary); err != nil {
		return errors.NewValidationError("invalid primary process", err)
	}

	if options.Dependency.ID == options.Primary.ID {
		return errors.NewValidationError("dependency and primary must have different ids", nil).
			WithContext("id", options.Primary.ID)
	}

	if err := readiness.ValidateCheck(options.Readiness); err != nil {
		return errors.NewValidationError("invalid readiness check", err)
	}

	return nil
}
