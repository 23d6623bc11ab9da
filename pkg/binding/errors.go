package binding

import (
	"errors"
	"fmt"

	"github.com/kbirk/svchost/pkg/transport"
)

var ErrPolicyViolation = errors.New("binding policy violation")

// PolicyViolation names the profile field that exceeded its ceiling.
type PolicyViolation struct {
	Kind    transport.Kind
	Profile string
	Field   string
	Value   string
	Limit   string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("the %s value you provided (%s) exceeds the %s binding policy limit of %s (profile %q)",
		e.Field, e.Value, e.Kind, e.Limit, e.Profile)
}

func (e *PolicyViolation) Is(target error) bool {
	return target == ErrPolicyViolation
}
