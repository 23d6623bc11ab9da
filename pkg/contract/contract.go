package contract

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDescriptor = errors.New("invalid contract descriptor")

// Descriptor identifies one remotely invocable interface.
type Descriptor struct {
	// Name is the short name, e.g. "IOrders".
	Name string
	// FullName is the fully-qualified name, e.g. "Acme.Contracts.IOrders".
	FullName string
}

// Metadata is the introspection contract exposed by every host with a tcp
// base address.
var Metadata = Descriptor{
	Name:     "IMetadataExchange",
	FullName: "Svchost.Description.IMetadataExchange",
}

// New builds a descriptor from a fully-qualified name; the short name is the
// last dot separated segment.
func New(fullName string) Descriptor {
	name := fullName
	if i := strings.LastIndex(fullName, "."); i >= 0 {
		name = fullName[i+1:]
	}
	return Descriptor{Name: name, FullName: fullName}
}

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDescriptor)
	}
	if strings.TrimSpace(d.FullName) == "" {
		return fmt.Errorf("%w: %s missing full name", ErrInvalidDescriptor, d.Name)
	}
	return nil
}

func (d Descriptor) String() string {
	return d.FullName
}

// Set is the list of contracts implemented by a hosted service.
type Set []Descriptor

func (s Set) Contains(d Descriptor) bool {
	for _, c := range s {
		if c == d {
			return true
		}
	}
	return false
}

func (s Set) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, c := range s {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.FullName] {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidDescriptor, c.FullName)
		}
		seen[c.FullName] = true
	}
	return nil
}
