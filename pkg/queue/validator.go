package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/kbirk/svchost/pkg/log"
	"github.com/kbirk/svchost/pkg/metrics"
)

var ErrQueueInfrastructure = errors.New("queue infrastructure unavailable")

// CreateOptions describe a queue being created.
type CreateOptions struct {
	Durable       bool
	Transactional bool
}

// Store is the queue management surface of a broker.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name string, opts CreateOptions) error
}

// InfrastructureError reports which queue could not be verified or created.
type InfrastructureError struct {
	Queue string
	Op    string
	Err   error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("queue %s: %s: %v", e.Queue, e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

func (e *InfrastructureError) Is(target error) bool {
	return target == ErrQueueInfrastructure
}

type ValidatorConfig struct {
	Store  Store
	Logger log.Logger
}

type Validator struct {
	conf ValidatorConfig
}

func NewValidator(conf ValidatorConfig) *Validator {
	return &Validator{conf: conf}
}

func (v *Validator) logInfo(msg string) {
	if v.conf.Logger != nil {
		v.conf.Logger.Info(msg)
	}
}

func (v *Validator) logError(msg string) {
	if v.conf.Logger != nil {
		v.conf.Logger.Error(msg)
	}
}

// EnsureQueueInfrastructure makes sure the primary, dead-letter and poison
// queues for contractName exist, creating the missing ones.
func (v *Validator) EnsureQueueInfrastructure(ctx context.Context, contractName string) error {
	if v.conf.Store == nil {
		return &InfrastructureError{Queue: contractName, Op: "validate", Err: errors.New("no queue store configured")}
	}
	for _, name := range Names(contractName).All() {
		if err := v.ensure(ctx, name); err != nil {
			v.logError(err.Error())
			return err
		}
	}
	return nil
}

func (v *Validator) ensure(ctx context.Context, name string) error {
	exists, err := v.conf.Store.Exists(ctx, name)
	if err != nil {
		return &InfrastructureError{Queue: name, Op: "exists", Err: err}
	}
	if exists {
		return nil
	}
	err = v.conf.Store.Create(ctx, name, CreateOptions{Durable: true, Transactional: true})
	if err != nil {
		return &InfrastructureError{Queue: name, Op: "create", Err: err}
	}
	metrics.RecordQueueCreated()
	v.logInfo(fmt.Sprintf("Created queue %s", name))
	return nil
}
