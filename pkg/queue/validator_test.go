package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	tr := Names("Orders")
	assert.Equal(t, `.\private$\Orders`, tr.Primary)
	assert.Equal(t, `.\private$\OrdersDeadLetter`, tr.DeadLetter)
	assert.Equal(t, `.\private$\Orders;poison`, tr.Poison)
	assert.Equal(t, []string{tr.Primary, tr.DeadLetter, tr.Poison}, tr.All())
}

func TestStreamNamesAreDistinct(t *testing.T) {
	seen := map[string]string{}
	for _, contract := range []string{"Orders", "Orders_poison", "Orders_Spoison", "OrdersDeadLetter", "Orders;poison"} {
		for _, q := range Names(contract).All() {
			name := StreamName(q)
			if prev, ok := seen[name]; ok {
				assert.Equal(t, prev, q, "stream %s shared", name)
			}
			seen[name] = q
		}
	}
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "Orders", StreamName(`.\private$\Orders`))
	assert.Equal(t, "Orders_Spoison", StreamName(`.\private$\Orders;poison`))
	assert.Equal(t, "Orders__poison", StreamName(`.\private$\Orders_poison`))
	assert.Equal(t, "Acme_DOrders", StreamName(`.\private$\Acme.Orders`))
	assert.Equal(t, "svchost.queue.OrdersDeadLetter", Subject(`.\private$\OrdersDeadLetter`))
}

func TestEnsureQueueInfrastructureIdempotent(t *testing.T) {
	store := NewMemoryStore()
	v := NewValidator(ValidatorConfig{Store: store})

	require.NoError(t, v.EnsureQueueInfrastructure(context.Background(), "Orders"))
	require.NoError(t, v.EnsureQueueInfrastructure(context.Background(), "Orders"))

	tr := Names("Orders")
	assert.ElementsMatch(t, tr.All(), store.Queues())
	for _, name := range tr.All() {
		assert.Equal(t, 1, store.Creates(name), name)
		opts, ok := store.Options(name)
		require.True(t, ok)
		assert.True(t, opts.Durable)
		assert.True(t, opts.Transactional)
	}
}

func TestEnsureQueueInfrastructureCreatesMissingOnly(t *testing.T) {
	store := NewMemoryStore()
	tr := Names("Billing")
	require.NoError(t, store.Create(context.Background(), tr.Primary, CreateOptions{Durable: true}))

	v := NewValidator(ValidatorConfig{Store: store})
	require.NoError(t, v.EnsureQueueInfrastructure(context.Background(), "Billing"))

	assert.Equal(t, 1, store.Creates(tr.Primary))
	assert.Equal(t, 1, store.Creates(tr.DeadLetter))
	assert.Equal(t, 1, store.Creates(tr.Poison))
}

func TestEnsureQueueInfrastructureUnavailable(t *testing.T) {
	store := NewMemoryStore()
	store.SetUnavailable(true)
	v := NewValidator(ValidatorConfig{Store: store})

	err := v.EnsureQueueInfrastructure(context.Background(), "Orders")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueInfrastructure)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	var infra *InfrastructureError
	require.True(t, errors.As(err, &infra))
	assert.Equal(t, Names("Orders").Primary, infra.Queue)
	assert.Equal(t, "exists", infra.Op)
	assert.Empty(t, store.Queues())
}

type failingCreateStore struct {
	*MemoryStore
}

func (s failingCreateStore) Create(context.Context, string, CreateOptions) error {
	return errors.New("access denied")
}

func TestEnsureQueueInfrastructureCreateFailure(t *testing.T) {
	v := NewValidator(ValidatorConfig{Store: failingCreateStore{NewMemoryStore()}})
	err := v.EnsureQueueInfrastructure(context.Background(), "Orders")
	assert.ErrorIs(t, err, ErrQueueInfrastructure)
	assert.Contains(t, err.Error(), "access denied")
}

func TestEnsureQueueInfrastructureNoStore(t *testing.T) {
	err := NewValidator(ValidatorConfig{}).EnsureQueueInfrastructure(context.Background(), "Orders")
	assert.ErrorIs(t, err, ErrQueueInfrastructure)
}
