package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	d := New("Acme.Orders.Contracts.IOrders")
	assert.Equal(t, "IOrders", d.Name)
	assert.Equal(t, "Acme.Orders.Contracts.IOrders", d.FullName)

	d = New("IBare")
	assert.Equal(t, "IBare", d.Name)
}

func TestValidate(t *testing.T) {
	require.NoError(t, New("A.IB").Validate())
	assert.ErrorIs(t, Descriptor{}.Validate(), ErrInvalidDescriptor)
	assert.ErrorIs(t, Descriptor{Name: "IB"}.Validate(), ErrInvalidDescriptor)
}

func TestSet(t *testing.T) {
	a := New("A.Contracts.IA")
	b := New("A.Contracts.IB")
	s := Set{a}
	assert.True(t, s.Contains(a))
	assert.False(t, s.Contains(b))

	require.NoError(t, Set{a, b}.Validate())
	assert.ErrorIs(t, Set{a, a}.Validate(), ErrInvalidDescriptor)
}
