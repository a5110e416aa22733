package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splinter/wire"
)

func testCircuit(t *RoutingTable) {
	t.AddCircuit(
		Circuit{ID: "abcde-fghij", Members: []string{"alpha", "beta"},
			Roster: []string{"sv-a", "sv-b"}, Status: wire.CircuitStatusActive},
		[]Service{
			{ID: ServiceID{CircuitID: "abcde-fghij", ServiceID: "sv-a"}, AllowedNodes: []string{"alpha"}},
			{ID: ServiceID{CircuitID: "abcde-fghij", ServiceID: "sv-b"}, AllowedNodes: []string{"beta"}},
		},
		[]Node{{ID: "alpha", Endpoints: []string{"inproc://alpha"}}, {ID: "beta", Endpoints: []string{"inproc://beta"}}},
	)
}

func TestRoutingTableSnapshotsAreCopies(t *testing.T) {
	table := NewRoutingTable()
	testCircuit(table)

	snap, ok := table.Circuit("abcde-fghij")
	require.True(t, ok)
	snap.Members[0] = "mutated"

	again, ok := table.Circuit("abcde-fghij")
	require.True(t, ok)
	assert.Equal(t, "alpha", again.Members[0])
}

func TestServiceRegistration(t *testing.T) {
	table := NewRoutingTable()
	testCircuit(table)
	id := ServiceID{CircuitID: "abcde-fghij", ServiceID: "sv-a"}

	// clear the static assignment first.
	svc, ok := table.Service(id)
	require.True(t, ok)
	if svc.Node != "" {
		require.NoError(t, table.UnregisterService(id))
	}

	require.NoError(t, table.RegisterService(id, "alpha"))
	err := table.RegisterService(id, "beta")
	assert.Error(t, err)

	svc, ok = table.Service(id)
	require.True(t, ok)
	assert.Equal(t, "alpha", svc.Node)

	require.NoError(t, table.UnregisterService(id))
	assert.Error(t, table.UnregisterService(id))
}

func TestRemoveCircuitDropsServices(t *testing.T) {
	table := NewRoutingTable()
	testCircuit(table)
	table.RemoveCircuit("abcde-fghij")

	_, ok := table.Circuit("abcde-fghij")
	assert.False(t, ok)
	_, ok = table.Service(ServiceID{CircuitID: "abcde-fghij", ServiceID: "sv-a"})
	assert.False(t, ok)
}
