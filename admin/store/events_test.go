package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splinter/storage"
	"splinter/wire"
)

func eventStores(t *testing.T, bound int) map[string]EventStore {
	t.Helper()
	db, postgres, err := storage.Open("memory")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlStore, err := NewSQLEventStore(db, postgres, bound)
	require.NoError(t, err)
	return map[string]EventStore{
		"memory": NewMemoryEventStore(bound),
		"sql":    sqlStore,
	}
}

func eventFor(circuitID, managementType string) Event {
	return Event{
		Type: ProposalSubmitted,
		Proposal: wire.CircuitProposal{
			ProposalType: wire.ProposalTypeCreate,
			CircuitID:    circuitID,
			Circuit: wire.Circuit{
				CircuitID:             circuitID,
				CircuitManagementType: managementType,
			},
		},
	}
}

func TestEventIDsStrictlyIncreasing(t *testing.T) {
	for name, s := range eventStores(t, 0) {
		t.Run(name, func(t *testing.T) {
			var last int64
			for i := 0; i < 10; i++ {
				stored, err := s.AddEvent(eventFor("QAZED-12345", "test"))
				require.NoError(t, err)
				assert.Greater(t, stored.ID, last)
				last = stored.ID
			}

			events, err := s.ListEventsSince(3)
			require.NoError(t, err)
			prev := int64(3)
			for _, e := range events {
				assert.Greater(t, e.ID, prev)
				prev = e.ID
			}
			assert.Len(t, events, 7)
		})
	}
}

func TestBoundedStoreEvictsSmallest(t *testing.T) {
	const bound = 5
	for name, s := range eventStores(t, bound) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < bound+3; i++ {
				_, err := s.AddEvent(eventFor(fmt.Sprintf("AAAA%d-00000", i), "test"))
				require.NoError(t, err)
			}
			events, err := s.ListEventsSince(0)
			require.NoError(t, err)
			require.Len(t, events, bound)
			// the survivors are the most recent ids.
			assert.Equal(t, int64(4), events[0].ID)
			assert.Equal(t, int64(8), events[len(events)-1].ID)
		})
	}
}

func TestListByManagementType(t *testing.T) {
	for name, s := range eventStores(t, 0) {
		t.Run(name, func(t *testing.T) {
			_, err := s.AddEvent(eventFor("QAZED-12345", "test"))
			require.NoError(t, err)
			_, err = s.AddEvent(eventFor("ZXCVB-09876", "gameroom"))
			require.NoError(t, err)
			_, err = s.AddEvent(eventFor("QAZED-12345", "test"))
			require.NoError(t, err)

			events, err := s.ListEventsByManagementTypeSince("test", 0)
			require.NoError(t, err)
			require.Len(t, events, 2)
			for _, e := range events {
				assert.Equal(t, "test", e.ManagementType())
			}
		})
	}
}
