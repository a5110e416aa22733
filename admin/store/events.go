package store

import (
	"database/sql"
	"sync"

	lock "github.com/viney-shih/go-lock"

	"splinter/utils"
	"splinter/wire"
)

// MemoryEventStore is a bounded, ordered in-memory event log. When the
// bound is reached the smallest id is evicted before insertion.
type MemoryEventStore struct {
	mu     sync.Mutex
	bound  int
	nextID int64
	events []*Event
}

func NewMemoryEventStore(bound int) *MemoryEventStore {
	return &MemoryEventStore{bound: bound, nextID: 1}
}

func (s *MemoryEventStore) AddEvent(e Event) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	if s.bound > 0 && len(s.events) >= s.bound {
		s.events = s.events[1:]
	}
	stored := e
	s.events = append(s.events, &stored)
	return &stored, nil
}

func (s *MemoryEventStore) ListEventsSince(id int64) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.ID > id {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryEventStore) ListEventsByManagementTypeSince(managementType string, id int64) ([]*Event, error) {
	events, err := s.ListEventsSince(id)
	if err != nil {
		return nil, err
	}
	var out []*Event
	for _, e := range events {
		if e.ManagementType() == managementType {
			out = append(out, e)
		}
	}
	return out, nil
}

// SQLEventStore is the durable event log sharing the admin database. The
// proposal snapshot is stored as its canonical wire bytes; type and
// management type are mirrored into columns for filtered listing.
type SQLEventStore struct {
	db       *sql.DB
	postgres bool
	bound    int
	writeMu  lock.RWMutex
}

func NewSQLEventStore(db *sql.DB, postgres bool, bound int) (*SQLEventStore, error) {
	s := &SQLEventStore{db: db, postgres: postgres, bound: bound, writeMu: lock.NewCASMutex()}
	store := &SQLStore{db: db, postgres: postgres}
	if _, err := db.Exec(store.rebind(adminSchema[len(adminSchema)-1])); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to install event schema")
	}
	return s, nil
}

func (s *SQLEventStore) rebind(query string) string {
	store := &SQLStore{postgres: s.postgres}
	return store.rebind(query)
}

func (s *SQLEventStore) AddEvent(e Event) (*Event, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	blob, err := e.Proposal.MarshalWire()
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to serialize proposal snapshot")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to begin transaction")
	}
	defer tx.Rollback()

	var maxID sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(event_id) FROM admin_service_event`).Scan(&maxID); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to assign event id")
	}
	e.ID = maxID.Int64 + 1

	if s.bound > 0 {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM admin_service_event`).Scan(&count); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to count events")
		}
		if count >= s.bound {
			if _, err := tx.Exec(s.rebind(
				`DELETE FROM admin_service_event WHERE event_id =
					(SELECT MIN(event_id) FROM admin_service_event)`)); err != nil {
				return nil, utils.WrapError(utils.KindInternal, err, "unable to evict oldest event")
			}
		}
	}

	if _, err := tx.Exec(s.rebind(
		`INSERT INTO admin_service_event
			(event_id, event_type, management_type, requester_key, proposal)
			VALUES (?, ?, ?, ?, ?)`),
		e.ID, int32(e.Type), e.ManagementType(), e.RequesterKey, blob); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to insert event")
	}
	if err := tx.Commit(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to commit event")
	}
	return &e, nil
}

func (s *SQLEventStore) ListEventsSince(id int64) ([]*Event, error) {
	return s.listEvents(
		`SELECT event_id, event_type, requester_key, proposal
			FROM admin_service_event WHERE event_id > ? ORDER BY event_id`, id)
}

func (s *SQLEventStore) ListEventsByManagementTypeSince(managementType string, id int64) ([]*Event, error) {
	return s.listEvents(
		`SELECT event_id, event_type, requester_key, proposal
			FROM admin_service_event WHERE management_type = ? AND event_id > ?
			ORDER BY event_id`, managementType, id)
}

func (s *SQLEventStore) listEvents(query string, args ...interface{}) ([]*Event, error) {
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to list events")
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var eventType int32
		var blob []byte
		if err := rows.Scan(&e.ID, &eventType, &e.RequesterKey, &blob); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to scan event")
		}
		e.Type = EventType(eventType)
		var proposal wire.CircuitProposal
		if err := proposal.UnmarshalWire(blob); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to decode proposal snapshot")
		}
		e.Proposal = proposal
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to list events")
	}
	return out, nil
}
