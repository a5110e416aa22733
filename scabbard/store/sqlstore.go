package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	lock "github.com/viney-shih/go-lock"

	"splinter/scabbard/twopc"
	"splinter/utils"
	"splinter/wire"
)

const (
	eventTypeAlarm = iota + 1
	eventTypeStart
	eventTypeVote
	eventTypeDeliver
)

const (
	actionTypeUpdate = iota + 1
	actionTypeSendMessage
	actionTypeNotify
)

// SQLStore implements Store over database/sql, SQLite or Postgres.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	writeMu  lock.RWMutex
}

func NewSQLStore(db *sql.DB, postgres bool) (*SQLStore, error) {
	s := &SQLStore{db: db, postgres: postgres, writeMu: lock.NewCASMutex()}
	for _, ddl := range scabbardSchema {
		if _, err := db.Exec(s.rebind(ddl)); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to install scabbard schema")
		}
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *SQLStore) inWriteTx(fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to commit transaction")
	}
	return nil
}

/* contexts */

func (s *SQLStore) AddContext(serviceID string, ctx twopc.Context) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		// at most one context per (service, epoch), never both roles.
		for _, table := range []string{
			"consensus_2pc_coordinator_context", "consensus_2pc_participant_context",
		} {
			var one int
			err := tx.QueryRow(s.rebind(
				`SELECT 1 FROM `+table+` WHERE service_id = ? AND epoch = ?`),
				serviceID, ctx.Epoch).Scan(&one)
			if err == nil {
				return utils.Errorf(utils.KindConstraintViolation,
					"a context for %s epoch %d already exists", serviceID, ctx.Epoch)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return utils.WrapError(utils.KindInternal, err, "context existence check failed")
			}
		}
		return s.insertContext(tx, serviceID, &ctx)
	})
}

func (s *SQLStore) UpdateContext(serviceID string, ctx twopc.Context) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		if err := s.deleteContext(tx, serviceID, ctx.Epoch); err != nil {
			return err
		}
		return s.insertContext(tx, serviceID, &ctx)
	})
}

func (s *SQLStore) insertContext(tx *sql.Tx, serviceID string, ctx *twopc.Context) error {
	alarm := sql.NullInt64{}
	if ctx.Alarm != nil {
		alarm = sql.NullInt64{Int64: ctx.Alarm.UnixNano(), Valid: true}
	}
	lastCommit := sql.NullInt64{}
	if ctx.LastCommitEpoch != nil {
		lastCommit = sql.NullInt64{Int64: int64(*ctx.LastCommitEpoch), Valid: true}
	}

	switch ctx.Role {
	case twopc.RoleCoordinator:
		selfVote := sql.NullInt64{}
		if ctx.SelfVote != nil {
			selfVote = sql.NullInt64{Int64: boolInt(*ctx.SelfVote), Valid: true}
		}
		if _, err := tx.Exec(s.rebind(
			`INSERT INTO consensus_2pc_coordinator_context
				(service_id, epoch, coordinator_id, state, last_commit_epoch, value, self_vote, alarm)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			serviceID, ctx.Epoch, ctx.CoordinatorID, int(ctx.State), lastCommit,
			ctx.Value, selfVote, alarm); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to insert coordinator context")
		}
		for i, p := range ctx.Participants {
			vote := sql.NullInt64{}
			if p.Vote != nil {
				vote = sql.NullInt64{Int64: boolInt(*p.Vote), Valid: true}
			}
			if _, err := tx.Exec(s.rebind(
				`INSERT INTO consensus_2pc_coordinator_context_participant
					(service_id, epoch, process_id, vote, decision_ack, position)
					VALUES (?, ?, ?, ?, ?, ?)`),
				serviceID, ctx.Epoch, p.ProcessID, vote, boolInt(p.DecisionAck), i); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert coordinator participant")
			}
		}
		return nil

	case twopc.RoleParticipant:
		voteDecision := sql.NullInt64{}
		if ctx.VoteDecision != nil {
			voteDecision = sql.NullInt64{Int64: boolInt(*ctx.VoteDecision), Valid: true}
		}
		timeoutStart := sql.NullInt64{}
		if !ctx.DecisionTimeoutStart.IsZero() {
			timeoutStart = sql.NullInt64{Int64: ctx.DecisionTimeoutStart.UnixNano(), Valid: true}
		}
		if _, err := tx.Exec(s.rebind(
			`INSERT INTO consensus_2pc_participant_context
				(service_id, epoch, coordinator_id, state, last_commit_epoch, value,
				 vote_decision, decision_timeout_start, alarm)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			serviceID, ctx.Epoch, ctx.CoordinatorID, int(ctx.State), lastCommit,
			ctx.Value, voteDecision, timeoutStart, alarm); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to insert participant context")
		}
		for i, p := range ctx.Participants {
			if _, err := tx.Exec(s.rebind(
				`INSERT INTO consensus_2pc_participant_context_participant
					(service_id, epoch, process_id, position)
					VALUES (?, ?, ?, ?)`),
				serviceID, ctx.Epoch, p.ProcessID, i); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert participant process")
			}
		}
		return nil

	default:
		return utils.NewError(utils.KindInvalidState, "context has no role")
	}
}

func (s *SQLStore) deleteContext(tx *sql.Tx, serviceID string, epoch uint64) error {
	for _, table := range []string{
		"consensus_2pc_coordinator_context",
		"consensus_2pc_coordinator_context_participant",
		"consensus_2pc_participant_context",
		"consensus_2pc_participant_context_participant",
	} {
		if _, err := tx.Exec(s.rebind(
			`DELETE FROM `+table+` WHERE service_id = ? AND epoch = ?`),
			serviceID, epoch); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to delete context rows")
		}
	}
	return nil
}

func (s *SQLStore) FetchContext(serviceID string, epoch uint64) (*twopc.Context, error) {
	ctx, err := s.scanCoordinatorContext(serviceID, epoch)
	if err == nil {
		return ctx, nil
	}
	if !utils.IsNotFound(err) {
		return nil, err
	}
	return s.scanParticipantContext(serviceID, epoch)
}

func (s *SQLStore) LatestContext(serviceID string) (*twopc.Context, error) {
	var epoch uint64
	var found bool
	for _, table := range []string{
		"consensus_2pc_coordinator_context", "consensus_2pc_participant_context",
	} {
		var max sql.NullInt64
		if err := s.db.QueryRow(s.rebind(
			`SELECT MAX(epoch) FROM `+table+` WHERE service_id = ?`), serviceID).Scan(&max); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to find latest epoch")
		}
		if max.Valid && (!found || uint64(max.Int64) > epoch) {
			epoch = uint64(max.Int64)
			found = true
		}
	}
	if !found {
		return nil, utils.Errorf(utils.KindNotFound, "no contexts for service %s", serviceID)
	}
	return s.FetchContext(serviceID, epoch)
}

func (s *SQLStore) scanCoordinatorContext(serviceID string, epoch uint64) (*twopc.Context, error) {
	ctx := &twopc.Context{Role: twopc.RoleCoordinator, Epoch: epoch}
	var state int
	var lastCommit, selfVote, alarm sql.NullInt64
	err := s.db.QueryRow(s.rebind(
		`SELECT coordinator_id, state, last_commit_epoch, value, self_vote, alarm
			FROM consensus_2pc_coordinator_context WHERE service_id = ? AND epoch = ?`),
		serviceID, epoch).
		Scan(&ctx.CoordinatorID, &state, &lastCommit, &ctx.Value, &selfVote, &alarm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Errorf(utils.KindNotFound, "no coordinator context for %s epoch %d", serviceID, epoch)
	}
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch coordinator context")
	}
	ctx.State = twopc.State(state)
	applyNullables(ctx, lastCommit, alarm)
	if selfVote.Valid {
		v := selfVote.Int64 != 0
		ctx.SelfVote = &v
	}

	rows, err := s.db.Query(s.rebind(
		`SELECT process_id, vote, decision_ack
			FROM consensus_2pc_coordinator_context_participant
			WHERE service_id = ? AND epoch = ? ORDER BY position`), serviceID, epoch)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch participants")
	}
	defer rows.Close()
	for rows.Next() {
		var p twopc.Participant
		var vote sql.NullInt64
		var ack int
		if err := rows.Scan(&p.ProcessID, &vote, &ack); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to scan participant")
		}
		if vote.Valid {
			v := vote.Int64 != 0
			p.Vote = &v
		}
		p.DecisionAck = ack != 0
		ctx.Participants = append(ctx.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch participants")
	}
	return ctx, nil
}

func (s *SQLStore) scanParticipantContext(serviceID string, epoch uint64) (*twopc.Context, error) {
	ctx := &twopc.Context{Role: twopc.RoleParticipant, Epoch: epoch}
	var state int
	var lastCommit, voteDecision, timeoutStart, alarm sql.NullInt64
	err := s.db.QueryRow(s.rebind(
		`SELECT coordinator_id, state, last_commit_epoch, value, vote_decision,
			decision_timeout_start, alarm
			FROM consensus_2pc_participant_context WHERE service_id = ? AND epoch = ?`),
		serviceID, epoch).
		Scan(&ctx.CoordinatorID, &state, &lastCommit, &ctx.Value, &voteDecision, &timeoutStart, &alarm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Errorf(utils.KindNotFound, "no context for %s epoch %d", serviceID, epoch)
	}
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch participant context")
	}
	ctx.State = twopc.State(state)
	applyNullables(ctx, lastCommit, alarm)
	if voteDecision.Valid {
		v := voteDecision.Int64 != 0
		ctx.VoteDecision = &v
	}
	if timeoutStart.Valid {
		ctx.DecisionTimeoutStart = time.Unix(0, timeoutStart.Int64)
	}

	rows, err := s.db.Query(s.rebind(
		`SELECT process_id FROM consensus_2pc_participant_context_participant
			WHERE service_id = ? AND epoch = ? ORDER BY position`), serviceID, epoch)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch processes")
	}
	defer rows.Close()
	for rows.Next() {
		var p twopc.Participant
		if err := rows.Scan(&p.ProcessID); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to scan process")
		}
		ctx.Participants = append(ctx.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch processes")
	}
	return ctx, nil
}

func applyNullables(ctx *twopc.Context, lastCommit, alarm sql.NullInt64) {
	if lastCommit.Valid {
		v := uint64(lastCommit.Int64)
		ctx.LastCommitEpoch = &v
	}
	if alarm.Valid {
		t := time.Unix(0, alarm.Int64)
		ctx.Alarm = &t
	}
}

/* events */

func (s *SQLStore) AddEvent(serviceID string, epoch uint64, event twopc.Event) (int64, error) {
	var id int64
	err := s.inWriteTx(func(tx *sql.Tx) error {
		var err error
		id, err = s.nextID(tx, "two_pc_consensus_event")
		if err != nil {
			return err
		}
		position, err := s.nextPosition(tx, "two_pc_consensus_event", serviceID, epoch)
		if err != nil {
			return err
		}

		eventType := 0
		switch event.(type) {
		case twopc.Alarm:
			eventType = eventTypeAlarm
		case twopc.Start:
			eventType = eventTypeStart
		case twopc.Vote:
			eventType = eventTypeVote
		case twopc.Deliver:
			eventType = eventTypeDeliver
		default:
			return utils.Errorf(utils.KindInvalidState, "unknown event type %T", event)
		}

		if _, err := tx.Exec(s.rebind(
			`INSERT INTO two_pc_consensus_event (id, service_id, epoch, position, event_type)
				VALUES (?, ?, ?, ?, ?)`),
			id, serviceID, epoch, position, eventType); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to insert event")
		}

		switch ev := event.(type) {
		case twopc.Start:
			if _, err := tx.Exec(s.rebind(
				`INSERT INTO two_pc_consensus_start_event (event_id, value) VALUES (?, ?)`),
				id, ev.Value); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert start event")
			}
		case twopc.Vote:
			if _, err := tx.Exec(s.rebind(
				`INSERT INTO two_pc_consensus_vote_event (event_id, decision) VALUES (?, ?)`),
				id, boolInt(ev.Decision)); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert vote event")
			}
		case twopc.Deliver:
			blob, err := ev.Message.MarshalWire()
			if err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to serialize message")
			}
			if _, err := tx.Exec(s.rebind(
				`INSERT INTO two_pc_consensus_deliver_event (event_id, from_process, message)
					VALUES (?, ?, ?)`),
				id, ev.From, blob); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert deliver event")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLStore) ListPendingEvents(serviceID string, epoch uint64) ([]StoredEvent, error) {
	rows, err := s.db.Query(s.rebind(
		`SELECT id, event_type FROM two_pc_consensus_event
			WHERE service_id = ? AND epoch = ? AND executed_at IS NULL
			ORDER BY position`), serviceID, epoch)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to list events")
	}
	type header struct {
		id        int64
		eventType int
	}
	var headers []header
	for rows.Next() {
		var h header
		if err := rows.Scan(&h.id, &h.eventType); err != nil {
			rows.Close()
			return nil, utils.WrapError(utils.KindInternal, err, "unable to scan event")
		}
		headers = append(headers, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to list events")
	}

	out := make([]StoredEvent, 0, len(headers))
	for _, h := range headers {
		event, err := s.hydrateEvent(h.id, h.eventType)
		if err != nil {
			return nil, err
		}
		out = append(out, StoredEvent{ID: h.id, Epoch: epoch, Event: event})
	}
	return out, nil
}

func (s *SQLStore) hydrateEvent(id int64, eventType int) (twopc.Event, error) {
	switch eventType {
	case eventTypeAlarm:
		return twopc.Alarm{}, nil
	case eventTypeStart:
		var value []byte
		err := s.db.QueryRow(s.rebind(
			`SELECT value FROM two_pc_consensus_start_event WHERE event_id = ?`), id).Scan(&value)
		if err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to hydrate start event")
		}
		return twopc.Start{Value: value}, nil
	case eventTypeVote:
		var decision int
		err := s.db.QueryRow(s.rebind(
			`SELECT decision FROM two_pc_consensus_vote_event WHERE event_id = ?`), id).Scan(&decision)
		if err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to hydrate vote event")
		}
		return twopc.Vote{Decision: decision != 0}, nil
	case eventTypeDeliver:
		var from string
		var blob []byte
		err := s.db.QueryRow(s.rebind(
			`SELECT from_process, message FROM two_pc_consensus_deliver_event WHERE event_id = ?`), id).
			Scan(&from, &blob)
		if err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to hydrate deliver event")
		}
		var msg wire.TwoPhaseCommitMessage
		if err := msg.UnmarshalWire(blob); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to decode message")
		}
		return twopc.Deliver{From: from, Message: msg}, nil
	default:
		return nil, utils.Errorf(utils.KindInternal, "unknown stored event type %d", eventType)
	}
}

func (s *SQLStore) MarkEventExecuted(id int64, at time.Time) error {
	return s.mark("two_pc_consensus_event", id, at)
}

/* actions */

// updateActionBlob is the serialized form of an Update action's context.
type updateActionBlob struct {
	Context contextBlob `json:"context"`
}

type contextBlob struct {
	Role            int               `json:"role"`
	Epoch           uint64            `json:"epoch"`
	CoordinatorID   string            `json:"coordinator_id"`
	Participants    []participantBlob `json:"participants"`
	State           int               `json:"state"`
	LastCommitEpoch *uint64           `json:"last_commit_epoch,omitempty"`
	Value           []byte            `json:"value,omitempty"`
	SelfVote        *bool             `json:"self_vote,omitempty"`
	VoteDecision    *bool             `json:"vote_decision,omitempty"`
	TimeoutStartNs  int64             `json:"decision_timeout_start_ns,omitempty"`
	AlarmNs         *int64            `json:"alarm_ns,omitempty"`
}

type participantBlob struct {
	ProcessID   string `json:"process_id"`
	Vote        *bool  `json:"vote,omitempty"`
	DecisionAck bool   `json:"decision_ack,omitempty"`
}

func encodeContext(ctx *twopc.Context) ([]byte, error) {
	blob := contextBlob{
		Role:            int(ctx.Role),
		Epoch:           ctx.Epoch,
		CoordinatorID:   ctx.CoordinatorID,
		State:           int(ctx.State),
		LastCommitEpoch: ctx.LastCommitEpoch,
		Value:           ctx.Value,
		SelfVote:        ctx.SelfVote,
		VoteDecision:    ctx.VoteDecision,
	}
	if !ctx.DecisionTimeoutStart.IsZero() {
		blob.TimeoutStartNs = ctx.DecisionTimeoutStart.UnixNano()
	}
	if ctx.Alarm != nil {
		ns := ctx.Alarm.UnixNano()
		blob.AlarmNs = &ns
	}
	for _, p := range ctx.Participants {
		blob.Participants = append(blob.Participants, participantBlob{
			ProcessID: p.ProcessID, Vote: p.Vote, DecisionAck: p.DecisionAck,
		})
	}
	return json.Marshal(updateActionBlob{Context: blob})
}

func decodeContext(data []byte) (*twopc.Context, error) {
	var wrapper updateActionBlob
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to decode context blob")
	}
	blob := wrapper.Context
	ctx := &twopc.Context{
		Role:            twopc.Role(blob.Role),
		Epoch:           blob.Epoch,
		CoordinatorID:   blob.CoordinatorID,
		State:           twopc.State(blob.State),
		LastCommitEpoch: blob.LastCommitEpoch,
		Value:           blob.Value,
		SelfVote:        blob.SelfVote,
		VoteDecision:    blob.VoteDecision,
	}
	if blob.TimeoutStartNs != 0 {
		ctx.DecisionTimeoutStart = time.Unix(0, blob.TimeoutStartNs)
	}
	if blob.AlarmNs != nil {
		t := time.Unix(0, *blob.AlarmNs)
		ctx.Alarm = &t
	}
	for _, p := range blob.Participants {
		ctx.Participants = append(ctx.Participants, twopc.Participant{
			ProcessID: p.ProcessID, Vote: p.Vote, DecisionAck: p.DecisionAck,
		})
	}
	return ctx, nil
}

func (s *SQLStore) AddAction(serviceID string, epoch uint64, action twopc.Action) (int64, error) {
	var id int64
	err := s.inWriteTx(func(tx *sql.Tx) error {
		var err error
		id, err = s.nextID(tx, "two_pc_consensus_action")
		if err != nil {
			return err
		}
		position, err := s.nextPosition(tx, "two_pc_consensus_action", serviceID, epoch)
		if err != nil {
			return err
		}

		actionType := 0
		switch action.(type) {
		case twopc.Update:
			actionType = actionTypeUpdate
		case twopc.SendMessage:
			actionType = actionTypeSendMessage
		case twopc.Notify:
			actionType = actionTypeNotify
		default:
			return utils.Errorf(utils.KindInvalidState, "unknown action type %T", action)
		}

		if _, err := tx.Exec(s.rebind(
			`INSERT INTO two_pc_consensus_action (id, service_id, epoch, position, action_type)
				VALUES (?, ?, ?, ?, ?)`),
			id, serviceID, epoch, position, actionType); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to insert action")
		}

		switch act := action.(type) {
		case twopc.Update:
			blob, err := encodeContext(&act.Context)
			if err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to serialize context")
			}
			if _, err := tx.Exec(s.rebind(
				`INSERT INTO two_pc_consensus_update_action (action_id, context) VALUES (?, ?)`),
				id, blob); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert update action")
			}
		case twopc.SendMessage:
			blob, err := act.Message.MarshalWire()
			if err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to serialize message")
			}
			if _, err := tx.Exec(s.rebind(
				`INSERT INTO two_pc_consensus_send_message_action (action_id, to_process, message)
					VALUES (?, ?, ?)`),
				id, act.To, blob); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert send action")
			}
		case twopc.Notify:
			if _, err := tx.Exec(s.rebind(
				`INSERT INTO two_pc_consensus_notify_action (action_id, notification_type, value)
					VALUES (?, ?, ?)`),
				id, int(act.Notification), act.Value); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert notify action")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLStore) ListPendingActions(serviceID string, epoch uint64) ([]StoredAction, error) {
	rows, err := s.db.Query(s.rebind(
		`SELECT id, action_type FROM two_pc_consensus_action
			WHERE service_id = ? AND epoch = ? AND executed_at IS NULL
			ORDER BY position`), serviceID, epoch)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to list actions")
	}
	type header struct {
		id         int64
		actionType int
	}
	var headers []header
	for rows.Next() {
		var h header
		if err := rows.Scan(&h.id, &h.actionType); err != nil {
			rows.Close()
			return nil, utils.WrapError(utils.KindInternal, err, "unable to scan action")
		}
		headers = append(headers, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to list actions")
	}

	out := make([]StoredAction, 0, len(headers))
	for _, h := range headers {
		action, err := s.hydrateAction(h.id, h.actionType)
		if err != nil {
			return nil, err
		}
		out = append(out, StoredAction{ID: h.id, Epoch: epoch, Action: action})
	}
	return out, nil
}

func (s *SQLStore) hydrateAction(id int64, actionType int) (twopc.Action, error) {
	switch actionType {
	case actionTypeUpdate:
		var blob []byte
		err := s.db.QueryRow(s.rebind(
			`SELECT context FROM two_pc_consensus_update_action WHERE action_id = ?`), id).Scan(&blob)
		if err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to hydrate update action")
		}
		ctx, err := decodeContext(blob)
		if err != nil {
			return nil, err
		}
		return twopc.Update{Context: *ctx}, nil
	case actionTypeSendMessage:
		var to string
		var blob []byte
		err := s.db.QueryRow(s.rebind(
			`SELECT to_process, message FROM two_pc_consensus_send_message_action WHERE action_id = ?`), id).
			Scan(&to, &blob)
		if err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to hydrate send action")
		}
		var msg wire.TwoPhaseCommitMessage
		if err := msg.UnmarshalWire(blob); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to decode message")
		}
		return twopc.SendMessage{To: to, Message: msg}, nil
	case actionTypeNotify:
		var notificationType int
		var value []byte
		err := s.db.QueryRow(s.rebind(
			`SELECT notification_type, value FROM two_pc_consensus_notify_action WHERE action_id = ?`), id).
			Scan(&notificationType, &value)
		if err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to hydrate notify action")
		}
		return twopc.Notify{Notification: twopc.NotificationType(notificationType), Value: value}, nil
	default:
		return nil, utils.Errorf(utils.KindInternal, "unknown stored action type %d", actionType)
	}
}

func (s *SQLStore) MarkActionExecuted(id int64, at time.Time) error {
	return s.mark("two_pc_consensus_action", id, at)
}

func (s *SQLStore) AddSupervisorNotification(n SupervisorNotification) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		id, err := s.nextID(tx, "supervisor_notification")
		if err != nil {
			return err
		}
		createdAt := n.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.Exec(s.rebind(
			`INSERT INTO supervisor_notification
				(id, service_id, epoch, notification_type, value, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`),
			id, n.ServiceID, n.Epoch, int(n.Type), n.Value, createdAt.UnixNano()); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to insert supervisor notification")
		}
		return nil
	})
}

/* shared */

func (s *SQLStore) nextID(tx *sql.Tx, table string) (int64, error) {
	var max sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(id) FROM ` + table).Scan(&max); err != nil {
		return 0, utils.WrapError(utils.KindInternal, err, "unable to assign id")
	}
	return max.Int64 + 1, nil
}

func (s *SQLStore) nextPosition(tx *sql.Tx, table, serviceID string, epoch uint64) (int64, error) {
	var max sql.NullInt64
	if err := tx.QueryRow(s.rebind(
		`SELECT MAX(position) FROM `+table+` WHERE service_id = ? AND epoch = ?`),
		serviceID, epoch).Scan(&max); err != nil {
		return 0, utils.WrapError(utils.KindInternal, err, "unable to assign position")
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64 + 1, nil
}

func (s *SQLStore) mark(table string, id int64, at time.Time) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(s.rebind(
			`UPDATE `+table+` SET executed_at = ? WHERE id = ?`), at.UnixNano(), id)
		if err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to mark executed")
		}
		affected, err := res.RowsAffected()
		if err == nil && affected == 0 {
			return utils.Errorf(utils.KindNotFound, "no entry %d in %s", id, table)
		}
		return nil
	})
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
