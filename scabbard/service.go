// Package scabbard runs one two-phase-commit service instance per circuit
// service. Batches are opaque values decided by the 2PC engine; every
// event and action is persisted before it is acted on, so a restarted
// instance resumes from its store.
package scabbard

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"splinter/circuit"
	scabbardstore "splinter/scabbard/store"
	"splinter/scabbard/twopc"
	"splinter/utils"
	"splinter/wire"
)

// ServiceNetwork delivers service-to-service messages over the circuit
// plane.
type ServiceNetwork interface {
	SendServiceMessage(from, to circuit.ServiceID, payload []byte) error
}

// CircuitStatusFn reports the current status of the owning circuit.
type CircuitStatusFn func() wire.CircuitStatus

// Service is one scabbard instance.
type Service struct {
	logger    *zap.Logger
	circuitID string
	serviceID string

	// roster is every scabbard service id on the circuit, sorted; the
	// smallest id coordinates.
	roster  []string
	store   scabbardstore.Store
	commits *scabbardstore.CommitLog
	algo    *twopc.Algorithm
	network ServiceNetwork
	status  CircuitStatusFn

	commands chan func()
	done     chan struct{}
	stopped  chan struct{}

	// engine state, owned by the run goroutine.
	ctx         twopc.Context
	pending     [][]byte
	alarmTimer  *time.Timer
	seenDeliver map[deliverKey]bool
}

type deliverKey struct {
	epoch  uint64
	sender string
	kind   wire.TwoPhaseCommitMessageType
}

func NewService(
	logger *zap.Logger,
	circuitID, serviceID string,
	roster []string,
	st scabbardstore.Store,
	commits *scabbardstore.CommitLog,
	network ServiceNetwork,
	status CircuitStatusFn,
) *Service {
	sorted := append([]string(nil), roster...)
	sort.Strings(sorted)
	return &Service{
		logger:      logger.With(zap.String("circuit", circuitID), zap.String("service_id", serviceID)),
		circuitID:   circuitID,
		serviceID:   serviceID,
		roster:      sorted,
		store:       st,
		commits:     commits,
		algo:        twopc.NewAlgorithm(),
		network:     network,
		status:      status,
		commands:    make(chan func(), 64),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		seenDeliver: make(map[deliverKey]bool),
	}
}

func (s *Service) coordinatorID() string { return s.roster[0] }

func (s *Service) isCoordinator() bool { return s.serviceID == s.coordinatorID() }

// storeKey addresses this instance's rows in the scabbard store.
func (s *Service) storeKey() string { return s.circuitID + "::" + s.serviceID }

func (s *Service) otherServices() []string {
	out := make([]string, 0, len(s.roster)-1)
	for _, id := range s.roster {
		if id != s.serviceID {
			out = append(out, id)
		}
	}
	return out
}

// participantProcesses lists the non-coordinator processes.
func (s *Service) participantProcesses() []string {
	out := make([]string, 0, len(s.roster)-1)
	for _, id := range s.roster {
		if id != s.coordinatorID() {
			out = append(out, id)
		}
	}
	return out
}

// Start recovers state and launches the runner.
func (s *Service) Start() error {
	latest, err := s.store.LatestContext(s.storeKey())
	switch {
	case err == nil:
		s.ctx = *latest
	case utils.IsNotFound(err):
		var lastCommit *uint64
		if epoch, _, ok, logErr := s.commits.LastCommit(); logErr == nil && ok {
			lastCommit = &epoch
		} else if logErr != nil {
			return logErr
		}
		s.ctx = s.freshContext(1, lastCommit)
		if err := s.store.AddContext(s.storeKey(), s.ctx); err != nil {
			return err
		}
	default:
		return err
	}

	go s.run()

	// resume any work persisted before a crash.
	s.enqueue(func() {
		s.executePendingActions()
		s.processPendingEvents()
	})
	return nil
}

// Shutdown stops the runner.
func (s *Service) Shutdown() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	<-s.stopped
}

func (s *Service) freshContext(epoch uint64, lastCommit *uint64) twopc.Context {
	if s.isCoordinator() {
		return twopc.NewCoordinatorContext(epoch, s.coordinatorID(), s.participantProcesses(), lastCommit)
	}
	return twopc.NewParticipantContext(epoch, s.coordinatorID(), s.participantProcesses(), lastCommit)
}

func (s *Service) enqueue(fn func()) {
	select {
	case s.commands <- fn:
	case <-s.done:
	}
}

func (s *Service) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			if s.alarmTimer != nil {
				s.alarmTimer.Stop()
			}
			return
		case fn := <-s.commands:
			fn()
		}
	}
}

// SubmitBatch admits an opaque batch for consensus. The owning circuit
// must be active.
func (s *Service) SubmitBatch(batch []byte) error {
	if status := s.status(); status != wire.CircuitStatusActive {
		return utils.Errorf(utils.KindInvalidState,
			"circuit %s is %s; batches are not accepted", s.circuitID, status)
	}

	if !s.isCoordinator() {
		// forward to the coordinating service.
		msg := wire.ScabbardMessage{MessageType: wire.ScabbardBatchSubmit, Batch: batch}
		payload, err := msg.MarshalWire()
		if err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to serialize batch")
		}
		return s.network.SendServiceMessage(
			circuit.ServiceID{CircuitID: s.circuitID, ServiceID: s.serviceID},
			circuit.ServiceID{CircuitID: s.circuitID, ServiceID: s.coordinatorID()},
			payload,
		)
	}

	errCh := make(chan error, 1)
	s.enqueue(func() { errCh <- s.admitBatch(batch) })
	select {
	case err := <-errCh:
		return err
	case <-s.done:
		return utils.NewError(utils.KindInvalidState, "service stopped")
	}
}

// admitBatch queues the value and starts a round when idle. Runner
// goroutine only.
func (s *Service) admitBatch(batch []byte) error {
	s.pending = append(s.pending, batch)
	return s.maybeStartRound()
}

func (s *Service) maybeStartRound() error {
	if !s.isCoordinator() || s.ctx.State != twopc.WaitingForStart || len(s.pending) == 0 {
		return nil
	}
	value := s.pending[0]
	s.pending = s.pending[1:]
	if _, err := s.store.AddEvent(s.storeKey(), s.ctx.Epoch, twopc.Start{Value: value}); err != nil {
		return err
	}
	s.processPendingEvents()
	return nil
}

// HandleServiceMessage implements circuit.ServiceReceiver for this
// instance.
func (s *Service) HandleServiceMessage(from, to circuit.ServiceID, payload []byte) error {
	var msg wire.ScabbardMessage
	if err := msg.UnmarshalWire(payload); err != nil {
		return utils.WrapError(utils.KindProtocol, err, "malformed scabbard message")
	}

	switch msg.MessageType {
	case wire.ScabbardBatchSubmit:
		if !s.isCoordinator() {
			return utils.NewError(utils.KindInvalidState, "batch submitted to a non-coordinator")
		}
		batch := msg.Batch
		s.enqueue(func() {
			if err := s.admitBatch(batch); err != nil {
				s.logger.Error("unable to admit forwarded batch", zap.Error(err))
			}
		})
		return nil

	case wire.ScabbardConsensusMessage:
		if msg.Consensus == nil {
			return utils.NewError(utils.KindProtocol, "consensus message without body")
		}
		consensus := *msg.Consensus
		sender := from.ServiceID
		s.enqueue(func() {
			key := deliverKey{epoch: consensus.Epoch, sender: sender, kind: consensus.MessageType}
			if s.seenDeliver[key] && consensus.MessageType != wire.TwoPCDecisionRequest {
				// duplicate delivery by (epoch, sender, kind); drop.
				return
			}
			s.seenDeliver[key] = true
			if _, err := s.store.AddEvent(s.storeKey(), s.ctx.Epoch,
				twopc.Deliver{From: sender, Message: consensus}); err != nil {
				s.logger.Error("unable to persist deliver event", zap.Error(err))
				return
			}
			s.processPendingEvents()
		})
		return nil

	default:
		return utils.Errorf(utils.KindProtocol, "unknown scabbard message type %d", msg.MessageType)
	}
}

// processPendingEvents drains the store's unexecuted events through the
// engine. Runner goroutine only.
func (s *Service) processPendingEvents() {
	for {
		events, err := s.store.ListPendingEvents(s.storeKey(), s.ctx.Epoch)
		if err != nil {
			s.logger.Error("unable to list pending events", zap.Error(err))
			return
		}
		if len(events) == 0 {
			return
		}
		for _, stored := range events {
			actions, err := s.algo.Event(s.ctx, stored.Event)
			if err != nil {
				// unexpected for the current state: log and drop.
				s.logger.Debug("dropping event", zap.Error(err))
			} else {
				for _, action := range actions {
					if _, err := s.store.AddAction(s.storeKey(), s.ctx.Epoch, action); err != nil {
						s.logger.Error("unable to persist action", zap.Error(err))
						return
					}
				}
			}
			if err := s.store.MarkEventExecuted(stored.ID, time.Now()); err != nil {
				s.logger.Error("unable to mark event executed", zap.Error(err))
				return
			}
			s.executePendingActions()
		}
	}
}

// executePendingActions runs every persisted-but-unexecuted action.
// Runner goroutine only.
func (s *Service) executePendingActions() {
	actions, err := s.store.ListPendingActions(s.storeKey(), s.ctx.Epoch)
	if err != nil {
		s.logger.Error("unable to list pending actions", zap.Error(err))
		return
	}
	for _, stored := range actions {
		if err := s.executeAction(stored.Action); err != nil {
			s.logger.Error("action failed", zap.Error(err))
		}
		if err := s.store.MarkActionExecuted(stored.ID, time.Now()); err != nil {
			s.logger.Error("unable to mark action executed", zap.Error(err))
			return
		}
	}
}

func (s *Service) executeAction(action twopc.Action) error {
	switch act := action.(type) {
	case twopc.Update:
		s.ctx = act.Context
		if err := s.store.UpdateContext(s.storeKey(), s.ctx); err != nil {
			return err
		}
		s.programAlarm(s.ctx.Alarm)
		if s.ctx.State.Terminal() {
			s.rollEpoch()
		}
		return nil

	case twopc.SendMessage:
		msg := wire.ScabbardMessage{MessageType: wire.ScabbardConsensusMessage, Consensus: &act.Message}
		payload, err := msg.MarshalWire()
		if err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to serialize consensus message")
		}
		return s.network.SendServiceMessage(
			circuit.ServiceID{CircuitID: s.circuitID, ServiceID: s.serviceID},
			circuit.ServiceID{CircuitID: s.circuitID, ServiceID: act.To},
			payload,
		)

	case twopc.Notify:
		return s.handleNotify(act)

	default:
		return utils.Errorf(utils.KindInternal, "unknown action %T", action)
	}
}

func (s *Service) handleNotify(act twopc.Notify) error {
	notification := scabbardstore.SupervisorNotification{
		ServiceID: s.storeKey(),
		Epoch:     s.ctx.Epoch,
		Value:     act.Value,
		CreatedAt: time.Now(),
	}
	switch act.Notification {
	case twopc.RequestForStart:
		notification.Type = scabbardstore.SupervisorRequestForStart
	case twopc.CoordinatorRequestForVote:
		notification.Type = scabbardstore.SupervisorCoordinatorRequestForVote
		// the application layer approves well-formed batches.
		defer s.autoVote()
	case twopc.ParticipantRequestForVote:
		notification.Type = scabbardstore.SupervisorParticipantRequestForVote
		defer s.autoVote()
	case twopc.NotifyCommit:
		notification.Type = scabbardstore.SupervisorCommit
		s.commits.Append(s.ctx.Epoch, act.Value)
	case twopc.NotifyAbort:
		notification.Type = scabbardstore.SupervisorAbort
	}
	return s.store.AddSupervisorNotification(notification)
}

// autoVote records the local yes vote as an event for the current epoch.
func (s *Service) autoVote() {
	if _, err := s.store.AddEvent(s.storeKey(), s.ctx.Epoch, twopc.Vote{Decision: true}); err != nil {
		s.logger.Error("unable to persist vote event", zap.Error(err))
	}
}

// rollEpoch retires a terminal context and opens the next epoch.
func (s *Service) rollEpoch() {
	next := s.freshContext(s.ctx.Epoch+1, s.ctx.LastCommitEpoch)
	if err := s.store.AddContext(s.storeKey(), next); err != nil {
		s.logger.Error("unable to open next epoch", zap.Error(err))
		return
	}
	s.ctx = next
	s.programAlarm(nil)
	if err := s.maybeStartRound(); err != nil {
		s.logger.Error("unable to start next round", zap.Error(err))
	}
}

// programAlarm points the single alarm timer at the context deadline.
func (s *Service) programAlarm(at *time.Time) {
	if s.alarmTimer != nil {
		s.alarmTimer.Stop()
		s.alarmTimer = nil
	}
	if at == nil {
		return
	}
	epoch := s.ctx.Epoch
	delay := time.Until(*at)
	if delay < 0 {
		delay = 0
	}
	s.alarmTimer = time.AfterFunc(delay, func() {
		s.enqueue(func() {
			if s.ctx.Epoch != epoch || s.ctx.Alarm == nil {
				// the round moved on before the timer fired.
				return
			}
			if _, err := s.store.AddEvent(s.storeKey(), s.ctx.Epoch, twopc.Alarm{}); err != nil {
				s.logger.Error("unable to persist alarm event", zap.Error(err))
				return
			}
			s.processPendingEvents()
		})
	})
}

// LastCommit exposes the most recent committed epoch and value.
func (s *Service) LastCommit() (uint64, []byte, bool, error) {
	return s.commits.LastCommit()
}

// AwaitCommit blocks until an epoch at or above epoch commits.
func (s *Service) AwaitCommit(epoch uint64, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		last, _, ok, err := s.commits.LastCommit()
		if err != nil {
			return err
		}
		if ok && last >= epoch {
			return nil
		}
		select {
		case <-deadline:
			return utils.Errorf(utils.KindNotFound, "no commit at epoch %d within %s", epoch, timeout)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
