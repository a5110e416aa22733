// Package admin implements the circuit lifecycle: proposal submission,
// vote collection, unanimous commit, disband, abandon, and purge. The
// service is a state machine replicated on every member node; peers
// exchange signed CircuitManagementPayloads over the virtual admin circuit
// and converge by applying them in the same way.
package admin

import (
	"sort"

	"go.uber.org/zap"

	"splinter/admin/store"
	"splinter/configs"
	"splinter/network/dispatch"
	"splinter/utils"
	"splinter/wire"
)

// PeerConnector lets the admin service establish sessions with proposal
// members before messaging them.
type PeerConnector interface {
	EnsurePeer(nodeID string, endpoints []string) error
}

// Service is the admin service of one node.
type Service struct {
	logger *zap.Logger
	nodeID string
	keys   KeyRegistry
	store  store.Store
	events *EventBus
	table  RoutingWriter
	sender dispatch.MessageSender
	peers  PeerConnector

	commands chan serviceCommand
	done     chan struct{}
	stopped  chan struct{}
}

// RoutingWriter is the slice of the routing table the admin service
// writes.
type RoutingWriter interface {
	AddCircuit(c CircuitRouting)
	RemoveCircuit(circuitID string)
	SetCircuitStatus(circuitID string, status wire.CircuitStatus) error
}

// CircuitRouting is the routing-table projection of a committed circuit.
type CircuitRouting struct {
	Circuit  *wire.Circuit
	Services []wire.SplinterService
}

type serviceCommand struct {
	payload      *wire.CircuitManagementPayload
	fromNode     string
	local        bool
	expectedHash string
	reply        chan error
}

func NewService(
	logger *zap.Logger,
	nodeID string,
	keys KeyRegistry,
	adminStore store.Store,
	events *EventBus,
	table RoutingWriter,
	sender dispatch.MessageSender,
	peers PeerConnector,
) *Service {
	return &Service{
		logger:   logger,
		nodeID:   nodeID,
		keys:     keys,
		store:    adminStore,
		events:   events,
		table:    table,
		sender:   sender,
		peers:    peers,
		commands: make(chan serviceCommand, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the service goroutine and restores routing state for
// already-committed circuits (crash recovery).
func (s *Service) Start() error {
	circuits, err := s.store.ListCircuits()
	if err != nil {
		return err
	}
	for _, c := range circuits {
		s.installRouting(c)
	}
	go s.run()
	return nil
}

// Shutdown stops the service goroutine.
func (s *Service) Shutdown() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	<-s.stopped
}

// Events exposes the event bus.
func (s *Service) Events() *EventBus { return s.events }

// Store exposes the admin store for read paths (client, REST glue).
func (s *Service) Store() store.Store { return s.store }

// SubmitPayload runs a locally produced payload through the state machine.
// The call is synchronous: validation errors surface to the caller.
func (s *Service) SubmitPayload(payload *wire.CircuitManagementPayload) error {
	reply := make(chan error, 1)
	cmd := serviceCommand{payload: payload, fromNode: s.nodeID, local: true, reply: reply}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return utils.NewError(utils.KindInvalidState, "admin service stopped")
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return utils.NewError(utils.KindInvalidState, "admin service stopped")
	}
}

// HandleAdminMessage consumes an AdminDirectMessage payload from a peer
// admin service. Implements circuit.AdminReceiver.
func (s *Service) HandleAdminMessage(fromNode string, payload []byte) error {
	var msg wire.AdminMessage
	if err := msg.UnmarshalWire(payload); err != nil {
		return utils.WrapError(utils.KindProtocol, err, "malformed admin message")
	}

	switch msg.MessageType {
	case wire.ProposedCircuitType:
		if msg.Proposed == nil {
			return utils.NewError(utils.KindProtocol, "proposed circuit message without payload")
		}
		s.enqueue(serviceCommand{
			payload:      &msg.Proposed.Payload,
			fromNode:     fromNode,
			expectedHash: msg.Proposed.ExpectedHash,
		})
	case wire.MemberReadyType:
		if msg.Payload == nil {
			s.logger.Debug("member announcement received", zap.String("from", fromNode))
			return nil
		}
		s.enqueue(serviceCommand{payload: msg.Payload, fromNode: fromNode})
	default:
		s.logger.Warn("dropping admin message of unknown type",
			zap.Int32("message_type", int32(msg.MessageType)))
	}
	return nil
}

func (s *Service) enqueue(cmd serviceCommand) {
	select {
	case s.commands <- cmd:
	case <-s.done:
	}
}

func (s *Service) run() {
	defer close(s.stopped)

	// votes can outrun their proposal across distinct peer channels; they
	// are parked here and replayed once the proposal lands.
	pending := make(map[string][]serviceCommand)

	for {
		select {
		case <-s.done:
			return
		case cmd := <-s.commands:
			err := s.handlePayload(&cmd)
			if err != nil && !cmd.local && cmd.payload.Vote != nil && utils.IsNotFound(err) {
				circuitID := cmd.payload.Vote.CircuitID
				pending[circuitID] = append(pending[circuitID], cmd)
				continue
			}
			if cmd.reply != nil {
				cmd.reply <- err
			} else if err != nil {
				s.logger.Warn("admin payload rejected",
					zap.String("from", cmd.fromNode), zap.Error(err))
			}

			var proposedID string
			if cmd.payload.CreateRequest != nil {
				proposedID = cmd.payload.CreateRequest.Circuit.CircuitID
			} else if cmd.payload.DisbandRequest != nil {
				proposedID = cmd.payload.DisbandRequest.CircuitID
			} else if cmd.payload.UpdateRosterRequest != nil {
				proposedID = cmd.payload.UpdateRosterRequest.CircuitID
			}
			if err == nil && proposedID != "" {
				circuitID := proposedID
				parked := pending[circuitID]
				delete(pending, circuitID)
				for i := range parked {
					if voteErr := s.handlePayload(&parked[i]); voteErr != nil {
						s.logger.Warn("parked vote rejected",
							zap.String("circuit_id", circuitID), zap.Error(voteErr))
					}
				}
			}
		}
	}
}

func (s *Service) handlePayload(cmd *serviceCommand) error {
	header, err := VerifyPayload(cmd.payload, s.keys)
	if err != nil {
		return err
	}

	switch header.Action {
	case wire.CircuitCreateAction:
		return s.handleCreate(cmd, header)
	case wire.VoteAction:
		return s.handleVote(cmd, header)
	case wire.CircuitDisbandAction:
		return s.handleDisband(cmd, header)
	case wire.CircuitAbandonAction:
		return s.handleAbandon(cmd, header)
	case wire.CircuitPurgeAction:
		return s.handlePurge(cmd, header)
	case wire.CircuitUpdateRosterAction:
		return s.handleUpdateRoster(cmd, header)
	default:
		return utils.Errorf(utils.KindInvalidState, "unsupported action %s", header.Action)
	}
}

func (s *Service) handleCreate(cmd *serviceCommand, header *wire.Header) error {
	circuit := cmd.payload.CreateRequest.Circuit
	if err := ValidateCircuit(&circuit); err != nil {
		return err
	}
	if circuit.CircuitVersion == 0 {
		circuit.CircuitVersion = configs.CircuitVersion
	}

	hash, err := circuit.Hash()
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to hash proposed circuit")
	}
	if cmd.expectedHash != "" && cmd.expectedHash != hash {
		return utils.NewError(utils.KindUnauthorized,
			"proposed circuit hash does not match the requester's")
	}

	proposal := &wire.CircuitProposal{
		ProposalType:    wire.ProposalTypeCreate,
		CircuitID:       circuit.CircuitID,
		CircuitHash:     hash,
		Circuit:         circuit,
		Requester:       header.RequesterPublicKey,
		RequesterNodeID: header.RequesterNodeID,
	}
	if err := s.store.AddProposal(proposal); err != nil {
		return err
	}

	if _, err := s.events.Emit(store.Event{
		Type:     store.ProposalSubmitted,
		Proposal: *proposal,
	}); err != nil {
		return err
	}

	if cmd.local {
		s.broadcast(proposal, &wire.AdminMessage{
			MessageType: wire.ProposedCircuitType,
			Proposed:    &wire.ProposedCircuitMessage{Payload: *cmd.payload, ExpectedHash: hash},
		})
	}
	return nil
}

func (s *Service) handleVote(cmd *serviceCommand, header *wire.Header) error {
	vote := cmd.payload.Vote
	proposal, err := s.store.FetchProposal(vote.CircuitID)
	if err != nil {
		return err
	}
	if proposal.CircuitHash != vote.CircuitHash {
		return utils.NewError(utils.KindInvalidState,
			"vote is for a different version of the proposal")
	}
	voter := header.RequesterNodeID
	if voter == proposal.RequesterNodeID {
		return utils.NewError(utils.KindInvalidState, "the requester cannot vote on its own proposal")
	}
	if !isMember(&proposal.Circuit, voter) {
		return utils.Errorf(utils.KindInvalidState, "node %s is not a member of the circuit", voter)
	}
	for _, rec := range proposal.Votes {
		if rec.VoterNodeID == voter {
			return utils.Errorf(utils.KindInvalidState, "node %s has already voted", voter)
		}
	}

	proposal.Votes = append(proposal.Votes, wire.VoteRecord{
		PublicKey:   header.RequesterPublicKey,
		Vote:        vote.Vote,
		VoterNodeID: voter,
	})
	sort.Slice(proposal.Votes, func(i, j int) bool {
		return proposal.Votes[i].VoterNodeID < proposal.Votes[j].VoterNodeID
	})
	if err := s.store.UpdateProposal(proposal); err != nil {
		return err
	}

	if _, err := s.events.Emit(store.Event{
		Type:         store.ProposalVote,
		RequesterKey: header.RequesterPublicKey,
		Proposal:     *proposal,
	}); err != nil {
		return err
	}

	if cmd.local {
		s.broadcast(proposal, &wire.AdminMessage{
			MessageType: wire.MemberReadyType,
			Payload:     cmd.payload,
		})
	}

	if vote.Vote == wire.VoteReject {
		if err := s.store.RemoveProposal(proposal.CircuitID); err != nil {
			return err
		}
		_, err := s.events.Emit(store.Event{
			Type:         store.ProposalRejected,
			RequesterKey: header.RequesterPublicKey,
			Proposal:     *proposal,
		})
		return err
	}

	if unanimous(proposal) {
		return s.commitProposal(proposal, header.RequesterPublicKey)
	}
	return nil
}

// commitProposal upgrades an unanimously accepted proposal. A concurrent
// winner for the same circuit id makes the upgrade fail its insert; the
// loser is then rejected with ProposalAlreadyExists semantics rather than
// committed, which is what makes first-to-commit the documented rule.
func (s *Service) commitProposal(proposal *wire.CircuitProposal, requesterKey []byte) error {
	if _, err := s.events.Emit(store.Event{
		Type:         store.ProposalAccepted,
		RequesterKey: requesterKey,
		Proposal:     *proposal,
	}); err != nil {
		return err
	}

	switch proposal.ProposalType {
	case wire.ProposalTypeCreate:
		if err := s.store.UpgradeProposalToCircuit(proposal.CircuitID); err != nil {
			if utils.IsConstraintViolation(err) {
				if removeErr := s.store.RemoveProposal(proposal.CircuitID); removeErr != nil {
					s.logger.Error("unable to drop losing proposal", zap.Error(removeErr))
				}
				_, emitErr := s.events.Emit(store.Event{
					Type:         store.ProposalRejected,
					RequesterKey: requesterKey,
					Proposal:     *proposal,
				})
				if emitErr != nil {
					return emitErr
				}
				return utils.WrapError(utils.KindInvalidState, err, "circuit already exists")
			}
			return err
		}
		committed, err := s.store.FetchCircuit(proposal.CircuitID)
		if err != nil {
			return err
		}
		s.installRouting(committed)
		_, err = s.events.Emit(store.Event{
			Type:     store.CircuitReady,
			Proposal: *proposal,
		})
		return err

	case wire.ProposalTypeUpdateRoster:
		updated := proposal.Circuit
		updated.CircuitStatus = wire.CircuitStatusActive
		if err := s.store.UpdateCircuit(&updated); err != nil {
			return err
		}
		if err := s.store.RemoveProposal(proposal.CircuitID); err != nil {
			return err
		}
		// reinstall routing so retired roster entries drop out.
		s.table.RemoveCircuit(proposal.CircuitID)
		s.installRouting(&updated)
		_, err := s.events.Emit(store.Event{
			Type:     store.CircuitReady,
			Proposal: *proposal,
		})
		return err

	case wire.ProposalTypeDisband:
		circuit, err := s.store.FetchCircuit(proposal.CircuitID)
		if err != nil {
			return err
		}
		circuit.CircuitStatus = wire.CircuitStatusDisbanded
		if err := s.store.UpdateCircuit(circuit); err != nil {
			return err
		}
		if err := s.store.RemoveProposal(proposal.CircuitID); err != nil {
			return err
		}
		if err := s.table.SetCircuitStatus(proposal.CircuitID, wire.CircuitStatusDisbanded); err != nil {
			s.logger.Warn("unable to update routing status", zap.Error(err))
		}
		_, err = s.events.Emit(store.Event{
			Type:     store.CircuitDisbanded,
			Proposal: *proposal,
		})
		return err

	default:
		return utils.Errorf(utils.KindInvalidState,
			"no commit behavior for proposal type %d", proposal.ProposalType)
	}
}

func (s *Service) handleUpdateRoster(cmd *serviceCommand, header *wire.Header) error {
	req := cmd.payload.UpdateRosterRequest
	circuit, err := s.store.FetchCircuit(req.CircuitID)
	if err != nil {
		return err
	}
	if circuit.CircuitStatus != wire.CircuitStatusActive {
		return utils.Errorf(utils.KindInvalidState, "circuit %s is not active", req.CircuitID)
	}

	proposed := *circuit
	proposed.Roster = req.Roster
	if err := ValidateCircuit(&proposed); err != nil {
		return err
	}

	hash, err := proposed.Hash()
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to hash proposed circuit")
	}
	if cmd.expectedHash != "" && cmd.expectedHash != hash {
		return utils.NewError(utils.KindUnauthorized,
			"proposed circuit hash does not match the requester's")
	}

	proposal := &wire.CircuitProposal{
		ProposalType:    wire.ProposalTypeUpdateRoster,
		CircuitID:       req.CircuitID,
		CircuitHash:     hash,
		Circuit:         proposed,
		Requester:       header.RequesterPublicKey,
		RequesterNodeID: header.RequesterNodeID,
	}
	if err := s.store.AddProposal(proposal); err != nil {
		return err
	}
	if _, err := s.events.Emit(store.Event{
		Type:     store.ProposalSubmitted,
		Proposal: *proposal,
	}); err != nil {
		return err
	}
	if cmd.local {
		s.broadcast(proposal, &wire.AdminMessage{
			MessageType: wire.ProposedCircuitType,
			Proposed:    &wire.ProposedCircuitMessage{Payload: *cmd.payload, ExpectedHash: hash},
		})
	}
	return nil
}

func (s *Service) handleDisband(cmd *serviceCommand, header *wire.Header) error {
	circuitID := cmd.payload.DisbandRequest.CircuitID
	circuit, err := s.store.FetchCircuit(circuitID)
	if err != nil {
		return err
	}
	if circuit.CircuitStatus != wire.CircuitStatusActive {
		return utils.Errorf(utils.KindInvalidState,
			"circuit %s is not active", circuitID)
	}

	proposed := *circuit
	hash, err := proposed.Hash()
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to hash circuit")
	}
	proposal := &wire.CircuitProposal{
		ProposalType:    wire.ProposalTypeDisband,
		CircuitID:       circuitID,
		CircuitHash:     hash,
		Circuit:         proposed,
		Requester:       header.RequesterPublicKey,
		RequesterNodeID: header.RequesterNodeID,
	}
	if err := s.store.AddProposal(proposal); err != nil {
		return err
	}
	if _, err := s.events.Emit(store.Event{
		Type:     store.ProposalSubmitted,
		Proposal: *proposal,
	}); err != nil {
		return err
	}
	if cmd.local {
		s.broadcast(proposal, &wire.AdminMessage{
			MessageType: wire.ProposedCircuitType,
			Proposed:    &wire.ProposedCircuitMessage{Payload: *cmd.payload, ExpectedHash: hash},
		})
	}
	return nil
}

func (s *Service) handleAbandon(cmd *serviceCommand, header *wire.Header) error {
	circuitID := cmd.payload.AbandonRequest.CircuitID

	if !cmd.local {
		// a peer abandoning the circuit does not change our view of it.
		s.logger.Info("peer abandoned circuit",
			zap.String("circuit_id", circuitID), zap.String("node_id", header.RequesterNodeID))
		return nil
	}

	circuit, err := s.store.FetchCircuit(circuitID)
	if err != nil {
		return err
	}
	if circuit.CircuitStatus != wire.CircuitStatusActive {
		return utils.Errorf(utils.KindInvalidState, "circuit %s is not active", circuitID)
	}
	circuit.CircuitStatus = wire.CircuitStatusAbandoned
	if err := s.store.UpdateCircuit(circuit); err != nil {
		return err
	}
	if err := s.table.SetCircuitStatus(circuitID, wire.CircuitStatusAbandoned); err != nil {
		s.logger.Warn("unable to update routing status", zap.Error(err))
	}

	// announce the abandonment; peers retain the circuit among themselves.
	s.broadcastToMembers(circuit, &wire.AdminMessage{
		MessageType: wire.MemberReadyType,
		Payload:     cmd.payload,
	})
	return nil
}

func (s *Service) handlePurge(cmd *serviceCommand, header *wire.Header) error {
	if !cmd.local {
		// purge never crosses the network.
		return utils.NewError(utils.KindInvalidState, "purge requests are local-only")
	}
	circuitID := cmd.payload.PurgeRequest.CircuitID
	circuit, err := s.store.FetchCircuit(circuitID)
	if err != nil {
		return err
	}
	if circuit.CircuitStatus == wire.CircuitStatusActive {
		return utils.Errorf(utils.KindInvalidState,
			"circuit %s must be abandoned or disbanded before purge", circuitID)
	}
	if err := s.store.RemoveCircuit(circuitID); err != nil {
		return err
	}
	s.table.RemoveCircuit(circuitID)
	return nil
}

// broadcast ensures peering with every other proposal member and sends msg
// over the admin circuit.
func (s *Service) broadcast(proposal *wire.CircuitProposal, msg *wire.AdminMessage) {
	s.broadcastToMembers(&proposal.Circuit, msg)
}

func (s *Service) broadcastToMembers(circuit *wire.Circuit, msg *wire.AdminMessage) {
	body, err := msg.MarshalWire()
	if err != nil {
		s.logger.Error("unable to serialize admin message", zap.Error(err))
		return
	}
	frame, err := wire.WrapCircuitMessage(wire.AdminDirectMessageType, &wire.AdminDirectMessage{
		Circuit: configs.AdminCircuitID,
		Payload: body,
	})
	if err != nil {
		s.logger.Error("unable to wrap admin message", zap.Error(err))
		return
	}

	for _, member := range circuit.Members {
		if member.NodeID == s.nodeID {
			continue
		}
		if s.peers != nil {
			if err := s.peers.EnsurePeer(member.NodeID, member.Endpoints); err != nil {
				s.logger.Warn("unable to peer with member; the connection manager keeps retrying",
					zap.String("node_id", member.NodeID), zap.Error(err))
				continue
			}
		}
		if err := s.sender.Send(member.NodeID, frame); err != nil {
			// the message is not re-sent; the proposal stays in the
			// local store.
			s.logger.Warn("unable to deliver admin message",
				zap.String("node_id", member.NodeID), zap.Error(err))
		}
	}
}

func (s *Service) installRouting(c *wire.Circuit) {
	s.table.AddCircuit(CircuitRouting{Circuit: c, Services: c.Roster})
}

func isMember(c *wire.Circuit, nodeID string) bool {
	for _, node := range c.Members {
		if node.NodeID == nodeID {
			return true
		}
	}
	return false
}

// unanimous reports whether every member other than the requester has an
// ACCEPT vote recorded; the requester accepts implicitly.
func unanimous(p *wire.CircuitProposal) bool {
	for _, node := range p.Circuit.Members {
		if node.NodeID == p.RequesterNodeID {
			continue
		}
		accepted := false
		for _, rec := range p.Votes {
			if rec.VoterNodeID == node.NodeID && rec.Vote == wire.VoteAccept {
				accepted = true
				break
			}
		}
		if !accepted {
			return false
		}
	}
	return true
}
