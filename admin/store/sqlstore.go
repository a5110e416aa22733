package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	lock "github.com/viney-shih/go-lock"

	"splinter/utils"
	"splinter/wire"
)

// SQLStore implements Store over database/sql. The same statements run on
// SQLite and Postgres; placeholders are rewritten to $n for the pgx driver.
// Writes are serialized through a CAS mutex so the pool honors the
// single-writer/many-reader contract.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	writeMu  lock.RWMutex
}

// NewSQLStore wraps an opened database handle and installs the schema.
func NewSQLStore(db *sql.DB, postgres bool) (*SQLStore, error) {
	s := &SQLStore{db: db, postgres: postgres, writeMu: lock.NewCASMutex()}
	for _, ddl := range adminSchema {
		if _, err := db.Exec(s.rebind(ddl)); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to install admin schema")
		}
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for postgres.
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

func (s *SQLStore) exec(tx *sql.Tx, query string, args ...interface{}) error {
	_, err := tx.Exec(s.rebind(query), args...)
	return err
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

func (s *SQLStore) inReadTx(fn func(tx *sql.Tx) error) error {
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()
	tx, err := s.db.Begin()
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to begin transaction")
	}
	defer tx.Rollback()
	return fn(tx)
}

func (s *SQLStore) AddProposal(p *wire.CircuitProposal) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		exists, err := s.proposalExists(tx, p.CircuitID)
		if err != nil {
			return err
		}
		if exists {
			return utils.Errorf(utils.KindConstraintViolation,
				"a proposal for circuit %s already exists", p.CircuitID)
		}
		if p.ProposalType == wire.ProposalTypeCreate {
			circuitExists, err := s.circuitExists(tx, p.CircuitID)
			if err != nil {
				return err
			}
			if circuitExists {
				return utils.Errorf(utils.KindConstraintViolation,
					"circuit %s already exists", p.CircuitID)
			}
		}
		return s.insertProposal(tx, p)
	})
}

func (s *SQLStore) UpdateProposal(p *wire.CircuitProposal) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		exists, err := s.proposalExists(tx, p.CircuitID)
		if err != nil {
			return err
		}
		if !exists {
			return utils.Errorf(utils.KindNotFound, "no proposal for circuit %s", p.CircuitID)
		}
		if err := s.deleteProposal(tx, p.CircuitID); err != nil {
			return err
		}
		return s.insertProposal(tx, p)
	})
}

func (s *SQLStore) RemoveProposal(circuitID string) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		exists, err := s.proposalExists(tx, circuitID)
		if err != nil {
			return err
		}
		if !exists {
			return utils.Errorf(utils.KindNotFound, "no proposal for circuit %s", circuitID)
		}
		return s.deleteProposal(tx, circuitID)
	})
}

func (s *SQLStore) FetchProposal(circuitID string) (*wire.CircuitProposal, error) {
	var proposal *wire.CircuitProposal
	err := s.inReadTx(func(tx *sql.Tx) error {
		var err error
		proposal, err = s.scanProposal(tx, circuitID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return proposal, nil
}

func (s *SQLStore) ListProposals(predicates ...Predicate) ([]*wire.CircuitProposal, error) {
	var proposals []*wire.CircuitProposal
	err := s.inReadTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(s.rebind(
			`SELECT circuit_id FROM circuit_proposal ORDER BY circuit_id`))
		if err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to list proposals")
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return utils.WrapError(utils.KindInternal, err, "unable to scan proposal id")
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to list proposals")
		}

		for _, id := range ids {
			p, err := s.scanProposal(tx, id)
			if err != nil {
				return err
			}
			matched := true
			for _, pred := range predicates {
				if !pred.matchProposal(p) {
					matched = false
					break
				}
			}
			if matched {
				proposals = append(proposals, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proposals, nil
}

func (s *SQLStore) AddCircuit(c *wire.Circuit) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		exists, err := s.circuitExists(tx, c.CircuitID)
		if err != nil {
			return err
		}
		if exists {
			return utils.Errorf(utils.KindConstraintViolation, "circuit %s already exists", c.CircuitID)
		}
		return s.insertCircuit(tx, c)
	})
}

func (s *SQLStore) UpgradeProposalToCircuit(circuitID string) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		proposal, err := s.scanProposal(tx, circuitID)
		if err != nil {
			return err
		}
		exists, err := s.circuitExists(tx, circuitID)
		if err != nil {
			return err
		}
		if exists {
			return utils.Errorf(utils.KindConstraintViolation, "circuit %s already exists", circuitID)
		}
		circuit := proposal.Circuit
		circuit.CircuitStatus = wire.CircuitStatusActive
		if err := s.insertCircuit(tx, &circuit); err != nil {
			return err
		}
		return s.deleteProposal(tx, circuitID)
	})
}

func (s *SQLStore) UpdateCircuit(c *wire.Circuit) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		exists, err := s.circuitExists(tx, c.CircuitID)
		if err != nil {
			return err
		}
		if !exists {
			return utils.Errorf(utils.KindNotFound, "circuit %s does not exist", c.CircuitID)
		}
		if err := s.deleteCircuit(tx, c.CircuitID); err != nil {
			return err
		}
		return s.insertCircuit(tx, c)
	})
}

func (s *SQLStore) RemoveCircuit(circuitID string) error {
	return s.inWriteTx(func(tx *sql.Tx) error {
		exists, err := s.circuitExists(tx, circuitID)
		if err != nil {
			return err
		}
		if !exists {
			return utils.Errorf(utils.KindNotFound, "circuit %s does not exist", circuitID)
		}
		return s.deleteCircuit(tx, circuitID)
	})
}

func (s *SQLStore) FetchCircuit(circuitID string) (*wire.Circuit, error) {
	var circuit *wire.Circuit
	err := s.inReadTx(func(tx *sql.Tx) error {
		var err error
		circuit, err = s.scanCircuit(tx, circuitID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return circuit, nil
}

func (s *SQLStore) ListCircuits(predicates ...Predicate) ([]*wire.Circuit, error) {
	var circuits []*wire.Circuit
	err := s.inReadTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(s.rebind(`SELECT circuit_id FROM circuit ORDER BY circuit_id`))
		if err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to list circuits")
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return utils.WrapError(utils.KindInternal, err, "unable to scan circuit id")
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to list circuits")
		}

		for _, id := range ids {
			c, err := s.scanCircuit(tx, id)
			if err != nil {
				return err
			}
			matched := true
			for _, pred := range predicates {
				if !pred.matchCircuit(c) {
					matched = false
					break
				}
			}
			if matched {
				circuits = append(circuits, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return circuits, nil
}

func (s *SQLStore) ListNodes() ([]wire.SplinterNode, error) {
	var nodes []wire.SplinterNode
	err := s.inReadTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(s.rebind(
			`SELECT DISTINCT node_id FROM circuit_member ORDER BY node_id`))
		if err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to list nodes")
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return utils.WrapError(utils.KindInternal, err, "unable to scan node id")
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to list nodes")
		}
		for _, id := range ids {
			node, err := s.scanNode(tx, id)
			if err != nil {
				return err
			}
			nodes = append(nodes, *node)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *SQLStore) FetchNode(nodeID string) (*wire.SplinterNode, error) {
	var node *wire.SplinterNode
	err := s.inReadTx(func(tx *sql.Tx) error {
		var err error
		node, err = s.scanNode(tx, nodeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (s *SQLStore) FetchService(circuitID, serviceID string) (*wire.SplinterService, error) {
	services, err := s.ListServices(circuitID)
	if err != nil {
		return nil, err
	}
	for i := range services {
		if services[i].ServiceID == serviceID {
			return &services[i], nil
		}
	}
	return nil, utils.Errorf(utils.KindNotFound, "no service %s on circuit %s", serviceID, circuitID)
}

func (s *SQLStore) ListServices(circuitID string) ([]wire.SplinterService, error) {
	var services []wire.SplinterService
	err := s.inReadTx(func(tx *sql.Tx) error {
		var err error
		services, err = s.scanServices(tx, "circuit_service", "circuit_service_argument",
			"circuit_service_allowed_node", circuitID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return services, nil
}

/* row helpers */

func (s *SQLStore) proposalExists(tx *sql.Tx, circuitID string) (bool, error) {
	return s.rowExists(tx, `SELECT 1 FROM circuit_proposal WHERE circuit_id = ?`, circuitID)
}

func (s *SQLStore) circuitExists(tx *sql.Tx, circuitID string) (bool, error) {
	return s.rowExists(tx, `SELECT 1 FROM circuit WHERE circuit_id = ?`, circuitID)
}

func (s *SQLStore) rowExists(tx *sql.Tx, query string, args ...interface{}) (bool, error) {
	var one int
	err := tx.QueryRow(s.rebind(query), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, utils.WrapError(utils.KindInternal, err, "existence check failed")
	}
	return true, nil
}

func (s *SQLStore) insertProposal(tx *sql.Tx, p *wire.CircuitProposal) error {
	if err := s.exec(tx,
		`INSERT INTO circuit_proposal
			(circuit_id, proposal_type, circuit_hash, requester, requester_node_id)
			VALUES (?, ?, ?, ?, ?)`,
		p.CircuitID, int32(p.ProposalType), p.CircuitHash, p.Requester, p.RequesterNodeID); err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to insert proposal")
	}
	if err := s.exec(tx,
		`INSERT INTO proposed_circuit
			(circuit_id, authorization_type, persistence, durability, routes,
			 circuit_management_type, application_metadata, comments, display_name,
			 circuit_version, circuit_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CircuitID, int32(p.Circuit.AuthorizationType), p.Circuit.Persistence,
		p.Circuit.Durability, p.Circuit.Routes, p.Circuit.CircuitManagementType,
		p.Circuit.ApplicationMetadata, p.Circuit.Comments, p.Circuit.DisplayName,
		p.Circuit.CircuitVersion, int32(p.Circuit.CircuitStatus)); err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to insert proposed circuit")
	}
	if err := s.insertMembers(tx, "proposed_node", "proposed_node_endpoint", p.CircuitID, p.Circuit.Members); err != nil {
		return err
	}
	if err := s.insertServices(tx, "proposed_service", "proposed_service_argument",
		"proposed_service_allowed_node", p.CircuitID, p.Circuit.Roster); err != nil {
		return err
	}
	for i, vote := range p.Votes {
		if err := s.exec(tx,
			`INSERT INTO vote_record (circuit_id, public_key, vote, voter_node_id, position)
				VALUES (?, ?, ?, ?, ?)`,
			p.CircuitID, vote.PublicKey, int32(vote.Vote), vote.VoterNodeID, i); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to insert vote record")
		}
	}
	return nil
}

func (s *SQLStore) insertCircuit(tx *sql.Tx, c *wire.Circuit) error {
	if err := s.exec(tx,
		`INSERT INTO circuit
			(circuit_id, authorization_type, persistence, durability, routes,
			 circuit_management_type, application_metadata, comments, display_name,
			 circuit_version, circuit_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CircuitID, int32(c.AuthorizationType), c.Persistence, c.Durability, c.Routes,
		c.CircuitManagementType, c.ApplicationMetadata, c.Comments, c.DisplayName,
		c.CircuitVersion, int32(c.CircuitStatus)); err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to insert circuit")
	}
	if err := s.insertMembers(tx, "circuit_member", "circuit_member_endpoint", c.CircuitID, c.Members); err != nil {
		return err
	}
	return s.insertServices(tx, "circuit_service", "circuit_service_argument",
		"circuit_service_allowed_node", c.CircuitID, c.Roster)
}

func (s *SQLStore) insertMembers(tx *sql.Tx, nodeTable, endpointTable, circuitID string, members []wire.SplinterNode) error {
	for i, node := range members {
		if err := s.exec(tx,
			`INSERT INTO `+nodeTable+` (circuit_id, node_id, public_key, position) VALUES (?, ?, ?, ?)`,
			circuitID, node.NodeID, node.PublicKey, i); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to insert member")
		}
		for j, endpoint := range node.Endpoints {
			if err := s.exec(tx,
				`INSERT INTO `+endpointTable+` (circuit_id, node_id, endpoint, position) VALUES (?, ?, ?, ?)`,
				circuitID, node.NodeID, endpoint, j); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert member endpoint")
			}
		}
	}
	return nil
}

func (s *SQLStore) insertServices(tx *sql.Tx, svcTable, argTable, allowedTable, circuitID string, roster []wire.SplinterService) error {
	for i, svc := range roster {
		if err := s.exec(tx,
			`INSERT INTO `+svcTable+` (circuit_id, service_id, service_type, position) VALUES (?, ?, ?, ?)`,
			circuitID, svc.ServiceID, svc.ServiceType, i); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to insert service")
		}
		for j, arg := range svc.Arguments {
			if err := s.exec(tx,
				`INSERT INTO `+argTable+` (circuit_id, service_id, arg_key, arg_value, position) VALUES (?, ?, ?, ?, ?)`,
				circuitID, svc.ServiceID, arg.Key, arg.Value, j); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert service argument")
			}
		}
		for j, node := range svc.AllowedNodes {
			if err := s.exec(tx,
				`INSERT INTO `+allowedTable+` (circuit_id, service_id, node_id, position) VALUES (?, ?, ?, ?)`,
				circuitID, svc.ServiceID, node, j); err != nil {
				return utils.WrapError(utils.KindInternal, err, "unable to insert allowed node")
			}
		}
	}
	return nil
}

func (s *SQLStore) deleteProposal(tx *sql.Tx, circuitID string) error {
	for _, table := range []string{
		"circuit_proposal", "proposed_circuit", "proposed_node", "proposed_node_endpoint",
		"proposed_service", "proposed_service_argument", "proposed_service_allowed_node",
		"vote_record",
	} {
		if err := s.exec(tx, `DELETE FROM `+table+` WHERE circuit_id = ?`, circuitID); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to delete proposal rows")
		}
	}
	return nil
}

func (s *SQLStore) deleteCircuit(tx *sql.Tx, circuitID string) error {
	for _, table := range []string{
		"circuit", "circuit_member", "circuit_member_endpoint",
		"circuit_service", "circuit_service_argument", "circuit_service_allowed_node",
	} {
		if err := s.exec(tx, `DELETE FROM `+table+` WHERE circuit_id = ?`, circuitID); err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to delete circuit rows")
		}
	}
	return nil
}

func (s *SQLStore) scanProposal(tx *sql.Tx, circuitID string) (*wire.CircuitProposal, error) {
	p := &wire.CircuitProposal{CircuitID: circuitID}
	var proposalType int32
	err := tx.QueryRow(s.rebind(
		`SELECT proposal_type, circuit_hash, requester, requester_node_id
			FROM circuit_proposal WHERE circuit_id = ?`), circuitID).
		Scan(&proposalType, &p.CircuitHash, &p.Requester, &p.RequesterNodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Errorf(utils.KindNotFound, "no proposal for circuit %s", circuitID)
	}
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch proposal")
	}
	p.ProposalType = wire.ProposalType(proposalType)

	circuit, err := s.scanCircuitRow(tx, "proposed_circuit", circuitID)
	if err != nil {
		return nil, err
	}
	circuit.Members, err = s.scanMembers(tx, "proposed_node", "proposed_node_endpoint", circuitID)
	if err != nil {
		return nil, err
	}
	circuit.Roster, err = s.scanServices(tx, "proposed_service", "proposed_service_argument",
		"proposed_service_allowed_node", circuitID)
	if err != nil {
		return nil, err
	}
	p.Circuit = *circuit

	rows, err := tx.Query(s.rebind(
		`SELECT public_key, vote, voter_node_id FROM vote_record
			WHERE circuit_id = ? ORDER BY voter_node_id`), circuitID)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch votes")
	}
	defer rows.Close()
	for rows.Next() {
		var rec wire.VoteRecord
		var vote int32
		if err := rows.Scan(&rec.PublicKey, &vote, &rec.VoterNodeID); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to scan vote")
		}
		rec.Vote = wire.Vote(vote)
		p.Votes = append(p.Votes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch votes")
	}
	return p, nil
}

func (s *SQLStore) scanCircuit(tx *sql.Tx, circuitID string) (*wire.Circuit, error) {
	circuit, err := s.scanCircuitRow(tx, "circuit", circuitID)
	if err != nil {
		return nil, err
	}
	circuit.Members, err = s.scanMembers(tx, "circuit_member", "circuit_member_endpoint", circuitID)
	if err != nil {
		return nil, err
	}
	circuit.Roster, err = s.scanServices(tx, "circuit_service", "circuit_service_argument",
		"circuit_service_allowed_node", circuitID)
	if err != nil {
		return nil, err
	}
	return circuit, nil
}

func (s *SQLStore) scanCircuitRow(tx *sql.Tx, table, circuitID string) (*wire.Circuit, error) {
	c := &wire.Circuit{CircuitID: circuitID}
	var authType, status int32
	var metadata []byte
	var comments, displayName sql.NullString
	err := tx.QueryRow(s.rebind(
		`SELECT authorization_type, persistence, durability, routes,
			circuit_management_type, application_metadata, comments, display_name,
			circuit_version, circuit_status
			FROM `+table+` WHERE circuit_id = ?`), circuitID).
		Scan(&authType, &c.Persistence, &c.Durability, &c.Routes,
			&c.CircuitManagementType, &metadata, &comments, &displayName,
			&c.CircuitVersion, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Errorf(utils.KindNotFound, "circuit %s does not exist", circuitID)
	}
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch circuit")
	}
	c.AuthorizationType = wire.CircuitAuthorizationType(authType)
	c.CircuitStatus = wire.CircuitStatus(status)
	c.ApplicationMetadata = metadata
	c.Comments = comments.String
	c.DisplayName = displayName.String
	return c, nil
}

func (s *SQLStore) scanMembers(tx *sql.Tx, nodeTable, endpointTable, circuitID string) ([]wire.SplinterNode, error) {
	rows, err := tx.Query(s.rebind(
		`SELECT node_id, public_key FROM `+nodeTable+`
			WHERE circuit_id = ? ORDER BY position`), circuitID)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch members")
	}
	var members []wire.SplinterNode
	for rows.Next() {
		var node wire.SplinterNode
		if err := rows.Scan(&node.NodeID, &node.PublicKey); err != nil {
			rows.Close()
			return nil, utils.WrapError(utils.KindInternal, err, "unable to scan member")
		}
		members = append(members, node)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch members")
	}

	for i := range members {
		endpointRows, err := tx.Query(s.rebind(
			`SELECT endpoint FROM `+endpointTable+`
				WHERE circuit_id = ? AND node_id = ? ORDER BY position`),
			circuitID, members[i].NodeID)
		if err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch endpoints")
		}
		for endpointRows.Next() {
			var endpoint string
			if err := endpointRows.Scan(&endpoint); err != nil {
				endpointRows.Close()
				return nil, utils.WrapError(utils.KindInternal, err, "unable to scan endpoint")
			}
			members[i].Endpoints = append(members[i].Endpoints, endpoint)
		}
		endpointRows.Close()
		if err := endpointRows.Err(); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch endpoints")
		}
	}
	return members, nil
}

func (s *SQLStore) scanServices(tx *sql.Tx, svcTable, argTable, allowedTable, circuitID string) ([]wire.SplinterService, error) {
	rows, err := tx.Query(s.rebind(
		`SELECT service_id, service_type FROM `+svcTable+`
			WHERE circuit_id = ? ORDER BY position`), circuitID)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch services")
	}
	var services []wire.SplinterService
	for rows.Next() {
		var svc wire.SplinterService
		if err := rows.Scan(&svc.ServiceID, &svc.ServiceType); err != nil {
			rows.Close()
			return nil, utils.WrapError(utils.KindInternal, err, "unable to scan service")
		}
		services = append(services, svc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch services")
	}

	for i := range services {
		argRows, err := tx.Query(s.rebind(
			`SELECT arg_key, arg_value FROM `+argTable+`
				WHERE circuit_id = ? AND service_id = ? ORDER BY position`),
			circuitID, services[i].ServiceID)
		if err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch service arguments")
		}
		for argRows.Next() {
			var arg wire.ServiceArgument
			if err := argRows.Scan(&arg.Key, &arg.Value); err != nil {
				argRows.Close()
				return nil, utils.WrapError(utils.KindInternal, err, "unable to scan service argument")
			}
			services[i].Arguments = append(services[i].Arguments, arg)
		}
		argRows.Close()
		if err := argRows.Err(); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch service arguments")
		}

		allowedRows, err := tx.Query(s.rebind(
			`SELECT node_id FROM `+allowedTable+`
				WHERE circuit_id = ? AND service_id = ? ORDER BY position`),
			circuitID, services[i].ServiceID)
		if err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch allowed nodes")
		}
		for allowedRows.Next() {
			var node string
			if err := allowedRows.Scan(&node); err != nil {
				allowedRows.Close()
				return nil, utils.WrapError(utils.KindInternal, err, "unable to scan allowed node")
			}
			services[i].AllowedNodes = append(services[i].AllowedNodes, node)
		}
		allowedRows.Close()
		if err := allowedRows.Err(); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch allowed nodes")
		}
	}
	return services, nil
}

func (s *SQLStore) scanNode(tx *sql.Tx, nodeID string) (*wire.SplinterNode, error) {
	node := &wire.SplinterNode{NodeID: nodeID}
	var key []byte
	err := tx.QueryRow(s.rebind(
		`SELECT public_key FROM circuit_member WHERE node_id = ? ORDER BY circuit_id LIMIT 1`),
		nodeID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Errorf(utils.KindNotFound, "node %s is not a member of any circuit", nodeID)
	}
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch node")
	}
	node.PublicKey = key

	rows, err := tx.Query(s.rebind(
		`SELECT DISTINCT endpoint FROM circuit_member_endpoint WHERE node_id = ? ORDER BY endpoint`),
		nodeID)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch node endpoints")
	}
	defer rows.Close()
	for rows.Next() {
		var endpoint string
		if err := rows.Scan(&endpoint); err != nil {
			return nil, utils.WrapError(utils.KindInternal, err, "unable to scan node endpoint")
		}
		node.Endpoints = append(node.Endpoints, endpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to fetch node endpoints")
	}
	return node, nil
}
