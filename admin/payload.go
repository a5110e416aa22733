package admin

import (
	"bytes"
	"crypto/ed25519"

	"splinter/utils"
	"splinter/wire"
)

// Signer produces signed circuit management payloads for one node.
type Signer struct {
	NodeID     string
	PrivateKey ed25519.PrivateKey
}

// NewSigner builds a signer from a generated or configured key.
func NewSigner(nodeID string, key ed25519.PrivateKey) *Signer {
	return &Signer{NodeID: nodeID, PrivateKey: key}
}

// PublicKey is the verifying key peers register for this node.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.PrivateKey.Public().(ed25519.PublicKey)
}

// Sign fills in the header and signature of a payload whose action field is
// already set. The header digest covers the serialized action payload; the
// signature covers the serialized header.
func (s *Signer) Sign(payload *wire.CircuitManagementPayload) error {
	action, body, err := actionOf(payload)
	if err != nil {
		return err
	}
	digest, err := wire.PayloadSHA512(body)
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to digest payload")
	}
	header := wire.Header{
		Action:             action,
		RequesterPublicKey: s.PublicKey(),
		PayloadSHA512:      digest,
		RequesterNodeID:    s.NodeID,
	}
	headerBytes, err := header.MarshalWire()
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to serialize header")
	}
	payload.Header = headerBytes
	payload.Signature = ed25519.Sign(s.PrivateKey, headerBytes)
	return nil
}

// KeyRegistry resolves the registered admin key of a node.
type KeyRegistry interface {
	AdminKey(nodeID string) (ed25519.PublicKey, bool)
}

// VerifyPayload checks structure, digest, and signature of a payload and
// returns its decoded header. The requester's key must match the registered
// admin key of the requester node.
func VerifyPayload(payload *wire.CircuitManagementPayload, keys KeyRegistry) (*wire.Header, error) {
	var header wire.Header
	if err := header.UnmarshalWire(payload.Header); err != nil {
		return nil, utils.WrapError(utils.KindProtocol, err, "malformed payload header")
	}
	action, body, err := actionOf(payload)
	if err != nil {
		return nil, err
	}
	if action != header.Action {
		return nil, utils.Errorf(utils.KindInvalidState,
			"header action %s does not match payload", header.Action)
	}
	digest, err := wire.PayloadSHA512(body)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to digest payload")
	}
	if digest != header.PayloadSHA512 {
		return nil, utils.NewError(utils.KindUnauthorized, "payload digest mismatch")
	}

	registered, ok := keys.AdminKey(header.RequesterNodeID)
	if !ok {
		return nil, utils.Errorf(utils.KindUnauthorized,
			"no admin key registered for node %s", header.RequesterNodeID)
	}
	if !bytes.Equal(registered, header.RequesterPublicKey) {
		return nil, utils.Errorf(utils.KindUnauthorized,
			"requester key is not the admin key of node %s", header.RequesterNodeID)
	}
	if len(header.RequesterPublicKey) != ed25519.PublicKeySize ||
		!ed25519.Verify(ed25519.PublicKey(header.RequesterPublicKey), payload.Header, payload.Signature) {
		return nil, utils.NewError(utils.KindUnauthorized, "payload signature verification failed")
	}
	return &header, nil
}

// actionOf returns the action discriminant and its body message.
func actionOf(payload *wire.CircuitManagementPayload) (wire.Action, wire.Message, error) {
	switch {
	case payload.CreateRequest != nil:
		return wire.CircuitCreateAction, payload.CreateRequest, nil
	case payload.Vote != nil:
		return wire.VoteAction, payload.Vote, nil
	case payload.DisbandRequest != nil:
		return wire.CircuitDisbandAction, payload.DisbandRequest, nil
	case payload.AbandonRequest != nil:
		return wire.CircuitAbandonAction, payload.AbandonRequest, nil
	case payload.PurgeRequest != nil:
		return wire.CircuitPurgeAction, payload.PurgeRequest, nil
	case payload.UpdateRosterRequest != nil:
		return wire.CircuitUpdateRosterAction, payload.UpdateRosterRequest, nil
	default:
		return wire.ActionUnset, nil, utils.NewError(utils.KindInvalidState, "payload carries no action")
	}
}
