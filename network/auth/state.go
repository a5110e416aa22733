// Package auth implements the connection authorization handshake. Every
// connection carries two state machines: the local one tracks the identity
// we are proving to the peer, the remote one tracks the identity the peer
// proves to us. The connection is usable only when both reach their
// authorized terminal.
package auth

import (
	"fmt"

	"splinter/utils"
)

// LocalState is the progress of our own authorization toward the peer.
type LocalState int

const (
	LocalStart LocalState = iota
	LocalSentAuthProtocolRequest
	LocalReceivedAuthProtocolResponse
	LocalWaitingForTrustResponse
	LocalWaitingForChallengeNonce
	LocalWaitingForChallengeResult
	LocalAuthorized
	LocalWaitForComplete
	LocalAuthorizedAndComplete
	LocalUnauthorizing
)

func (s LocalState) String() string {
	switch s {
	case LocalStart:
		return "Start"
	case LocalSentAuthProtocolRequest:
		return "SentAuthProtocolRequest"
	case LocalReceivedAuthProtocolResponse:
		return "ReceivedAuthProtocolResponse"
	case LocalWaitingForTrustResponse:
		return "Trust(SentAuthTrustRequest)"
	case LocalWaitingForChallengeNonce:
		return "Challenge(WaitingForNonce)"
	case LocalWaitingForChallengeResult:
		return "Challenge(SubmittedProof)"
	case LocalAuthorized:
		return "Authorized"
	case LocalWaitForComplete:
		return "WaitForComplete"
	case LocalAuthorizedAndComplete:
		return "AuthorizedAndComplete"
	default:
		return "Unauthorizing"
	}
}

// RemoteState is the progress of the peer's authorization toward us.
type RemoteState int

const (
	RemoteStart RemoteState = iota
	RemoteReceivedAuthProtocolRequest
	RemoteSentAuthProtocolResponse
	RemoteReceivedAuthTrustRequest
	RemoteChallengeNonceSent
	RemoteDone
	RemoteUnauthorizing
)

func (s RemoteState) String() string {
	switch s {
	case RemoteStart:
		return "Start"
	case RemoteReceivedAuthProtocolRequest:
		return "ReceivedAuthProtocolRequest"
	case RemoteSentAuthProtocolResponse:
		return "SentAuthProtocolResponse"
	case RemoteReceivedAuthTrustRequest:
		return "Trust(ReceivedAuthTrustRequest)"
	case RemoteChallengeNonceSent:
		return "Challenge(NonceSent)"
	case RemoteDone:
		return "Done"
	default:
		return "Unauthorizing"
	}
}

// LocalAction drives the local machine.
type LocalAction int

const (
	ActSendAuthProtocolRequest LocalAction = iota
	ActReceiveAuthProtocolResponse
	ActSendAuthTrustRequest
	ActReceiveAuthTrustResponse
	ActSendChallengeNonceRequest
	ActReceiveChallengeNonceResponse
	ActReceiveChallengeSubmitResponse
	ActSendAuthComplete
	ActLocalUnauthorizing
)

// RemoteAction drives the remote machine.
type RemoteAction int

const (
	ActReceiveAuthProtocolRequest RemoteAction = iota
	ActSendAuthProtocolResponse
	ActReceiveAuthTrustRequest
	ActSendAuthTrustResponse
	ActReceiveChallengeNonceRequest
	ActSendChallengeNonceResponse
	ActReceiveChallengeSubmitRequest
	ActSendChallengeSubmitResponse
	ActRemoteUnauthorizing
)

// Identity is the authenticated identity of a peer: an asserted node id
// under trust authorization, or a verified public key under challenge.
type Identity struct {
	Trust     string
	PublicKey []byte
}

func (i Identity) String() string {
	if i.Trust != "" {
		return i.Trust
	}
	return fmt.Sprintf("key:%x", i.PublicKey)
}

func invalidTransition(state fmt.Stringer, action interface{}) error {
	return utils.Errorf(utils.KindInvalidState,
		"no transition from %s for action %v", state.String(), action)
}

// nextLocal computes the successor local state. Transitions that are not
// defined return an error; callers log and drop.
func nextLocal(state LocalState, action LocalAction, completeReceived bool) (LocalState, error) {
	switch {
	case action == ActLocalUnauthorizing:
		return LocalUnauthorizing, nil
	case state == LocalStart && action == ActSendAuthProtocolRequest:
		return LocalSentAuthProtocolRequest, nil
	case state == LocalSentAuthProtocolRequest && action == ActReceiveAuthProtocolResponse:
		return LocalReceivedAuthProtocolResponse, nil
	case state == LocalReceivedAuthProtocolResponse && action == ActSendAuthTrustRequest:
		return LocalWaitingForTrustResponse, nil
	case state == LocalReceivedAuthProtocolResponse && action == ActSendChallengeNonceRequest:
		return LocalWaitingForChallengeNonce, nil
	case state == LocalWaitingForTrustResponse && action == ActReceiveAuthTrustResponse:
		return LocalAuthorized, nil
	case state == LocalWaitingForChallengeNonce && action == ActReceiveChallengeNonceResponse:
		return LocalWaitingForChallengeResult, nil
	case state == LocalWaitingForChallengeResult && action == ActReceiveChallengeSubmitResponse:
		return LocalAuthorized, nil
	case state == LocalAuthorized && action == ActSendAuthComplete:
		if completeReceived {
			return LocalAuthorizedAndComplete, nil
		}
		return LocalWaitForComplete, nil
	default:
		return state, invalidTransition(state, action)
	}
}

// nextRemote computes the successor remote state.
func nextRemote(state RemoteState, action RemoteAction) (RemoteState, error) {
	switch {
	case action == ActRemoteUnauthorizing:
		return RemoteUnauthorizing, nil
	case state == RemoteStart && action == ActReceiveAuthProtocolRequest:
		return RemoteReceivedAuthProtocolRequest, nil
	case state == RemoteReceivedAuthProtocolRequest && action == ActSendAuthProtocolResponse:
		return RemoteSentAuthProtocolResponse, nil
	case state == RemoteSentAuthProtocolResponse && action == ActReceiveAuthTrustRequest:
		return RemoteReceivedAuthTrustRequest, nil
	case state == RemoteReceivedAuthTrustRequest && action == ActSendAuthTrustResponse:
		return RemoteDone, nil
	case state == RemoteSentAuthProtocolResponse && action == ActReceiveChallengeNonceRequest:
		return RemoteSentAuthProtocolResponse, nil
	case state == RemoteSentAuthProtocolResponse && action == ActSendChallengeNonceResponse:
		return RemoteChallengeNonceSent, nil
	case state == RemoteChallengeNonceSent && action == ActReceiveChallengeSubmitRequest:
		return RemoteChallengeNonceSent, nil
	case state == RemoteChallengeNonceSent && action == ActSendChallengeSubmitResponse:
		return RemoteDone, nil
	default:
		return state, invalidTransition(state, action)
	}
}
