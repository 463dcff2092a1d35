package model

import "errors"

// Recoverable negotiation errors. All of these stay inside the session
// boundary; none should ever take the host process down.
var (
	// ErrAlreadyInSession is returned when an actor tries to send or accept
	// a request while already part of an active negotiation.
	ErrAlreadyInSession = errors.New("trade: actor already in a session")

	// ErrNoPendingRequest is returned on accept/deny when the target has no
	// live request, or the live request is from a different sender.
	ErrNoPendingRequest = errors.New("trade: no pending request")

	// ErrRequestExpired is returned when the request's TTL lapsed before
	// the target acted on it.
	ErrRequestExpired = errors.New("trade: request expired")

	// ErrRequestPending is returned on send when the target already has a
	// live request waiting.
	ErrRequestPending = errors.New("trade: target already has a pending request")

	// ErrSelfTrade is returned when sender == target.
	ErrSelfTrade = errors.New("trade: cannot trade with yourself")

	// ErrUnreachableActor is returned when a party cannot be resolved to a
	// live, connected actor.
	ErrUnreachableActor = errors.New("trade: actor unreachable")

	// ErrLimitExceeded is returned when the single-trade ceiling or a daily
	// intake quota is violated at confirm time.
	ErrLimitExceeded = errors.New("trade: currency limit exceeded")

	// ErrSettlementFailed is returned when the boundary transfer could not
	// complete (e.g. receiving inventory full). Always paired with rollback.
	ErrSettlementFailed = errors.New("trade: settlement failed")

	// ErrPeerDisconnected is the rollback reason when the counterpart
	// vanishes mid-negotiation.
	ErrPeerDisconnected = errors.New("trade: peer disconnected")

	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("trade: session not found")

	// ErrSessionClosed is returned when an operation hits a session that
	// already reached a terminal status.
	ErrSessionClosed = errors.New("trade: session closed")

	// ErrInvalidAmount is returned for negative or over-ceiling currency
	// amounts at offer time.
	ErrInvalidAmount = errors.New("trade: invalid currency amount")

	// ErrInvalidOffer is returned when an actor offers items they do not
	// actually hold.
	ErrInvalidOffer = errors.New("trade: actor does not hold the offered items")

	// ErrNotParty is returned when the acting actor is not a member of the
	// addressed session.
	ErrNotParty = errors.New("trade: actor is not a party to this session")
)
