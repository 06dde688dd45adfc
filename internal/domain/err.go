package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidState       = errors.New("invalid state")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrVotingNotAllowed   = errors.New("voting not allowed")
	ErrKycIncomplete      = errors.New("kyc incomplete")
	ErrGateway            = errors.New("gateway error")
	ErrDuplicateOperation = errors.New("duplicate operation")
	ErrAttemptsExhausted  = errors.New("refund attempts exhausted")
	ErrConcurrentUpdate   = errors.New("concurrent update")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")

	ErrCampaignNotFound   = fmt.Errorf("campaign %w", ErrNotFound)
	ErrDonationNotFound   = fmt.Errorf("donation %w", ErrNotFound)
	ErrWithdrawalNotFound = fmt.Errorf("withdrawal %w", ErrNotFound)
	ErrBatchNotFound      = fmt.Errorf("refund batch %w", ErrNotFound)
)

type VotingDenialReason string

const (
	ReasonNotDonated        VotingDenialReason = "not_donated"
	ReasonAlreadyVoted      VotingDenialReason = "already_voted"
	ReasonVotingClosed      VotingDenialReason = "voting_closed"
	ReasonVotingDisabled    VotingDenialReason = "voting_disabled"
	ReasonCampaignNotActive VotingDenialReason = "campaign_not_active"
)

// VotingNotAllowedError carries the reason a vote was refused so callers can
// pick the right user-facing message.
type VotingNotAllowedError struct {
	Reason VotingDenialReason
}

func (e *VotingNotAllowedError) Error() string {
	return fmt.Sprintf("voting not allowed: %s", e.Reason)
}

func (e *VotingNotAllowedError) Is(target error) bool {
	return target == ErrVotingNotAllowed
}

func NewVotingNotAllowed(reason VotingDenialReason) error {
	return &VotingNotAllowedError{Reason: reason}
}

// GatewayError wraps a transient failure from an external money-moving
// collaborator. It is retryable.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s failed", e.Op)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

// StateError reports a transition attempted from the wrong status.
type StateError struct {
	Entity string
	From   string
	Op     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: cannot %s from status %q", e.Entity, e.Op, e.From)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

func invalidTransition(entity, from, op string) error {
	return &StateError{Entity: entity, From: from, Op: op}
}
