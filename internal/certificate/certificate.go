// Package certificate holds the certificate aggregate and its state machine.
package certificate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
)

type State string

const (
	StateCreating State = "creating"
	StateIssued   State = "issued"
	StateRejected State = "rejected"
)

// ErrInvalidTransition is returned when a terminal certificate is asked to
// move to the other terminal state.
var ErrInvalidTransition = errors.New("invalid certificate state transition")

// walletEpoch is minute zero of the wallet position space.
var walletEpoch = time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()

// Certificate is created once per matching measurement. After leaving
// StateCreating only RejectionReason may change.
type Certificate struct {
	ID              uuid.UUID
	ContractID      uuid.UUID
	MeterType       contract.MeterType
	GridArea        string
	Period          interval.Interval
	Owner           string
	MeterID         string
	Quantity        uint32
	BlindingValue   []byte
	Commitment      []byte
	Technology      *contract.Technology
	Wallet          contract.WalletEndpoint
	State           State
	RejectionReason *string
}

// New builds a certificate in StateCreating for a measurement matched to c.
// Technology is only kept for production meters.
func New(c contract.IssuingContract, period interval.Interval, quantity uint32, blinding, commitment []byte) Certificate {
	cert := Certificate{
		ID:            uuid.New(),
		ContractID:    c.ID,
		MeterType:     c.MeterType,
		GridArea:      c.GridArea,
		Period:        period,
		Owner:         c.Owner,
		MeterID:       c.MeterID,
		Quantity:      quantity,
		BlindingValue: blinding,
		Commitment:    commitment,
		Wallet:        c.Wallet,
		State:         StateCreating,
	}
	if c.MeterType == contract.MeterTypeProduction {
		cert.Technology = c.Technology
	}
	return cert
}

// Issue moves the certificate to StateIssued. It reports false when the
// certificate was already issued.
func (c *Certificate) Issue() (bool, error) {
	switch c.State {
	case StateIssued:
		return false, nil
	case StateCreating:
		c.State = StateIssued
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, StateIssued)
	}
}

// Reject moves the certificate to StateRejected. A repeated rejection only
// refreshes the reason and reports false.
func (c *Certificate) Reject(reason string) (bool, error) {
	switch c.State {
	case StateRejected:
		if reason != "" {
			c.RejectionReason = &reason
		}
		return false, nil
	case StateCreating:
		c.State = StateRejected
		c.RejectionReason = &reason
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, StateRejected)
	}
}

// IsTerminal reports whether the certificate has left StateCreating.
func (c *Certificate) IsTerminal() bool {
	return c.State == StateIssued || c.State == StateRejected
}

// WalletPosition maps a period to its wallet slot: minutes from
// 2022-01-01T00:00Z to the period start. Redelivery of the same period always
// lands on the same slot.
func WalletPosition(period interval.Interval) (uint32, error) {
	offset := period.From.Seconds() - walletEpoch
	if offset < 0 {
		return 0, fmt.Errorf("period %s precedes wallet epoch", period)
	}
	minutes := offset / 60
	if minutes > math.MaxUint32 {
		return 0, fmt.Errorf("period %s overflows wallet position", period)
	}
	return uint32(minutes), nil
}
