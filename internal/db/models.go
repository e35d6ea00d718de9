package db

import (
	"time"

	"github.com/google/uuid"
)

// SlidingWindow represents a sliding_windows row
type SlidingWindow struct {
	MeterID              string
	SynchronizationPoint int64
	MissingIntervals     []byte
	Version              int64
	UpdatedAt            time.Time
}

// IssuingContract represents an issuing_contracts row
type IssuingContract struct {
	ID              uuid.UUID
	MeterID         string
	ContractNumber  int
	Owner           string
	GridArea        string
	MeterType       string
	StartDate       int64
	EndDate         *int64
	RecipientID     uuid.UUID
	FuelCode        *string
	TechCode        *string
	WalletURL       string
	WalletPublicKey []byte
}

// Certificate represents a certificates row
type Certificate struct {
	ID              uuid.UUID
	ContractID      uuid.UUID
	MeterType       string
	GridArea        string
	PeriodFrom      int64
	PeriodTo        int64
	Owner           string
	MeterID         string
	Quantity        int64
	BlindingValue   []byte
	Commitment      []byte
	FuelCode        *string
	TechCode        *string
	WalletURL       string
	WalletPublicKey []byte
	State           string
	RejectionReason *string
}

// OutboxMessage represents an outbox_messages row
type OutboxMessage struct {
	ID           int64
	MessageID    uuid.UUID
	RoutingKey   string
	Payload      []byte
	CreatedAt    time.Time
	DispatchedAt *time.Time
}
