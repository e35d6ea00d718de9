// Package events defines the integration events exchanged between the sync
// worker and the issuance stages. Every event travels inside an Envelope
// whose Type doubles as the bus routing key.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/septivank/certificate-issuance-worker/internal/measurement"
)

type Type string

const (
	TypeMeasurementPublished        Type = "measurement.published"
	TypeCertificateCreated          Type = "certificate.created"
	TypeCertificateSentToRegistry   Type = "certificate.sent_to_registry"
	TypeCertificateIssuedInRegistry Type = "certificate.issued_in_registry"
	TypeCertificateFailedInRegistry Type = "certificate.failed_in_registry"
	TypeCertificateMarkedAsIssued   Type = "certificate.marked_as_issued"
	TypeSliceSentToWallet           Type = "certificate.slice_sent_to_wallet"
)

// ErrMalformed marks a body that can never be handled, however often it is
// redelivered.
var ErrMalformed = errors.New("malformed event")

// Envelope is the wire format of every event.
type Envelope struct {
	MessageID  uuid.UUID       `json:"messageId"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Emitter hands events to the bus, directly or through the outbox.
type Emitter interface {
	Emit(ctx context.Context, envelopes ...Envelope) error
}

// New wraps payload in an envelope of the given type.
func New(eventType Type, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		MessageID:  uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Must is New for payloads that are plain structs and cannot fail to encode.
func Must(eventType Type, payload any) Envelope {
	env, err := New(eventType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Keyed is Must with a message id derived from key and the event type, so a
// stage that runs twice for the same certificate writes the same message.
func Keyed(key uuid.UUID, eventType Type, payload any) Envelope {
	env := Must(eventType, payload)
	env.MessageID = uuid.NewSHA1(key, []byte(eventType))
	return env
}

// Decode parses a delivery body and its payload, checking the event type.
func Decode[T any](body []byte, want Type) (T, Envelope, error) {
	var payload T
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return payload, env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type != want {
		return payload, env, fmt.Errorf("%w: expected %s, got %s", ErrMalformed, want, env.Type)
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, env, fmt.Errorf("%w: %s payload: %v", ErrMalformed, want, err)
	}
	return payload, env, nil
}

// MeasurementPublished is emitted by the sync worker for each reading that
// may be issued.
type MeasurementPublished struct {
	MeterID  string              `json:"meterId"`
	From     interval.Timestamp  `json:"from"`
	To       interval.Timestamp  `json:"to"`
	Quantity int64               `json:"quantity"`
	Quality  measurement.Quality `json:"quality"`
}

// NewMeasurementPublished converts a fetched reading into its event.
func NewMeasurementPublished(m measurement.Measurement) MeasurementPublished {
	return MeasurementPublished{
		MeterID:  m.MeterID,
		From:     m.From,
		To:       m.To,
		Quantity: m.Quantity,
		Quality:  m.Quality,
	}
}

// CertificateCreated carries everything the registry submission needs.
type CertificateCreated struct {
	CertificateID   uuid.UUID            `json:"certificateId"`
	MeterType       contract.MeterType   `json:"meterType"`
	MeterID         string               `json:"meterId"`
	GridArea        string               `json:"gridArea"`
	Period          interval.Interval    `json:"period"`
	Quantity        uint32               `json:"quantity"`
	BlindingValue   []byte               `json:"blindingValue"`
	Commitment      []byte               `json:"commitment"`
	Technology      *contract.Technology `json:"technology,omitempty"`
	WalletPosition  uint32               `json:"walletPosition"`
	WalletPublicKey []byte               `json:"walletPublicKey"`
}

type CertificateSentToRegistry struct {
	CertificateID uuid.UUID          `json:"certificateId"`
	MeterType     contract.MeterType `json:"meterType"`
	TransactionID string             `json:"transactionId"`
}

type CertificateIssuedInRegistry struct {
	CertificateID uuid.UUID          `json:"certificateId"`
	MeterType     contract.MeterType `json:"meterType"`
	TransactionID string             `json:"transactionId"`
}

type CertificateFailedInRegistry struct {
	CertificateID uuid.UUID          `json:"certificateId"`
	MeterType     contract.MeterType `json:"meterType"`
	TransactionID string             `json:"transactionId"`
	Reason        string             `json:"reason"`
}

// CertificateMarkedAsIssued carries the spend data the wallet needs to take
// ownership of the issued slice.
type CertificateMarkedAsIssued struct {
	CertificateID   uuid.UUID          `json:"certificateId"`
	MeterType       contract.MeterType `json:"meterType"`
	Registry        string             `json:"registry"`
	Quantity        uint32             `json:"quantity"`
	BlindingValue   []byte             `json:"blindingValue"`
	WalletPosition  uint32             `json:"walletPosition"`
	WalletPublicKey []byte             `json:"walletPublicKey"`
	WalletURL       string             `json:"walletUrl"`
}

type SliceSentToWallet struct {
	CertificateID  uuid.UUID          `json:"certificateId"`
	MeterType      contract.MeterType `json:"meterType"`
	WalletPosition uint32             `json:"walletPosition"`
}
