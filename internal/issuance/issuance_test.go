package issuance

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/septivank/certificate-issuance-worker/internal/certificate"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/septivank/certificate-issuance-worker/internal/measurement"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/septivank/certificate-issuance-worker/internal/registry"
	"github.com/septivank/certificate-issuance-worker/internal/repository"
	"github.com/septivank/certificate-issuance-worker/internal/retry"
	"github.com/septivank/certificate-issuance-worker/internal/validator"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	meterID      = "571313000000000001"
	issuerKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	periodFrom   = interval.Timestamp(1714557600) // 2024-05-01T10:00Z
	periodTo     = interval.Timestamp(1714561200)
)

type memoryStore struct {
	mu     sync.Mutex
	certs  map[uuid.UUID]certificate.Certificate
	outbox []events.Envelope
}

func newMemoryStore() *memoryStore {
	return &memoryStore{certs: map[uuid.UUID]certificate.Certificate{}}
}

func (s *memoryStore) CreateCertificate(_ context.Context, cert certificate.Certificate, envs []events.Envelope) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.certs {
		if existing.MeterID == cert.MeterID && existing.Period == cert.Period {
			return false, nil
		}
	}
	s.certs[cert.ID] = cert
	s.outbox = append(s.outbox, envs...)
	return true, nil
}

func (s *memoryStore) UpdateCertificateState(
	_ context.Context,
	id uuid.UUID,
	meterType contract.MeterType,
	apply func(cert *certificate.Certificate) ([]events.Envelope, error),
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[id]
	if !ok || cert.MeterType != meterType {
		return repository.ErrNotFound
	}
	envs, err := apply(&cert)
	if err != nil {
		return err
	}
	s.certs[id] = cert
	s.outbox = append(s.outbox, envs...)
	return nil
}

func (s *memoryStore) Emit(_ context.Context, envs ...events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range envs {
		if s.hasMessage(env.MessageID) {
			continue
		}
		s.outbox = append(s.outbox, env)
	}
	return nil
}

func (s *memoryStore) hasMessage(id uuid.UUID) bool {
	for _, env := range s.outbox {
		if env.MessageID == id {
			return true
		}
	}
	return false
}

func (s *memoryStore) ofType(eventType events.Type) []events.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Envelope
	for _, env := range s.outbox {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (s *memoryStore) only(t *testing.T) certificate.Certificate {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.certs, 1)
	for _, c := range s.certs {
		return c
	}
	return certificate.Certificate{}
}

type staticContracts []contract.IssuingContract

func (c staticContracts) ListByMeter(_ context.Context, id string) ([]contract.IssuingContract, error) {
	var out []contract.IssuingContract
	for _, ic := range c {
		if ic.MeterID == id {
			out = append(out, ic)
		}
	}
	return out, nil
}

type fakeRegistry struct {
	mu       sync.Mutex
	sent     []registry.Transaction
	sendErr  error
	statuses []registry.TransactionStatus
	polls    int
}

func (r *fakeRegistry) SendTransactions(_ context.Context, txs ...registry.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, txs...)
	return nil
}

func (r *fakeRegistry) GetTransactionStatus(_ context.Context, _ string) (registry.TransactionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.polls
	if i >= len(r.statuses) {
		i = len(r.statuses) - 1
	}
	r.polls++
	return r.statuses[i], nil
}

type fixture struct {
	store     *memoryStore
	contracts staticContracts
	walletKey *ecdsa.PrivateKey
	issuerKey *ecdsa.PrivateKey
	issuer    *registry.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	walletKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	keys, err := registry.ParseIssuerKeys(map[string]string{"DK1": issuerKeyHex})
	require.NoError(t, err)

	return &fixture{
		store: newMemoryStore(),
		contracts: staticContracts{{
			ID:             uuid.New(),
			MeterID:        meterID,
			ContractNumber: 1,
			Owner:          "owner-1",
			GridArea:       "DK1",
			MeterType:      contract.MeterTypeProduction,
			StartDate:      periodFrom - 10*3600,
			RecipientID:    uuid.New(),
			Technology:     &contract.Technology{FuelCode: "F01040100", TechCode: "T010000"},
			Wallet: contract.WalletEndpoint{
				URL:       "http://wallet.invalid/v1/slices",
				PublicKey: crypto.CompressPubkey(&walletKey.PublicKey),
			},
		}},
		walletKey: walletKey,
		issuerKey: keys["DK1"],
		issuer:    registry.NewIssuer("Energinet.dk", keys),
	}
}

func (f *fixture) trigger() *Trigger {
	return NewTrigger(f.contracts, f.store, validator.NewValidator(), metrics.Nop{}, zap.NewNop())
}

func measurementBody(t *testing.T, quantity int64, quality measurement.Quality) []byte {
	t.Helper()
	return encode(t, events.Must(events.TypeMeasurementPublished, events.MeasurementPublished{
		MeterID:  meterID,
		From:     periodFrom,
		To:       periodTo,
		Quantity: quantity,
		Quality:  quality,
	}))
}

func encode(t *testing.T, env events.Envelope) []byte {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func decodePayload[T any](t *testing.T, env events.Envelope) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	return payload
}

func testRunner() *retry.Runner {
	return retry.NewRunner(
		retry.IncrementalPolicy(3, time.Millisecond, time.Millisecond, 5*time.Millisecond),
		retry.PendingPolicy(5, time.Millisecond),
		metrics.Nop{},
		zap.NewNop(),
	)
}

var errBoom = errors.New("boom")
