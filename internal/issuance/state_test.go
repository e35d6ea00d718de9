package issuance

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/septivank/certificate-issuance-worker/internal/certificate"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/septivank/certificate-issuance-worker/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func issuedBody(t *testing.T, id uuid.UUID, meterType contract.MeterType) []byte {
	t.Helper()
	return encode(t, events.Must(events.TypeCertificateIssuedInRegistry, events.CertificateIssuedInRegistry{
		CertificateID: id,
		MeterType:     meterType,
		TransactionID: "0xabc",
	}))
}

func failedBody(t *testing.T, id uuid.UUID, meterType contract.MeterType, reason string) []byte {
	t.Helper()
	return encode(t, events.Must(events.TypeCertificateFailedInRegistry, events.CertificateFailedInRegistry{
		CertificateID: id,
		MeterType:     meterType,
		TransactionID: "0xabc",
		Reason:        reason,
	}))
}

func TestIssuedMarkerAppliesOnce(t *testing.T) {
	f := newFixture(t)
	createdBody(t, f)
	cert := f.store.only(t)
	marker := NewIssuedMarker(f.store, "Energinet.dk", metrics.Nop{}, zap.NewNop())
	body := issuedBody(t, cert.ID, cert.MeterType)

	require.NoError(t, marker.Handle(context.Background(), body))
	require.NoError(t, marker.Handle(context.Background(), body))

	assert.Equal(t, certificate.StateIssued, f.store.only(t).State)
	marked := f.store.ofType(events.TypeCertificateMarkedAsIssued)
	require.Len(t, marked, 1)

	payload := decodePayload[events.CertificateMarkedAsIssued](t, marked[0])
	assert.Equal(t, "Energinet.dk", payload.Registry)
	assert.Equal(t, cert.Quantity, payload.Quantity)
	assert.Equal(t, cert.BlindingValue, payload.BlindingValue)
	assert.Equal(t, cert.Wallet.URL, payload.WalletURL)
	assert.Equal(t, cert.Wallet.PublicKey, payload.WalletPublicKey)
}

func TestRejectionMarkerAppliesOnce(t *testing.T) {
	f := newFixture(t)
	createdBody(t, f)
	cert := f.store.only(t)
	marker := NewRejectionMarker(f.store, metrics.Nop{}, zap.NewNop())

	require.NoError(t, marker.Handle(context.Background(), failedBody(t, cert.ID, cert.MeterType, "bad proof")))
	require.NoError(t, marker.Handle(context.Background(), failedBody(t, cert.ID, cert.MeterType, "bad proof")))

	got := f.store.only(t)
	assert.Equal(t, certificate.StateRejected, got.State)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "bad proof", *got.RejectionReason)
}

func TestIssuedAfterRejectionIsPermanent(t *testing.T) {
	f := newFixture(t)
	createdBody(t, f)
	cert := f.store.only(t)

	require.NoError(t, NewRejectionMarker(f.store, metrics.Nop{}, zap.NewNop()).
		Handle(context.Background(), failedBody(t, cert.ID, cert.MeterType, "bad proof")))

	err := NewIssuedMarker(f.store, "Energinet.dk", metrics.Nop{}, zap.NewNop()).
		Handle(context.Background(), issuedBody(t, cert.ID, cert.MeterType))
	assert.ErrorIs(t, err, certificate.ErrInvalidTransition)
	assert.Equal(t, retry.KindPermanent, retry.Classify(err))
	assert.Equal(t, certificate.StateRejected, f.store.only(t).State)
	assert.Empty(t, f.store.ofType(events.TypeCertificateMarkedAsIssued))
}

func TestUnknownCertificateIsNoOp(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	err := NewIssuedMarker(f.store, "Energinet.dk", metrics.Nop{}, zap.NewNop()).
		Handle(context.Background(), issuedBody(t, id, contract.MeterTypeProduction))
	require.NoError(t, err)

	err = NewRejectionMarker(f.store, metrics.Nop{}, zap.NewNop()).
		Handle(context.Background(), failedBody(t, id, contract.MeterTypeConsumption, "x"))
	require.NoError(t, err)

	assert.Empty(t, f.store.outbox)
}
