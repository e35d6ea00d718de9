package certificate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func period(t *testing.T, from time.Time) interval.Interval {
	t.Helper()
	p, err := interval.New(interval.FromTime(from), interval.FromTime(from.Add(time.Hour)))
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	tech := &contract.Technology{FuelCode: "F01040100", TechCode: "T010000"}
	c := contract.IssuingContract{
		ID:         uuid.New(),
		MeterID:    "571313000000000001",
		Owner:      "owner-1",
		GridArea:   "DK1",
		MeterType:  contract.MeterTypeProduction,
		Technology: tech,
		Wallet:     contract.WalletEndpoint{URL: "http://wallet/v1/slices", PublicKey: []byte{2, 1}},
	}
	p := period(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	cert := New(c, p, 42, []byte{1}, []byte{2})

	assert.NotEqual(t, uuid.Nil, cert.ID)
	assert.Equal(t, StateCreating, cert.State)
	assert.Equal(t, c.ID, cert.ContractID)
	assert.Equal(t, uint32(42), cert.Quantity)
	assert.Equal(t, tech, cert.Technology)
	assert.Equal(t, c.Wallet, cert.Wallet)

	c.MeterType = contract.MeterTypeConsumption
	consumption := New(c, p, 42, []byte{1}, []byte{2})
	assert.Nil(t, consumption.Technology)
}

func TestIssueIsIdempotent(t *testing.T) {
	cert := Certificate{State: StateCreating}

	changed, err := cert.Issue()
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = cert.Issue()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StateIssued, cert.State)
}

func TestRejectIsIdempotent(t *testing.T) {
	cert := Certificate{State: StateCreating}

	changed, err := cert.Reject("invalid signature")
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, cert.RejectionReason)
	assert.Equal(t, "invalid signature", *cert.RejectionReason)

	changed, err = cert.Reject("duplicate stream")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StateRejected, cert.State)
	assert.Equal(t, "duplicate stream", *cert.RejectionReason)
}

func TestTerminalStatesDoNotCross(t *testing.T) {
	issued := Certificate{State: StateIssued}
	_, err := issued.Reject("late failure")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateIssued, issued.State)

	rejected := Certificate{State: StateRejected}
	_, err = rejected.Issue()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, rejected.IsTerminal())
}

func TestWalletPosition(t *testing.T) {
	pos, err := WalletPosition(period(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), pos)

	pos, err = WalletPosition(period(t, time.Date(2022, 1, 2, 1, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, uint32(25*60), pos)

	again, err := WalletPosition(period(t, time.Date(2022, 1, 2, 1, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, pos, again)

	_, err = WalletPosition(period(t, time.Date(2021, 12, 31, 23, 0, 0, 0, time.UTC)))
	assert.Error(t, err)
}
