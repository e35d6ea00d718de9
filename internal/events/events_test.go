package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/septivank/certificate-issuance-worker/internal/measurement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	id := uuid.New()
	env := Must(TypeCertificateFailedInRegistry, CertificateFailedInRegistry{
		CertificateID: id,
		MeterType:     contract.MeterTypeProduction,
		TransactionID: "0xabc",
		Reason:        "invalid signature",
	})
	body, err := json.Marshal(env)
	require.NoError(t, err)

	payload, decoded, err := Decode[CertificateFailedInRegistry](body, TypeCertificateFailedInRegistry)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, decoded.MessageID)
	assert.Equal(t, id, payload.CertificateID)
	assert.Equal(t, "invalid signature", payload.Reason)
}

func TestDecodeRejectsWrongType(t *testing.T) {
	body, err := json.Marshal(Must(TypeCertificateIssuedInRegistry, CertificateIssuedInRegistry{CertificateID: uuid.New()}))
	require.NoError(t, err)

	_, _, err = Decode[CertificateFailedInRegistry](body, TypeCertificateFailedInRegistry)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode[MeasurementPublished]([]byte("{not json"), TypeMeasurementPublished)
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = Decode[MeasurementPublished]([]byte(`{"type":"measurement.published","payload":"x"}`), TypeMeasurementPublished)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMeasurementPublishedWireFormat(t *testing.T) {
	m := measurement.Measurement{
		MeterID:  "571313000000000001",
		From:     interval.Timestamp(1714557600),
		To:       interval.Timestamp(1714561200),
		Quantity: 10,
		Quality:  measurement.QualityMeasured,
	}
	env := Must(TypeMeasurementPublished, NewMeasurementPublished(m))

	assert.JSONEq(t,
		`{"meterId":"571313000000000001","from":1714557600,"to":1714561200,"quantity":10,"quality":"measured"}`,
		string(env.Payload))
}

func TestKeyedMessageIDIsStable(t *testing.T) {
	id := uuid.New()
	a := Keyed(id, TypeCertificateIssuedInRegistry, CertificateIssuedInRegistry{CertificateID: id})
	b := Keyed(id, TypeCertificateIssuedInRegistry, CertificateIssuedInRegistry{CertificateID: id})
	c := Keyed(id, TypeCertificateFailedInRegistry, CertificateFailedInRegistry{CertificateID: id})

	assert.Equal(t, a.MessageID, b.MessageID)
	assert.NotEqual(t, a.MessageID, c.MessageID)
}
