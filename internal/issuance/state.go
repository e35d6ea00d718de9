package issuance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/certificate-issuance-worker/internal/certificate"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/logging"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/septivank/certificate-issuance-worker/internal/repository"
	"github.com/septivank/certificate-issuance-worker/internal/retry"
	"go.uber.org/zap"
)

// IssuedMarker records the registry's acceptance on the certificate row.
type IssuedMarker struct {
	store    CertificateStore
	registry string
	recorder metrics.Recorder
	logger   *zap.Logger
}

func NewIssuedMarker(store CertificateStore, registryName string, recorder metrics.Recorder, logger *zap.Logger) *IssuedMarker {
	return &IssuedMarker{
		store:    store,
		registry: registryName,
		recorder: recorder,
		logger:   logger.With(zap.String("stage", "mark_issued")),
	}
}

// Handle consumes CertificateIssuedInRegistry. Only the delivery that moves
// the certificate to issued emits CertificateMarkedAsIssued.
func (m *IssuedMarker) Handle(ctx context.Context, body []byte) error {
	msg, _, err := events.Decode[events.CertificateIssuedInRegistry](body, events.TypeCertificateIssuedInRegistry)
	if err != nil {
		return err
	}
	logger := logging.WithCertificate(m.logger, msg.CertificateID)

	changed := false
	err = m.store.UpdateCertificateState(ctx, msg.CertificateID, msg.MeterType, func(cert *certificate.Certificate) ([]events.Envelope, error) {
		ok, err := cert.Issue()
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if !ok {
			return nil, nil
		}
		position, err := certificate.WalletPosition(cert.Period)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		changed = true
		return []events.Envelope{
			events.Keyed(cert.ID, events.TypeCertificateMarkedAsIssued, events.CertificateMarkedAsIssued{
				CertificateID:   cert.ID,
				MeterType:       cert.MeterType,
				Registry:        m.registry,
				Quantity:        cert.Quantity,
				BlindingValue:   cert.BlindingValue,
				WalletPosition:  position,
				WalletPublicKey: cert.Wallet.PublicKey,
				WalletURL:       cert.Wallet.URL,
			}),
		}, nil
	})
	if err := stateUpdateResult(logger, msg.CertificateID, msg.MeterType, err); err != nil {
		return err
	}

	if changed {
		m.recorder.CertificateIssued(string(msg.MeterType))
		logger.Info("certificate marked as issued", zap.String("transaction_id", msg.TransactionID))
	} else {
		logger.Debug("certificate already issued")
	}
	return nil
}

// RejectionMarker records the registry's refusal on the certificate row.
type RejectionMarker struct {
	store    CertificateStore
	recorder metrics.Recorder
	logger   *zap.Logger
}

func NewRejectionMarker(store CertificateStore, recorder metrics.Recorder, logger *zap.Logger) *RejectionMarker {
	return &RejectionMarker{
		store:    store,
		recorder: recorder,
		logger:   logger.With(zap.String("stage", "mark_rejected")),
	}
}

// Handle consumes CertificateFailedInRegistry. Rejection is terminal and
// ends the saga for the certificate.
func (m *RejectionMarker) Handle(ctx context.Context, body []byte) error {
	msg, _, err := events.Decode[events.CertificateFailedInRegistry](body, events.TypeCertificateFailedInRegistry)
	if err != nil {
		return err
	}
	logger := logging.WithCertificate(m.logger, msg.CertificateID)

	changed := false
	err = m.store.UpdateCertificateState(ctx, msg.CertificateID, msg.MeterType, func(cert *certificate.Certificate) ([]events.Envelope, error) {
		ok, err := cert.Reject(msg.Reason)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		changed = ok
		return nil, nil
	})
	if err := stateUpdateResult(logger, msg.CertificateID, msg.MeterType, err); err != nil {
		return err
	}

	if changed {
		m.recorder.CertificateRejected(string(msg.MeterType))
		logger.Warn("certificate rejected by registry",
			zap.String("transaction_id", msg.TransactionID),
			zap.String("reason", msg.Reason))
	} else {
		logger.Debug("certificate already rejected")
	}
	return nil
}

// stateUpdateResult turns an unknown certificate into a logged no-op.
func stateUpdateResult(logger *zap.Logger, id uuid.UUID, meterType contract.MeterType, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		logger.Warn("certificate not found, ignoring event", zap.String("meter_type", string(meterType)))
		return nil
	case errors.Is(err, certificate.ErrInvalidTransition):
		logger.Warn("certificate already in the other terminal state", zap.Error(err))
		return err
	default:
		return fmt.Errorf("failed to update certificate %s: %w", id, err)
	}
}
