package issuance

import (
	"context"
	"fmt"

	"github.com/septivank/certificate-issuance-worker/internal/certificate"
	"github.com/septivank/certificate-issuance-worker/internal/commitment"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/septivank/certificate-issuance-worker/internal/logging"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/septivank/certificate-issuance-worker/internal/retry"
	"github.com/septivank/certificate-issuance-worker/internal/validator"
	"go.uber.org/zap"
)

// Trigger turns a published measurement into a certificate in the creating
// state.
type Trigger struct {
	contracts ContractFinder
	store     CertificateStore
	validator *validator.Validator
	recorder  metrics.Recorder
	logger    *zap.Logger
}

// NewTrigger creates the measurement consumer
func NewTrigger(
	contracts ContractFinder,
	store CertificateStore,
	validator *validator.Validator,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *Trigger {
	return &Trigger{
		contracts: contracts,
		store:     store,
		validator: validator,
		recorder:  recorder,
		logger:    logger.With(zap.String("stage", "issuance_trigger")),
	}
}

// Handle consumes a MeasurementPublished event. Measurements without a
// covering contract or failing validation are dropped. A second delivery for
// the same meter and period finds the existing certificate and stops.
func (t *Trigger) Handle(ctx context.Context, body []byte) error {
	msg, _, err := events.Decode[events.MeasurementPublished](body, events.TypeMeasurementPublished)
	if err != nil {
		return err
	}
	logger := logging.WithMeter(t.logger, msg.MeterID)
	period := interval.Interval{From: msg.From, To: msg.To}

	contracts, err := t.contracts.ListByMeter(ctx, msg.MeterID)
	if err != nil {
		return fmt.Errorf("failed to list contracts: %w", err)
	}
	match, ok := contract.FindMatching(contracts, msg.MeterID, msg.From, msg.To)
	if !ok {
		logger.Info("no issuing contract covers measurement", zap.Stringer("period", period))
		return nil
	}

	quantity, result := t.validator.ValidateMeasurement(validator.MeasurementData{
		MeterType: match.MeterType,
		Quantity:  msg.Quantity,
		Quality:   msg.Quality,
	})
	if !result.IsValid {
		logger.Warn("measurement rejected for issuance",
			zap.Stringer("period", period),
			zap.String("reason", result.Reason))
		return nil
	}

	position, err := certificate.WalletPosition(period)
	if err != nil {
		return retry.Permanent(err)
	}

	commit, blinding, err := commitment.New(uint64(quantity))
	if err != nil {
		return fmt.Errorf("failed to commit quantity: %w", err)
	}

	cert := certificate.New(match, period, quantity, blinding, commit)
	created := events.Keyed(cert.ID, events.TypeCertificateCreated, events.CertificateCreated{
		CertificateID:   cert.ID,
		MeterType:       cert.MeterType,
		MeterID:         cert.MeterID,
		GridArea:        cert.GridArea,
		Period:          cert.Period,
		Quantity:        cert.Quantity,
		BlindingValue:   cert.BlindingValue,
		Commitment:      cert.Commitment,
		Technology:      cert.Technology,
		WalletPosition:  position,
		WalletPublicKey: cert.Wallet.PublicKey,
	})

	inserted, err := t.store.CreateCertificate(ctx, cert, []events.Envelope{created})
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	if !inserted {
		logger.Info("certificate already exists for period", zap.Stringer("period", period))
		return nil
	}

	t.recorder.CertificateCreated(string(cert.MeterType))
	logging.WithCertificate(logger, cert.ID).Info("certificate created",
		zap.Stringer("period", period),
		zap.String("meter_type", string(cert.MeterType)),
		zap.Uint32("wallet_position", position))
	return nil
}
