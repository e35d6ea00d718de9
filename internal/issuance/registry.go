package issuance

import (
	"context"
	"errors"
	"fmt"

	"github.com/septivank/certificate-issuance-worker/internal/commitment"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/logging"
	"github.com/septivank/certificate-issuance-worker/internal/registry"
	"github.com/septivank/certificate-issuance-worker/internal/retry"
	"github.com/septivank/certificate-issuance-worker/internal/wallet"
	"go.uber.org/zap"
)

// Submitter sends the issue transaction of a created certificate to the
// registry.
type Submitter struct {
	builder  TransactionBuilder
	registry RegistryClient
	emitter  events.Emitter
	logger   *zap.Logger
}

func NewSubmitter(builder TransactionBuilder, client RegistryClient, emitter events.Emitter, logger *zap.Logger) *Submitter {
	return &Submitter{
		builder:  builder,
		registry: client,
		emitter:  emitter,
		logger:   logger.With(zap.String("stage", "registry_submission")),
	}
}

// Handle consumes CertificateCreated. The transaction depends only on the
// event, so a redelivery resubmits the same transaction id.
func (s *Submitter) Handle(ctx context.Context, body []byte) error {
	msg, _, err := events.Decode[events.CertificateCreated](body, events.TypeCertificateCreated)
	if err != nil {
		return err
	}
	logger := logging.WithCertificate(s.logger, msg.CertificateID)

	proof, err := commitment.ProveRange(uint64(msg.Quantity), msg.BlindingValue)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to prove quantity range: %w", err))
	}

	owner, err := wallet.DeriveChildPublicKey(msg.WalletPublicKey, msg.WalletPosition)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to derive owner key: %w", err))
	}

	tx, err := s.builder.BuildIssueTransaction(registry.IssueRequest{
		CertificateID:  msg.CertificateID,
		MeterType:      msg.MeterType,
		Period:         msg.Period,
		GridArea:       msg.GridArea,
		Commitment:     msg.Commitment,
		RangeProof:     proof,
		OwnerPublicKey: owner,
		Technology:     msg.Technology,
	})
	if errors.Is(err, registry.ErrUnknownGridArea) {
		return retry.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("failed to build issue transaction: %w", err)
	}

	id, err := tx.ID()
	if err != nil {
		return retry.Permanent(err)
	}

	if err := s.registry.SendTransactions(ctx, tx); err != nil {
		return fmt.Errorf("failed to send transaction %s: %w", id, err)
	}

	sent := events.Keyed(msg.CertificateID, events.TypeCertificateSentToRegistry, events.CertificateSentToRegistry{
		CertificateID: msg.CertificateID,
		MeterType:     msg.MeterType,
		TransactionID: id,
	})
	if err := s.emitter.Emit(ctx, sent); err != nil {
		return fmt.Errorf("failed to emit %s: %w", sent.Type, err)
	}

	logger.Info("certificate sent to registry",
		zap.String("registry", s.builder.Registry()),
		zap.String("transaction_id", id))
	return nil
}

// StatusPoller waits for the registry verdict on a submitted transaction.
type StatusPoller struct {
	registry RegistryClient
	emitter  events.Emitter
	logger   *zap.Logger
}

func NewStatusPoller(client RegistryClient, emitter events.Emitter, logger *zap.Logger) *StatusPoller {
	return &StatusPoller{
		registry: client,
		emitter:  emitter,
		logger:   logger.With(zap.String("stage", "registry_status")),
	}
}

// Handle consumes CertificateSentToRegistry. A pending transaction returns
// registry.ErrTransactionPending, which the runner retries on its own fixed
// policy.
func (p *StatusPoller) Handle(ctx context.Context, body []byte) error {
	msg, _, err := events.Decode[events.CertificateSentToRegistry](body, events.TypeCertificateSentToRegistry)
	if err != nil {
		return err
	}
	logger := logging.WithCertificate(p.logger, msg.CertificateID)

	status, err := p.registry.GetTransactionStatus(ctx, msg.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to get status of transaction %s: %w", msg.TransactionID, err)
	}

	var env events.Envelope
	switch status.Status {
	case registry.StatusCommitted:
		env = events.Keyed(msg.CertificateID, events.TypeCertificateIssuedInRegistry, events.CertificateIssuedInRegistry{
			CertificateID: msg.CertificateID,
			MeterType:     msg.MeterType,
			TransactionID: msg.TransactionID,
		})
	case registry.StatusFailed:
		env = events.Keyed(msg.CertificateID, events.TypeCertificateFailedInRegistry, events.CertificateFailedInRegistry{
			CertificateID: msg.CertificateID,
			MeterType:     msg.MeterType,
			TransactionID: msg.TransactionID,
			Reason:        status.Message,
		})
	default:
		return fmt.Errorf("transaction %s: %w", msg.TransactionID, registry.ErrTransactionPending)
	}

	if err := p.emitter.Emit(ctx, env); err != nil {
		return fmt.Errorf("failed to emit %s: %w", env.Type, err)
	}

	logger.Info("registry verdict received",
		zap.String("transaction_id", msg.TransactionID),
		zap.String("status", string(status.Status)),
		zap.String("message", status.Message))
	return nil
}
