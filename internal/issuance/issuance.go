// Package issuance holds the stages of the certificate issuance saga. Each
// stage reacts to the previous stage's event and hands its own event to the
// outbox, so the chain survives restarts at any point. Every handler is safe
// to run more than once for the same delivery.
package issuance

import (
	"context"

	"github.com/google/uuid"
	"github.com/septivank/certificate-issuance-worker/internal/certificate"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/registry"
	"github.com/septivank/certificate-issuance-worker/internal/wallet"
)

// ContractFinder reads the issuing contracts of one meter.
type ContractFinder interface {
	ListByMeter(ctx context.Context, meterID string) ([]contract.IssuingContract, error)
}

// CertificateStore persists certificates and writes their events in the same
// transaction as the row change.
type CertificateStore interface {
	CreateCertificate(ctx context.Context, cert certificate.Certificate, envelopes []events.Envelope) (bool, error)
	UpdateCertificateState(
		ctx context.Context,
		id uuid.UUID,
		meterType contract.MeterType,
		apply func(cert *certificate.Certificate) ([]events.Envelope, error),
	) error
}

// TransactionBuilder signs registry transactions.
type TransactionBuilder interface {
	Registry() string
	BuildIssueTransaction(req registry.IssueRequest) (registry.Transaction, error)
}

// RegistryClient is the registry RPC surface used by the saga.
type RegistryClient interface {
	SendTransactions(ctx context.Context, txs ...registry.Transaction) error
	GetTransactionStatus(ctx context.Context, id string) (registry.TransactionStatus, error)
}

// WalletClient deposits slices into wallets.
type WalletClient interface {
	ReceiveSlice(ctx context.Context, endpoint string, req wallet.ReceiveSliceRequest) error
}

var (
	_ TransactionBuilder = (*registry.Issuer)(nil)
	_ RegistryClient     = (*registry.Client)(nil)
	_ WalletClient       = (*wallet.Client)(nil)
)
