package issuance

import (
	"context"
	"fmt"

	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/logging"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/septivank/certificate-issuance-worker/internal/wallet"
	"go.uber.org/zap"
)

// WalletDelivery hands an issued slice to the owner's wallet.
type WalletDelivery struct {
	wallet   WalletClient
	emitter  events.Emitter
	recorder metrics.Recorder
	logger   *zap.Logger
}

func NewWalletDelivery(client WalletClient, emitter events.Emitter, recorder metrics.Recorder, logger *zap.Logger) *WalletDelivery {
	return &WalletDelivery{
		wallet:   client,
		emitter:  emitter,
		recorder: recorder,
		logger:   logger.With(zap.String("stage", "wallet_delivery")),
	}
}

// Handle consumes CertificateMarkedAsIssued. The wallet keys deposits by
// stream id and position, so a repeated deposit is harmless.
func (d *WalletDelivery) Handle(ctx context.Context, body []byte) error {
	msg, _, err := events.Decode[events.CertificateMarkedAsIssued](body, events.TypeCertificateMarkedAsIssued)
	if err != nil {
		return err
	}
	logger := logging.WithCertificate(d.logger, msg.CertificateID)

	req := wallet.ReceiveSliceRequest{
		FederatedStreamID: wallet.FederatedStreamID{
			Registry: msg.Registry,
			StreamID: msg.CertificateID,
		},
		Position:         msg.WalletPosition,
		PublicKey:        msg.WalletPublicKey,
		Quantity:         msg.Quantity,
		RandomR:          msg.BlindingValue,
		HashedAttributes: []string{},
	}
	if err := d.wallet.ReceiveSlice(ctx, msg.WalletURL, req); err != nil {
		return fmt.Errorf("failed to deliver slice: %w", err)
	}

	sent := events.Keyed(msg.CertificateID, events.TypeSliceSentToWallet, events.SliceSentToWallet{
		CertificateID:  msg.CertificateID,
		MeterType:      msg.MeterType,
		WalletPosition: msg.WalletPosition,
	})
	if err := d.emitter.Emit(ctx, sent); err != nil {
		return fmt.Errorf("failed to emit %s: %w", sent.Type, err)
	}

	d.recorder.SliceDelivered()
	logger.Info("slice sent to wallet", zap.Uint32("position", msg.WalletPosition))
	return nil
}
