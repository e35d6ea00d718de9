package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/certificate-issuance-worker/internal/certificate"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/db"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
)

const certificateColumns = `
	id, contract_id, meter_type, grid_area, period_from, period_to, owner, meter_id,
	quantity, blinding_value, commitment, fuel_code, tech_code, wallet_url, wallet_public_key,
	state, rejection_reason
`

// CreateCertificate inserts cert together with its outbox events in one
// transaction. It reports false, and stores nothing, when a certificate for
// the same meter and period already exists.
func (r *Repository) CreateCertificate(ctx context.Context, cert certificate.Certificate, envelopes []events.Envelope) (bool, error) {
	row := certificateToRow(cert)
	created := false

	err := r.inTx(ctx, func(tx Tx) error {
		query := `
			INSERT INTO certificates (` + certificateColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (meter_id, period_from, period_to) DO NOTHING
		`
		tag, err := tx.Exec(ctx, query,
			row.ID,
			row.ContractID,
			row.MeterType,
			row.GridArea,
			row.PeriodFrom,
			row.PeriodTo,
			row.Owner,
			row.MeterID,
			row.Quantity,
			row.BlindingValue,
			row.Commitment,
			row.FuelCode,
			row.TechCode,
			row.WalletURL,
			row.WalletPublicKey,
			row.State,
			row.RejectionReason,
		)
		if err != nil {
			return fmt.Errorf("failed to insert certificate: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true
		return insertOutbox(ctx, tx, envelopes)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetCertificate loads a certificate by id and meter type.
func (r *Repository) GetCertificate(ctx context.Context, id uuid.UUID, meterType contract.MeterType) (certificate.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1 AND meter_type = $2`
	return getCertificate(ctx, r.pool, query, id, string(meterType))
}

// UpdateCertificateState locks the certificate row, lets apply mutate it and
// writes back the new state plus any returned events in the same
// transaction. apply returning nil events with an unchanged state still
// commits, which is harmless.
func (r *Repository) UpdateCertificateState(
	ctx context.Context,
	id uuid.UUID,
	meterType contract.MeterType,
	apply func(cert *certificate.Certificate) ([]events.Envelope, error),
) error {
	return r.inTx(ctx, func(tx Tx) error {
		query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1 AND meter_type = $2 FOR UPDATE`
		cert, err := getCertificate(ctx, tx, query, id, string(meterType))
		if err != nil {
			return err
		}

		envelopes, err := apply(&cert)
		if err != nil {
			return err
		}

		update := `
			UPDATE certificates
			SET state = $2, rejection_reason = $3, updated_at = now()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, update, cert.ID, string(cert.State), cert.RejectionReason); err != nil {
			return fmt.Errorf("failed to update certificate state: %w", err)
		}

		return insertOutbox(ctx, tx, envelopes)
	})
}

func getCertificate(ctx context.Context, exec Executor, query string, args ...any) (certificate.Certificate, error) {
	var row db.Certificate
	err := exec.QueryRow(ctx, query, args...).Scan(
		&row.ID,
		&row.ContractID,
		&row.MeterType,
		&row.GridArea,
		&row.PeriodFrom,
		&row.PeriodTo,
		&row.Owner,
		&row.MeterID,
		&row.Quantity,
		&row.BlindingValue,
		&row.Commitment,
		&row.FuelCode,
		&row.TechCode,
		&row.WalletURL,
		&row.WalletPublicKey,
		&row.State,
		&row.RejectionReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return certificate.Certificate{}, ErrNotFound
	}
	if err != nil {
		return certificate.Certificate{}, fmt.Errorf("failed to query certificate: %w", err)
	}
	return certificateFromRow(row)
}

func certificateToRow(c certificate.Certificate) db.Certificate {
	fuel, tech := technologyColumns(c.Technology)
	return db.Certificate{
		ID:              c.ID,
		ContractID:      c.ContractID,
		MeterType:       string(c.MeterType),
		GridArea:        c.GridArea,
		PeriodFrom:      c.Period.From.Seconds(),
		PeriodTo:        c.Period.To.Seconds(),
		Owner:           c.Owner,
		MeterID:         c.MeterID,
		Quantity:        int64(c.Quantity),
		BlindingValue:   c.BlindingValue,
		Commitment:      c.Commitment,
		FuelCode:        fuel,
		TechCode:        tech,
		WalletURL:       c.Wallet.URL,
		WalletPublicKey: c.Wallet.PublicKey,
		State:           string(c.State),
		RejectionReason: c.RejectionReason,
	}
}

func certificateFromRow(row db.Certificate) (certificate.Certificate, error) {
	meterType, err := contract.ParseMeterType(row.MeterType)
	if err != nil {
		return certificate.Certificate{}, fmt.Errorf("certificate %s: %w", row.ID, err)
	}
	return certificate.Certificate{
		ID:         row.ID,
		ContractID: row.ContractID,
		MeterType:  meterType,
		GridArea:   row.GridArea,
		Period: interval.Interval{
			From: interval.Timestamp(row.PeriodFrom),
			To:   interval.Timestamp(row.PeriodTo),
		},
		Owner:         row.Owner,
		MeterID:       row.MeterID,
		Quantity:      uint32(row.Quantity),
		BlindingValue: row.BlindingValue,
		Commitment:    row.Commitment,
		Technology:    technologyFromColumns(row.FuelCode, row.TechCode),
		Wallet: contract.WalletEndpoint{
			URL:       row.WalletURL,
			PublicKey: row.WalletPublicKey,
		},
		State:           certificate.State(row.State),
		RejectionReason: row.RejectionReason,
	}, nil
}
