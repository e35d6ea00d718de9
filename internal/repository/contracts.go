package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/db"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
)

const contractColumns = `
	id, meter_id, contract_number, owner, grid_area, meter_type, start_date, end_date,
	recipient_id, fuel_code, tech_code, wallet_url, wallet_public_key
`

// ListActive returns contracts that have started and not ended at at.
func (r *Repository) ListActive(ctx context.Context, at interval.Timestamp) ([]contract.IssuingContract, error) {
	query := `SELECT ` + contractColumns + `
		FROM issuing_contracts
		WHERE start_date <= $1 AND (end_date IS NULL OR end_date > $1)
		ORDER BY meter_id, contract_number
	`
	return r.queryContracts(ctx, query, at.Seconds())
}

// ListByMeter returns every contract of a meter, ordered by contract number.
func (r *Repository) ListByMeter(ctx context.Context, meterID string) ([]contract.IssuingContract, error) {
	query := `SELECT ` + contractColumns + `
		FROM issuing_contracts
		WHERE meter_id = $1
		ORDER BY contract_number
	`
	return r.queryContracts(ctx, query, meterID)
}

func (r *Repository) queryContracts(ctx context.Context, query string, args ...any) ([]contract.IssuingContract, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []contract.IssuingContract
	for rows.Next() {
		row, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		c, err := contractFromRow(row)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return contracts, nil
}

func scanContract(rows pgx.Rows) (db.IssuingContract, error) {
	var row db.IssuingContract
	err := rows.Scan(
		&row.ID,
		&row.MeterID,
		&row.ContractNumber,
		&row.Owner,
		&row.GridArea,
		&row.MeterType,
		&row.StartDate,
		&row.EndDate,
		&row.RecipientID,
		&row.FuelCode,
		&row.TechCode,
		&row.WalletURL,
		&row.WalletPublicKey,
	)
	return row, err
}

func contractFromRow(row db.IssuingContract) (contract.IssuingContract, error) {
	meterType, err := contract.ParseMeterType(row.MeterType)
	if err != nil {
		return contract.IssuingContract{}, fmt.Errorf("contract %s: %w", row.ID, err)
	}
	c := contract.IssuingContract{
		ID:             row.ID,
		MeterID:        row.MeterID,
		ContractNumber: row.ContractNumber,
		Owner:          row.Owner,
		GridArea:       row.GridArea,
		MeterType:      meterType,
		StartDate:      interval.Timestamp(row.StartDate),
		RecipientID:    row.RecipientID,
		Technology:     technologyFromColumns(row.FuelCode, row.TechCode),
		Wallet: contract.WalletEndpoint{
			URL:       row.WalletURL,
			PublicKey: row.WalletPublicKey,
		},
	}
	if row.EndDate != nil {
		end := interval.Timestamp(*row.EndDate)
		c.EndDate = &end
	}
	return c, nil
}

func technologyFromColumns(fuel, tech *string) *contract.Technology {
	if fuel == nil || tech == nil {
		return nil
	}
	return &contract.Technology{FuelCode: *fuel, TechCode: *tech}
}

func technologyColumns(t *contract.Technology) (fuel, tech *string) {
	if t == nil {
		return nil, nil
	}
	return &t.FuelCode, &t.TechCode
}
