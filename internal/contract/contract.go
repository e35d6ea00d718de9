// Package contract holds issuing contracts, which decide whether a meter's
// measurements turn into certificates, and the SyncInfo derived from them.
package contract

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
)

// MeterType is the production/consumption variant, decided once when a
// measurement is matched to a contract and carried as data from there on.
type MeterType string

const (
	MeterTypeProduction  MeterType = "production"
	MeterTypeConsumption MeterType = "consumption"
)

// ParseMeterType validates a stored or transmitted meter type.
func ParseMeterType(s string) (MeterType, error) {
	switch MeterType(s) {
	case MeterTypeProduction, MeterTypeConsumption:
		return MeterType(s), nil
	default:
		return "", fmt.Errorf("unsupported meter type %q", s)
	}
}

// Technology holds the AIB fuel and technology codes of a production meter.
type Technology struct {
	FuelCode string `json:"fuelCode"`
	TechCode string `json:"techCode"`
}

// WalletEndpoint is where issued slices for the contract owner are deposited.
type WalletEndpoint struct {
	URL       string `json:"url"`
	PublicKey []byte `json:"publicKey"`
}

// IssuingContract grants issuance for a meter over [StartDate, EndDate).
// It is unique per (MeterID, ContractNumber).
type IssuingContract struct {
	ID             uuid.UUID
	MeterID        string
	ContractNumber int
	Owner          string
	GridArea       string
	MeterType      MeterType
	StartDate      interval.Timestamp
	EndDate        *interval.Timestamp
	RecipientID    uuid.UUID
	Technology     *Technology
	Wallet         WalletEndpoint
}

// Contains reports whether [from, to) is covered by the contract period.
func (c IssuingContract) Contains(from, to interval.Timestamp) bool {
	return c.StartDate <= from && (c.EndDate == nil || to <= *c.EndDate)
}

// IsActiveAt reports whether the contract has started and not yet ended at t.
func (c IssuingContract) IsActiveAt(t interval.Timestamp) bool {
	return c.StartDate <= t && (c.EndDate == nil || t < *c.EndDate)
}

// FindMatching returns the contract for meterID whose period covers [from, to).
func FindMatching(contracts []IssuingContract, meterID string, from, to interval.Timestamp) (IssuingContract, bool) {
	for _, c := range contracts {
		if c.MeterID == meterID && c.Contains(from, to) {
			return c, true
		}
	}
	return IssuingContract{}, false
}

// SyncInfo identifies a meter under active synchronization.
type SyncInfo struct {
	MeterID       string
	StartSyncDate interval.Timestamp
	Owner         string
	MeterType     MeterType
	GridArea      string
	RecipientID   uuid.UUID
	Technology    *Technology
}

// SyncInfosFromContracts collapses contracts to one SyncInfo per meter,
// starting at the meter's earliest contract. Output is ordered by meter id.
func SyncInfosFromContracts(contracts []IssuingContract) []SyncInfo {
	byMeter := make(map[string]SyncInfo, len(contracts))
	for _, c := range contracts {
		existing, ok := byMeter[c.MeterID]
		if ok && existing.StartSyncDate <= c.StartDate {
			continue
		}
		byMeter[c.MeterID] = SyncInfo{
			MeterID:       c.MeterID,
			StartSyncDate: c.StartDate,
			Owner:         c.Owner,
			MeterType:     c.MeterType,
			GridArea:      c.GridArea,
			RecipientID:   c.RecipientID,
			Technology:    c.Technology,
		}
	}

	infos := make([]SyncInfo, 0, len(byMeter))
	for _, info := range byMeter {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].MeterID < infos[j].MeterID })
	return infos
}

// Lister reads issuing contracts. Contracts are managed elsewhere; this
// service only reads them.
type Lister interface {
	ListActive(ctx context.Context, at interval.Timestamp) ([]IssuingContract, error)
	ListByMeter(ctx context.Context, meterID string) ([]IssuingContract, error)
}
