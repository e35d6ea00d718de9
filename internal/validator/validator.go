package validator

import (
	"fmt"
	"math"

	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/measurement"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

// MeasurementData is the part of a published measurement that decides
// whether it may become a certificate.
type MeasurementData struct {
	MeterType contract.MeterType
	Quantity  int64
	Quality   measurement.Quality
}

// Validator checks measurements at issuance time
type Validator struct {
	allowedQualities map[measurement.Quality]struct{}
}

// NewValidator creates a validator accepting measured and calculated readings
func NewValidator() *Validator {
	return &Validator{
		allowedQualities: map[measurement.Quality]struct{}{
			measurement.QualityMeasured:   {},
			measurement.QualityCalculated: {},
		},
	}
}

// ValidateMeasurement returns the quantity narrowed to the committed width
// when the measurement may be issued.
func (v *Validator) ValidateMeasurement(data MeasurementData) (uint32, ValidationResult) {
	result := ValidationResult{IsValid: true}

	if _, err := contract.ParseMeterType(string(data.MeterType)); err != nil {
		result.IsValid = false
		result.Reason = err.Error()
		return 0, result
	}

	if data.Quantity <= 0 {
		result.IsValid = false
		result.Reason = fmt.Sprintf("non-positive quantity %d", data.Quantity)
		return 0, result
	}

	if data.Quantity > math.MaxUint32 {
		result.IsValid = false
		result.Reason = fmt.Sprintf("quantity %d exceeds %d", data.Quantity, uint32(math.MaxUint32))
		return 0, result
	}

	if _, ok := v.allowedQualities[data.Quality]; !ok {
		result.IsValid = false
		result.Reason = fmt.Sprintf("quality %q not allowed for issuance", data.Quality)
		return 0, result
	}

	return uint32(data.Quantity), result
}
