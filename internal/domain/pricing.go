package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// MaterialsSumTolerance is the accepted deviation from 100 when validating a
// material mix.
const MaterialsSumTolerance = 0.1

var (
	// ErrPricingInvalidInput signals a breakdown request with out-of-range values.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingMaterialsSum signals a material mix whose percentages do not sum to 100.
	ErrPricingMaterialsSum = errors.New("pricing: material percentages must sum to 100")
)

// BreakdownInput carries everything needed to derive a price breakdown.
// Unit prices come from the catalog; the calculator itself performs no I/O.
// A nil VATRatePercent applies DefaultVATRatePercent; an explicit zero means
// the order is VAT-exempt.
type BreakdownInput struct {
	WeightKg       float64
	Materials      map[string]float64
	UnitPrices     map[string]float64
	DeliveryFee    float64
	DeliveryType   DeliveryType
	VATRatePercent *float64
	Notes          string
	ComputedAt     time.Time
	ComputedBy     string
}

// ValidateMaterials checks that the mix percentages sum to 100 within tolerance.
func ValidateMaterials(materials map[string]float64) error {
	if len(materials) == 0 {
		return fmt.Errorf("%w: at least one material is required", ErrPricingInvalidInput)
	}
	var sum float64
	for name, pct := range materials {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: material name must not be blank", ErrPricingInvalidInput)
		}
		if pct < 0 {
			return fmt.Errorf("%w: material %q has negative percentage", ErrPricingInvalidInput, name)
		}
		sum += pct
	}
	if math.Abs(sum-100) > MaterialsSumTolerance {
		return fmt.Errorf("%w: got %.2f", ErrPricingMaterialsSum, sum)
	}
	return nil
}

// ComputeBreakdown derives the price breakdown:
//
//	materialCost = Σ weightKg * (pct/100) * unitPrice[name]
//	subtotal     = materialCost + deliveryFee
//	vatAmount    = subtotal * (vatRate/100)
//	total        = subtotal + vatAmount
//
// Materials without a catalog unit price contribute zero and are reported in
// MissingMaterials rather than silently skipped. Full precision is retained;
// callers round only when presenting. The function is deterministic: equal
// inputs yield identical outputs.
func ComputeBreakdown(input BreakdownInput) (PriceBreakdown, error) {
	if input.WeightKg <= 0 {
		return PriceBreakdown{}, fmt.Errorf("%w: weight must be positive", ErrPricingInvalidInput)
	}
	if input.DeliveryFee < 0 {
		return PriceBreakdown{}, fmt.Errorf("%w: delivery fee must not be negative", ErrPricingInvalidInput)
	}
	if err := ValidateMaterials(input.Materials); err != nil {
		return PriceBreakdown{}, err
	}

	vatRate := DefaultVATRatePercent
	if input.VATRatePercent != nil {
		vatRate = *input.VATRatePercent
		if vatRate < 0 {
			return PriceBreakdown{}, fmt.Errorf("%w: vat rate must not be negative", ErrPricingInvalidInput)
		}
	}

	// Iterate names in sorted order so summation order, and therefore the
	// floating-point result, is identical across recomputations.
	names := make([]string, 0, len(input.Materials))
	for name := range input.Materials {
		names = append(names, name)
	}
	sort.Strings(names)

	var materialCost float64
	var missing []string
	for _, name := range names {
		unitPrice, ok := input.UnitPrices[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		materialCost += input.WeightKg * (input.Materials[name] / 100) * unitPrice
	}

	subtotal := materialCost + input.DeliveryFee
	vatAmount := subtotal * (vatRate / 100)

	return PriceBreakdown{
		WeightKg:         input.WeightKg,
		MaterialCost:     materialCost,
		DeliveryFee:      input.DeliveryFee,
		DeliveryType:     input.DeliveryType,
		VATRatePercent:   vatRate,
		Subtotal:         subtotal,
		VATAmount:        vatAmount,
		Total:            subtotal + vatAmount,
		Notes:            strings.TrimSpace(input.Notes),
		MissingMaterials: missing,
		ComputedAt:       input.ComputedAt,
		ComputedBy:       strings.TrimSpace(input.ComputedBy),
	}, nil
}

// RoundedTo2 rounds a monetary value to two decimals for presentation.
func RoundedTo2(value float64) float64 {
	return math.Round(value*100) / 100
}
