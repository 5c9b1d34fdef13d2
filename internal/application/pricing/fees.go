package pricing

import (
	"fmt"
	"strings"
)

// FeeTable is a flat per-region delivery fee with a default for unlisted regions.
type FeeTable struct {
	fees       map[string]int64
	defaultFee int64
}

func NewFeeTable(fees map[string]int64, defaultFee int64) (*FeeTable, error) {
	if defaultFee < 0 {
		return nil, fmt.Errorf("pricing: default delivery fee must not be negative")
	}
	t := &FeeTable{fees: make(map[string]int64, len(fees)), defaultFee: defaultFee}
	for region, fee := range fees {
		key := normalizeRegion(region)
		if key == "" {
			return nil, fmt.Errorf("pricing: empty region in delivery fee table")
		}
		if fee < 0 {
			return nil, fmt.Errorf("pricing: delivery fee for %q must not be negative", region)
		}
		t.fees[key] = fee
	}
	return t, nil
}

// Resolve returns 0 for an empty region, the listed fee when present, otherwise the default.
func (t *FeeTable) Resolve(region string) int64 {
	key := normalizeRegion(region)
	if key == "" || t == nil {
		return 0
	}
	if fee, ok := t.fees[key]; ok {
		return fee
	}
	return t.defaultFee
}

func (t *FeeTable) Default() int64 { return t.defaultFee }

func normalizeRegion(r string) string {
	return strings.ToLower(strings.TrimSpace(r))
}
