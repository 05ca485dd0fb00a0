package domain

// MaxFeePercent is the upper bound for FeePolicy.FeePercent.
const MaxFeePercent = 100

// FeePolicy is the process-wide operator fee configuration.
// Whitelist membership and per-token earnings are stored alongside it and
// accessed through storage.PolicyRepo.
type FeePolicy struct {
	FeePercent uint8 // share of accrued interest kept by the operator, 0-100
}
