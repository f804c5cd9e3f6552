package platform

import "time"

// Platform is the singleton configuration record: the trusted authority key
// used for oracle and arbiter checks, the treasury that collects fees, and
// the fee rate in basis points.
type Platform struct {
	Authority         string
	Treasury          string
	FeeBps            int64
	TotalVolume       int64
	TotalTransactions int64
	IsActive          bool
	CreatedAt         time.Time
}
