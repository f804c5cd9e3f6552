package profile

import "time"

// Profile is the per-user trading eligibility record. KYC status is issued by
// an external credential service and consumed here as a flag plus an optional
// credential reference.
type Profile struct {
	Owner            string
	KYCVerified      bool
	KYCCredentialRef *string
	TotalTrades      int64
	SuccessfulTrades int64
	DisputedTrades   int64
	IsActive         bool
	CreatedAt        time.Time
}

// CanTrade reports whether the profile passes the eligibility guards shared
// by order creation and acceptance.
func (p Profile) CanTrade() bool {
	return p.KYCVerified && p.IsActive
}
