package cache

import "time"

const (
	// DefaultL1SizeCap is the hard per-entry byte threshold for L1
	// eligibility, regardless of category configuration.
	DefaultL1SizeCap = 10 * 1024
)

// Category names used by the sync engine
const (
	// CategoryPageContent holds full page/record payloads. Volatile and
	// potentially large, so it stays out of L1.
	CategoryPageContent = "page-content"

	// CategoryRecordDetail holds per-record detail fetch responses
	CategoryRecordDetail = "record-detail"

	// CategoryQueryResult holds collection query pages
	CategoryQueryResult = "query-result"

	// CategoryStructure holds structural/metadata responses (long TTL)
	CategoryStructure = "db-structure"

	// CategorySizeEstimate memoizes dataset size estimates
	CategorySizeEstimate = "size-estimate"
)

// Profile is the static policy for a named cache category
type Profile struct {
	// TTL is the default time-to-live for entries in this category
	TTL time.Duration

	// L1Eligible marks whether entries may be promoted into L1
	L1Eligible bool

	// SizeCapBytes is the per-category serialized size limit for L1
	// promotion. The global DefaultL1SizeCap applies on top of it.
	SizeCapBytes int
}

// defaultProfiles is the built-in category policy table, loaded at startup
var defaultProfiles = map[string]Profile{
	CategoryPageContent:  {TTL: 5 * time.Minute, L1Eligible: false, SizeCapBytes: DefaultL1SizeCap},
	CategoryRecordDetail: {TTL: 10 * time.Minute, L1Eligible: true, SizeCapBytes: DefaultL1SizeCap},
	CategoryQueryResult:  {TTL: 5 * time.Minute, L1Eligible: false, SizeCapBytes: DefaultL1SizeCap},
	CategoryStructure:    {TTL: time.Hour, L1Eligible: true, SizeCapBytes: DefaultL1SizeCap},
	CategorySizeEstimate: {TTL: 30 * time.Minute, L1Eligible: true, SizeCapBytes: DefaultL1SizeCap},
}

// fallbackProfile applies to unrecognized categories
var fallbackProfile = Profile{TTL: 5 * time.Minute, L1Eligible: false, SizeCapBytes: DefaultL1SizeCap}

// ProfileFor returns the policy for the named category
func ProfileFor(category string) Profile {
	if p, ok := defaultProfiles[category]; ok {
		return p
	}
	return fallbackProfile
}
