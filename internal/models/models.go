package models

import "time"

// BlacklistReason categorizes why an IP was manually blacklisted.
type BlacklistReason string

const (
	ReasonManual             BlacklistReason = "Manual"
	ReasonSuspiciousActivity BlacklistReason = "Suspicious Activity"
	ReasonAbuse              BlacklistReason = "Abuse"
	ReasonSpam               BlacklistReason = "Spam"
	ReasonMalware            BlacklistReason = "Malware"
	ReasonBotnet             BlacklistReason = "Botnet"
	ReasonScanning           BlacklistReason = "Port Scanning"
	ReasonBruteForce         BlacklistReason = "Brute Force Attempts"
)

// ValidReason reports whether r is one of the known blacklist reasons.
func ValidReason(r BlacklistReason) bool {
	switch r {
	case ReasonManual, ReasonSuspiciousActivity, ReasonAbuse, ReasonSpam,
		ReasonMalware, ReasonBotnet, ReasonScanning, ReasonBruteForce:
		return true
	}
	return false
}

// BlacklistEntry is a manually blacklisted address or network.
// Expiry is enforced lazily: the entry is evicted the moment a lookup
// observes ExpiresAt in the past, there is no background sweep.
type BlacklistEntry struct {
	IP        string          `json:"ip_or_cidr"`
	Reason    BlacklistReason `json:"reason"`
	AddedAt   time.Time       `json:"added_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// Expired reports whether the entry's expiry, if set, is before now.
func (e *BlacklistEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// UploadResult summarizes a bulk blacklist upload. Invalid entries are
// skipped and counted, they never abort the batch.
type UploadResult struct {
	Success        bool   `json:"success"`
	TotalProcessed int    `json:"total_processed"`
	ValidEntries   int    `json:"valid_entries"`
	InvalidEntries int    `json:"invalid_entries"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// BlacklistStatus is a read-only snapshot of the blacklist index.
type BlacklistStatus struct {
	TotalSingleIPs int      `json:"total_single_ips"`
	TotalNetworks  int      `json:"total_networks"`
	TotalEntries   int      `json:"total_entries"`
	LastUploadTime string   `json:"last_upload_time,omitempty"`
	SampleIPs      []string `json:"sample_ips"`
	SampleNetworks []string `json:"sample_networks"`
}

// ReputationScore is the result of one analysis run. It is produced
// fresh on every call and superseded, never mutated, by recomputation.
type ReputationScore struct {
	IP              string         `json:"ip"`
	TotalScore      int            `json:"total_score"`
	AttributeScores map[string]int `json:"attribute_scores"`
	Factors         []string       `json:"factors"`
	ComputedAt      time.Time      `json:"computed_at"`
	Blacklisted     bool           `json:"blacklisted"`
}

// ScoreStats aggregates the currently stored scores. Average is always
// serialized, an empty store is told apart by Count == 0.
type ScoreStats struct {
	Count            int     `json:"count"`
	Average          float64 `json:"average"`
	BlacklistedCount int     `json:"blacklisted_count"`
	Min              int     `json:"min"`
	Max              int     `json:"max"`
}

// LocationInfo mirrors the location block of the geo provider payload.
type LocationInfo struct {
	Type          string   `json:"type"`
	Continent     string   `json:"continent"`
	ContinentCode string   `json:"continent_code"`
	Country       string   `json:"country"`
	CountryCode   string   `json:"country_code"`
	Region        string   `json:"region"`
	RegionCode    string   `json:"region_code"`
	City          string   `json:"city"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	IsEU          bool     `json:"is_eu"`
	Postal        string   `json:"postal"`
	CallingCode   string   `json:"calling_code"`
	Capital       string   `json:"capital"`
	Borders       []string `json:"borders"`
	CountryFlag   string   `json:"country_flag"`
}

// ConnectionInfo mirrors the connection block of the geo provider payload.
type ConnectionInfo struct {
	ASN    uint   `json:"asn"`
	Org    string `json:"org"`
	ISP    string `json:"isp"`
	Domain string `json:"domain"`
}

// TimezoneInfo mirrors the timezone block of the geo provider payload.
type TimezoneInfo struct {
	ID          string `json:"id"`
	Abbr        string `json:"abbr"`
	IsDST       bool   `json:"is_dst"`
	Offset      int    `json:"offset"`
	UTC         string `json:"utc"`
	CurrentTime string `json:"current_time"`
}

// GeoResult is everything a geo provider knows about one IP.
type GeoResult struct {
	IP         string          `json:"ip"`
	Location   *LocationInfo   `json:"location"`
	Connection *ConnectionInfo `json:"connection"`
	Timezone   *TimezoneInfo   `json:"timezone"`
}

// Facts flattens a GeoResult into the attribute map the rule evaluator
// consumes. Keys follow the rule attribute names; connection_type
// carries location.type.
func (g *GeoResult) Facts() map[string]interface{} {
	facts := make(map[string]interface{})
	if g.Location != nil {
		facts["country"] = g.Location.Country
		facts["country_code"] = g.Location.CountryCode
		facts["city"] = g.Location.City
		facts["continent"] = g.Location.Continent
		facts["continent_code"] = g.Location.ContinentCode
		facts["region"] = g.Location.Region
		facts["region_code"] = g.Location.RegionCode
		facts["latitude"] = g.Location.Latitude
		facts["longitude"] = g.Location.Longitude
		facts["is_eu"] = g.Location.IsEU
		facts["connection_type"] = g.Location.Type
	}
	if g.Connection != nil {
		facts["isp"] = g.Connection.ISP
		facts["org"] = g.Connection.Org
		facts["asn"] = g.Connection.ASN
		facts["domain"] = g.Connection.Domain
	}
	return facts
}

// AnalysisStatus is the terminal state of one analyze request.
type AnalysisStatus string

const (
	StatusActive      AnalysisStatus = "active"
	StatusBlacklisted AnalysisStatus = "blacklisted"
	StatusError       AnalysisStatus = "error"
)

// Analysis is the full analyze response: terminal status, geo blocks
// when a lookup ran, the score, and the blacklist entry on a hit.
type Analysis struct {
	Status         AnalysisStatus   `json:"status"`
	IP             string           `json:"ip"`
	Location       *LocationInfo    `json:"location,omitempty"`
	Connection     *ConnectionInfo  `json:"connection,omitempty"`
	Timezone       *TimezoneInfo    `json:"timezone,omitempty"`
	Score          *ReputationScore `json:"reputation_score,omitempty"`
	BlacklistEntry *BlacklistEntry  `json:"blacklist_entry,omitempty"`
	Error          string           `json:"error,omitempty"`
}
