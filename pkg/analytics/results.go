package analytics

import (
	"time"

	"github.com/google/uuid"
)

// TimelineDataPoint is the event count of one (bucket, category) pair.
type TimelineDataPoint struct {
	Timestamp            time.Time `json:"timestamp"`
	Category             string    `json:"category"`
	Count                int       `json:"count"`
	UniqueSourceIps      int       `json:"unique_source_ips"`
	UniqueDestinationIps int       `json:"unique_destination_ips"`
}

// ComparativeTimelineDataPoint adds the count of the same category at the same
// offset in the comparison window.
type ComparativeTimelineDataPoint struct {
	TimelineDataPoint
	PreviousPeriodCount int     `json:"previous_period_count"`
	PercentageChange    float64 `json:"percentage_change"`
	TrendDirection      string  `json:"trend_direction"`
}

type MalwareTimelineDataPoint struct {
	Timestamp         time.Time `json:"timestamp"`
	MalwareFamilyName string    `json:"malware_family_name"`
	Count             int       `json:"count"`
}

// ThreatEventSummary is the whole-period rollup.
type ThreatEventSummary struct {
	TotalEvents             int            `json:"total_events"`
	UniqueSourceIps         int            `json:"unique_source_ips"`
	UniqueDestinationIps    int            `json:"unique_destination_ips"`
	UniqueMalwareFamilies   int            `json:"unique_malware_families"`
	UniqueCountries         int            `json:"unique_countries"`
	UniqueAsns              int            `json:"unique_asns"`
	MostActiveCategory      string         `json:"most_active_category"`
	MostTargetedCountry     string         `json:"most_targeted_country"`
	MostActiveMalwareFamily string         `json:"most_active_malware_family"`
	AverageEventsPerHour    float64        `json:"average_events_per_hour"`
	PeakActivityTime        time.Time      `json:"peak_activity_time"`
	PeakActivityCount       int            `json:"peak_activity_count"`
	CategoryDistribution    map[string]int `json:"category_distribution"`
}

// ThreatEventDashboardMetrics is the rolling 24h and 1h rollup.
type ThreatEventDashboardMetrics struct {
	EventsLast24Hours             int                   `json:"events_last_24_hours"`
	EventsLastHour                int                   `json:"events_last_hour"`
	EventsYesterday               int                   `json:"events_yesterday"`
	PercentageChangeFromYesterday float64               `json:"percentage_change_from_yesterday"`
	TrendDirection                string                `json:"trend_direction"`
	ActiveThreatsCurrently        int                   `json:"active_threats_currently"`
	CriticalAlertsCount           int                   `json:"critical_alerts_count"`
	TopThreatCategory             string                `json:"top_threat_category"`
	TopSourceCountry              string                `json:"top_source_country"`
	RecentHighRiskEvents          []RecentHighRiskEvent `json:"recent_high_risk_events"`
	GeneratedAt                   time.Time             `json:"generated_at"`
}

type RecentHighRiskEvent struct {
	EventID           uuid.UUID `json:"event_id"`
	Timestamp         time.Time `json:"timestamp"`
	SourceAddress     string    `json:"source_address"`
	Category          string    `json:"category"`
	MalwareFamilyName string    `json:"malware_family_name"`
	RiskScore         float64   `json:"risk_score"`
	CountryName       string    `json:"country_name"`
}

type CategoryAnalytics struct {
	Category         string    `json:"category"`
	Count            int       `json:"count"`
	Percentage       float64   `json:"percentage"`
	PreviousCount    int       `json:"previous_count"`
	PercentageChange float64   `json:"percentage_change"`
	TrendDirection   string    `json:"trend_direction"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
}

type MalwareFamilyAnalytics struct {
	MalwareFamilyID      uuid.UUID `json:"malware_family_id"`
	FamilyName           string    `json:"family_name"`
	Count                int       `json:"count"`
	Percentage           float64   `json:"percentage"`
	RiskScore            float64   `json:"risk_score"`
	AssociatedCategories []string  `json:"associated_categories"`
	TopSourceCountries   []string  `json:"top_source_countries"`
	FirstSeen            time.Time `json:"first_seen"`
	LastSeen             time.Time `json:"last_seen"`
}

type GeographicalAnalytics struct {
	CountryID          uuid.UUID `json:"country_id"`
	CountryName        string    `json:"country_name"`
	CountryCode        string    `json:"country_code"`
	Count              int       `json:"count"`
	Percentage         float64   `json:"percentage"`
	IsSource           bool      `json:"is_source"`
	TopCategories      []string  `json:"top_categories"`
	TopMalwareFamilies []string  `json:"top_malware_families"`
	RiskScore          float64   `json:"risk_score"`
}

type AsnAnalytics struct {
	AsnRegistryID    uuid.UUID `json:"asn_registry_id"`
	AsnNumber        string    `json:"asn_number"`
	OrganizationName string    `json:"organization_name"`
	Count            int       `json:"count"`
	Percentage       float64   `json:"percentage"`
	TopCategories    []string  `json:"top_categories"`
	TopSourceIps     []string  `json:"top_source_ips"`
	RiskScore        float64   `json:"risk_score"`
}

type PortAnalytics struct {
	Port               int      `json:"port"`
	PortType           string   `json:"port_type"` // source or destination
	Count              int      `json:"count"`
	Percentage         float64  `json:"percentage"`
	AssociatedServices []string `json:"associated_services"`
	TopCategories      []string `json:"top_categories"`
	RiskScore          float64  `json:"risk_score"`
}

type ProtocolAnalytics struct {
	ProtocolID    uuid.UUID `json:"protocol_id"`
	ProtocolName  string    `json:"protocol_name"`
	Count         int       `json:"count"`
	Percentage    float64   `json:"percentage"`
	TopPorts      []int     `json:"top_ports"`
	TopCategories []string  `json:"top_categories"`
}

type IpReputationAnalytics struct {
	IPAddress            string    `json:"ip_address"`
	IPType               string    `json:"ip_type"`
	Count                int       `json:"count"`
	RiskScore            float64   `json:"risk_score"`
	CountryName          string    `json:"country_name"`
	AsnOrganization      string    `json:"asn_organization"`
	AssociatedCategories []string  `json:"associated_categories"`
	FirstSeen            time.Time `json:"first_seen"`
	LastSeen             time.Time `json:"last_seen"`
}

// ThreatLandscapeOverview composes the main dashboard views of one window.
type ThreatLandscapeOverview struct {
	Summary            ThreatEventSummary       `json:"summary"`
	TopCategories      []CategoryAnalytics      `json:"top_categories"`
	TopSourceCountries []GeographicalAnalytics  `json:"top_source_countries"`
	TopMalwareFamilies []MalwareFamilyAnalytics `json:"top_malware_families"`
	TopAsns            []AsnAnalytics           `json:"top_asns"`
	HourlyTimeline     []TimelineDataPoint      `json:"hourly_timeline"`
	RecentAnomalies    []AnomalyDetectionResult `json:"recent_anomalies"`
	GeneratedAt        time.Time                `json:"generated_at"`
	AnalysisPeriod     time.Duration            `json:"analysis_period"`
}
