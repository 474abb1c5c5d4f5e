package analytics

import "math"

// MaxRiskScore is the upper bound of every risk score.
const MaxRiskScore = 10.0

// RiskScorer maps a dimension's event volume and category diversity to a 0-10 score.
type RiskScorer interface {
	MalwareFamily(eventCount, categoryCount int) float64
	Country(eventCount, categoryCount int) float64
	Asn(eventCount, categoryCount int) float64
	Port(port, eventCount int) float64
	IP(eventCount, categoryCount int) float64
}

// wellKnownPorts score lower than unusual ports.
var wellKnownPorts = map[int]struct{}{
	80: {}, 443: {}, 22: {}, 25: {}, 53: {}, 110: {}, 143: {}, 993: {}, 995: {},
}

// HeuristicScorer is the default volume-plus-diversity scoring model.
type HeuristicScorer struct{}

var _ RiskScorer = HeuristicScorer{}

func (HeuristicScorer) MalwareFamily(eventCount, categoryCount int) float64 {
	return volumeDiversity(eventCount, 100, 5.0, categoryCount, 0.5, 3.0)
}

func (HeuristicScorer) Country(eventCount, categoryCount int) float64 {
	return volumeDiversity(eventCount, 200, 6.0, categoryCount, 0.3, 2.0)
}

func (HeuristicScorer) Asn(eventCount, categoryCount int) float64 {
	return volumeDiversity(eventCount, 150, 5.5, categoryCount, 0.4, 2.5)
}

func (HeuristicScorer) Port(port, eventCount int) float64 {
	base := 6.0
	if _, ok := wellKnownPorts[port]; ok {
		base = 3.0
	}
	return clampRisk(base + math.Min(float64(eventCount)/50.0, 4.0))
}

func (HeuristicScorer) IP(eventCount, categoryCount int) float64 {
	return volumeDiversity(eventCount, 20, 7.0, categoryCount, 0.6, 3.0)
}

func volumeDiversity(eventCount int, perPoint, volumeCap float64, categoryCount int, weight, diversityCap float64) float64 {
	volume := math.Min(float64(eventCount)/perPoint, volumeCap)
	diversity := math.Min(float64(categoryCount)*weight, diversityCap)
	return clampRisk(volume + diversity)
}

func clampRisk(v float64) float64 {
	return math.Max(0, math.Min(v, MaxRiskScore))
}

// KnownServices names the service conventionally bound to port.
func KnownServices(port int) []string {
	switch port {
	case 22:
		return []string{"SSH"}
	case 25:
		return []string{"SMTP"}
	case 53:
		return []string{"DNS"}
	case 80:
		return []string{"HTTP"}
	case 443:
		return []string{"HTTPS"}
	case 993:
		return []string{"IMAPS"}
	case 995:
		return []string{"POP3S"}
	default:
		return []string{"Unknown"}
	}
}
