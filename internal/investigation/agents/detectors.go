package agents

import (
	"sort"
	"time"

	"github.com/linnemanlabs/warden/internal/investigation"
)

// Detection is a deterministic pattern verdict that replaces the model call.
type Detection struct {
	Confidence  float64
	RiskFactors []string
	Evidence    map[string]any
}

// Detector scores one alert type without the text-generation collaborator.
// Detect returns false when it has no opinion and the model path should run.
type Detector interface {
	AlertType() investigation.AlertType
	Detect(alert *investigation.AlertContext, evidence map[string]any) (Detection, bool)
}

// DefaultDetectors returns the stock detectors.
func DefaultDetectors(cfg investigation.Config) []Detector {
	return []Detector{
		VelocityDetector{},
		HighRiskLocationDetector{Config: cfg},
	}
}

const (
	velocityWindow    = 5 * time.Minute
	velocityThreshold = 5
)

// VelocityDetector counts historical bursts of at least five transactions
// within five minutes. Fewer bursts means the alert is more unusual.
type VelocityDetector struct{}

// AlertType implements Detector.
func (VelocityDetector) AlertType() investigation.AlertType { return investigation.AlertVelocity }

// Detect implements Detector.
func (VelocityDetector) Detect(_ *investigation.AlertContext, evidence map[string]any) (Detection, bool) {
	n := countVelocityEvents(evidence)

	var c float64
	switch {
	case n >= 5:
		c = 0.2
	case n > 1:
		c = 0.6
	default:
		c = 0.85
	}
	return Detection{
		Confidence:  c,
		RiskFactors: []string{"High velocity activity"},
		Evidence:    map[string]any{"historical_velocity_events_count": n},
	}, true
}

// countVelocityEvents scans the transaction history in timestamp order. Each
// window opens at the current transaction and spans velocityWindow inclusive;
// the scan resumes after the window whether or not it was an event.
func countVelocityEvents(evidence map[string]any) int {
	rows := largestRowSet(evidence, "transaction_id")
	if len(rows) == 0 {
		return 0
	}

	times := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		if ts, ok := rowTime(r["timestamp"]); ok {
			times = append(times, ts)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	events := 0
	for i := 0; i < len(times); {
		end := times[i].Add(velocityWindow)
		j := i
		for j < len(times) && !times[j].After(end) {
			j++
		}
		if j-i >= velocityThreshold {
			events++
		}
		i = j
	}
	return events
}

// largestRowSet returns the biggest row list whose first row has field. Ties
// go to the lexically first evidence key.
func largestRowSet(evidence map[string]any, field string) []investigation.Row {
	var best []investigation.Row
	for _, k := range sortedKeys(evidence) {
		rows, ok := rowsOf(evidence[k])
		if !ok || len(rows) == 0 {
			continue
		}
		if _, ok := rows[0][field]; !ok {
			continue
		}
		if len(rows) > len(best) {
			best = rows
		}
	}
	return best
}

var rowTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func rowTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range rowTimeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// HighRiskLocationDetector marks transactions to a configured high-risk
// location as true positives.
type HighRiskLocationDetector struct {
	Config investigation.Config
}

// AlertType implements Detector.
func (HighRiskLocationDetector) AlertType() investigation.AlertType {
	return investigation.AlertHighRiskLocation
}

// Detect implements Detector. Locations outside the set are left to the model.
func (d HighRiskLocationDetector) Detect(alert *investigation.AlertContext, _ map[string]any) (Detection, bool) {
	if alert == nil || !d.Config.IsHighRiskLocation(alert.Location) {
		return Detection{}, false
	}
	return Detection{
		Confidence:  0.9,
		RiskFactors: []string{"Transaction to high-risk location " + alert.Location},
		Evidence:    map[string]any{"location": alert.Location, "high_risk": true},
	}, true
}
