// Package escalation determines whether a department's grievance backlog
// warrants escalation and, if so, routes it to an officer and records it.
package escalation

// Trigger is one condition contributing to an escalation decision,
// grounded in escalation_analyzer.py's fixed trigger checklist.
type Trigger struct {
	Type     string
	Severity string // critical | high | medium
	Reason   string
}

// Level is the escalation level assigned to a department's grievances.
type Level string

const (
	LevelNone      Level = "none"
	LevelStandard  Level = "standard"
	LevelPriority  Level = "priority"
	LevelUrgent    Level = "urgent"
	LevelImmediate Level = "immediate"
)

// Decision is the outcome of evaluating one department's report.
type Decision struct {
	NeedsEscalation bool
	Level           Level
	Triggers        []Trigger
}

// Evaluate mirrors escalation_analyzer.py's trigger checklist: overdue
// count, stalled count, critical-priority count, performance score, and
// resolution rate each independently contribute a trigger.
func Evaluate(overdueCount, stalledCount, criticalCount int, performanceScore, resolutionRate float64) Decision {
	var triggers []Trigger

	if overdueCount > 0 {
		sev := "medium"
		if overdueCount > 10 {
			sev = "high"
		}
		triggers = append(triggers, Trigger{Type: "overdue_grievances", Severity: sev})
	}
	if stalledCount > 0 {
		sev := "medium"
		if stalledCount > 5 {
			sev = "high"
		}
		triggers = append(triggers, Trigger{Type: "stalled_grievances", Severity: sev})
	}
	if criticalCount > 0 {
		triggers = append(triggers, Trigger{Type: "critical_priority", Severity: "critical"})
	}
	if performanceScore < 50 {
		triggers = append(triggers, Trigger{Type: "poor_performance", Severity: "high"})
	}
	if resolutionRate < 40 {
		triggers = append(triggers, Trigger{Type: "low_resolution_rate", Severity: "high"})
	}

	return Decision{
		NeedsEscalation: len(triggers) > 0,
		Level:           determineLevel(triggers),
		Triggers:        triggers,
	}
}

// determineLevel maps trigger severities to an escalation level: any
// critical trigger escalates immediately, two or more high triggers are
// urgent, a single high trigger is priority, anything else is standard.
func determineLevel(triggers []Trigger) Level {
	if len(triggers) == 0 {
		return LevelNone
	}
	var highCount int
	var hasCritical bool
	for _, t := range triggers {
		switch t.Severity {
		case "critical":
			hasCritical = true
		case "high":
			highCount++
		}
	}
	switch {
	case hasCritical:
		return LevelImmediate
	case highCount >= 2:
		return LevelUrgent
	case highCount == 1:
		return LevelPriority
	default:
		return LevelStandard
	}
}
