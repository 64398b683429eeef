// Package progress implements the Progress/Escalation stage (section 4.7):
// per-grievance progress, feedback, and proof analysis; per-department
// rollup and narrative report; escalation trigger evaluation.
package progress

import "time"

// SLAStatus mirrors the original agent's four-way SLA verdict.
type SLAStatus string

const (
	SLAWithin   SLAStatus = "within"
	SLABreached SLAStatus = "breached"
	SLAMet      SLAStatus = "met"
	SLANoSLA    SLAStatus = "no_sla"
)

// Health is the grievance health classification step 4.7 computes.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthStalled   Health = "stalled"
	HealthOverdue   Health = "overdue"
	HealthAtRisk    Health = "at_risk"
	HealthCompleted Health = "completed"
)

// GrievanceState is the minimal row shape the progress analysis reads.
type GrievanceState struct {
	Status              string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ResolvedAt          *time.Time
	SLADeadline         *time.Time
	WorkflowTotalSteps  int
	WorkflowDoneSteps   int
	Priority            string
}

// ProgressAnalysis is one grievance's computed progress metrics.
type ProgressAnalysis struct {
	DaysOpen               int
	DaysSinceUpdate        int
	WorkflowCompletionPct  float64
	SLAStatus              SLAStatus
	Health                 Health
	IsOverdue              bool
	IsStalled              bool
}

// AnalyzeProgress mirrors analyze_status_progress / _check_sla_status: pure
// time-and-workflow arithmetic, no network calls.
func AnalyzeProgress(g GrievanceState, now time.Time) ProgressAnalysis {
	daysOpen := int(now.Sub(g.CreatedAt).Hours() / 24)
	daysSinceUpdate := int(now.Sub(g.UpdatedAt).Hours() / 24)

	var pct float64
	if g.WorkflowTotalSteps > 0 {
		pct = float64(g.WorkflowDoneSteps) / float64(g.WorkflowTotalSteps) * 100
	}

	isOverdue := daysOpen > 30 && g.Status != "resolved"
	isStalled := daysSinceUpdate > 7

	health := HealthHealthy
	switch {
	case g.Status == "resolved":
		health = HealthCompleted
	case isStalled:
		health = HealthStalled
	case isOverdue:
		health = HealthOverdue
	case pct < 25 && daysOpen > 7:
		health = HealthAtRisk
	}

	return ProgressAnalysis{
		DaysOpen: daysOpen, DaysSinceUpdate: daysSinceUpdate,
		WorkflowCompletionPct: pct, SLAStatus: slaStatus(g, now),
		Health: health, IsOverdue: isOverdue, IsStalled: isStalled,
	}
}

func slaStatus(g GrievanceState, now time.Time) SLAStatus {
	if g.SLADeadline == nil {
		return SLANoSLA
	}
	if g.Status == "resolved" {
		if g.ResolvedAt == nil {
			return SLANoSLA
		}
		if g.ResolvedAt.After(*g.SLADeadline) {
			return SLABreached
		}
		return SLAMet
	}
	if now.After(*g.SLADeadline) {
		return SLABreached
	}
	return SLAWithin
}

// FeedbackState is the minimal citizen-feedback row the analysis reads.
type FeedbackState struct {
	HasFeedback bool
	Rating      float64
	Sentiment   string
}

// ProofState is the minimal cost-tracking/document row the analysis reads.
type ProofState struct {
	ImagePath      string
	DocumentCount  int
}

// ProofAnalysis reports whether a grievance has supporting proof on file.
type ProofAnalysis struct {
	HasProof      bool
	DocumentCount int
}

// AnalyzeProof mirrors analyze_proof_documents, minus the vision step the
// original disables for its text-only model.
func AnalyzeProof(p ProofState) ProofAnalysis {
	return ProofAnalysis{HasProof: p.ImagePath != "" || p.DocumentCount > 0, DocumentCount: p.DocumentCount}
}

// DepartmentRollup is the department-level performance summary.
type DepartmentRollup struct {
	TotalGrievances   int
	ResolvedCount     int
	ResolutionRate    float64
	AverageRating     float64
	AverageResolution float64 // days
	PerformanceScore  float64
}

// RollUpDepartment combines resolution rate, average rating, and average
// resolution time into the weighted performance score of section 4.7:
// 0.4·resolution_rate + 0.3·(rating·20) + 0.3·max(0,100−2·avg_days).
func RollUpDepartment(total, resolved int, ratings []float64, resolutionDays []float64) DepartmentRollup {
	r := DepartmentRollup{TotalGrievances: total, ResolvedCount: resolved}
	if total == 0 {
		return r
	}
	r.ResolutionRate = float64(resolved) / float64(total) * 100
	r.AverageRating = average(ratings)
	r.AverageResolution = average(resolutionDays)

	timeliness := 100 - 2*r.AverageResolution
	if timeliness < 0 {
		timeliness = 0
	}
	r.PerformanceScore = 0.4*r.ResolutionRate + 0.3*(r.AverageRating*20) + 0.3*timeliness
	return r
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
