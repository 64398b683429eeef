package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/blob"
	"github.com/civicpipeline/grievance-pipeline/internal/escalation"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"go.uber.org/zap"
)

// criticalPriority is the priority value that always counts toward the
// critical-priority escalation trigger, matching the severity classifier's
// vocabulary used elsewhere in the pipeline.
const criticalPriority = "critical"

// Processor runs one scheduled (or one-shot) pass of the Progress stage
// over one or every active department.
type Processor struct {
	repo     *Repository
	escal    *escalation.Repository
	analyzer aiservices.TextAnalyzer
	blobs    blob.Store
	casing   escalation.EnumCasing
	log      *zap.Logger
	now      func() time.Time
}

func New(repo *Repository, escal *escalation.Repository, analyzer aiservices.TextAnalyzer, blobs blob.Store, casing escalation.EnumCasing, log *zap.Logger) *Processor {
	return &Processor{repo: repo, escal: escal, analyzer: analyzer, blobs: blobs, casing: casing, log: log, now: time.Now}
}

// RunAll processes every active department. A single department's failure
// is logged and does not stop the others.
func (p *Processor) RunAll(ctx context.Context) error {
	depts, err := p.repo.ActiveDepartments(ctx)
	if err != nil {
		return fmt.Errorf("list active departments: %w", err)
	}
	for _, id := range depts {
		if err := p.RunDepartment(ctx, id); err != nil {
			p.log.Error("progress run failed for department", obs.String("department_id", id), obs.Err(err))
		}
	}
	return nil
}

// RunDepartment runs one department's progress analysis, narrative
// generation, and escalation evaluation.
func (p *Processor) RunDepartment(ctx context.Context, departmentID string) error {
	rows, err := p.repo.GrievancesForDepartment(ctx, departmentID)
	if err != nil {
		return fmt.Errorf("load grievances: %w", err)
	}

	now := p.now()
	var (
		overdueCount, stalledCount, criticalCount, resolvedCount int
		ratings, resolutionDays                                  []float64
	)
	escalationCandidates := make([]GrievanceRow, 0)

	for _, row := range rows {
		pa := AnalyzeProgress(row.State, now)
		if pa.IsOverdue {
			overdueCount++
		}
		if pa.IsStalled {
			stalledCount++
		}
		if row.State.Priority == criticalPriority {
			criticalCount++
		}
		if row.State.Status == "resolved" {
			resolvedCount++
			if row.State.ResolvedAt != nil {
				resolutionDays = append(resolutionDays, row.State.ResolvedAt.Sub(row.State.CreatedAt).Hours()/24)
			}
		}
		if row.Feedback.HasFeedback && row.Feedback.Rating > 0 {
			ratings = append(ratings, row.Feedback.Rating)
		}
		if pa.SLAStatus == SLABreached || pa.IsOverdue {
			escalationCandidates = append(escalationCandidates, row)
		}
	}

	rollup := RollUpDepartment(len(rows), resolvedCount, ratings, resolutionDays)

	narrative, err := p.generateNarrative(ctx, departmentID, rollup, overdueCount, stalledCount)
	if err != nil {
		p.log.Warn("narrative generation failed", obs.String("department_id", departmentID), obs.Err(err))
		narrative = fmt.Sprintf("Department %s: %d grievances, %.1f%% resolution rate, performance score %.1f.",
			departmentID, len(rows), rollup.ResolutionRate, rollup.PerformanceScore)
	}

	blobURL := blob.ProgressReportPath(departmentID, now)
	if err := p.blobs.Put(ctx, blobURL, "text/markdown", []byte(narrative)); err != nil {
		p.log.Warn("upload progress report failed", obs.String("department_id", departmentID), obs.Err(err))
	} else if err := p.repo.SaveInsight(ctx, departmentID, narrative, blobURL, now); err != nil {
		p.log.Warn("save ai insight failed", obs.String("department_id", departmentID), obs.Err(err))
	}

	decision := escalation.Evaluate(overdueCount, stalledCount, criticalCount, rollup.PerformanceScore, rollup.ResolutionRate)
	if !decision.NeedsEscalation {
		return nil
	}
	return p.escalate(ctx, departmentID, decision, escalationCandidates)
}

func (p *Processor) generateNarrative(ctx context.Context, departmentID string, rollup DepartmentRollup, overdueCount, stalledCount int) (string, error) {
	result, err := p.analyzer.Analyze(ctx, "department_progress_narrative", map[string]any{
		"department_id":      departmentID,
		"total_grievances":   rollup.TotalGrievances,
		"resolution_rate":    rollup.ResolutionRate,
		"average_rating":     rollup.AverageRating,
		"average_resolution": rollup.AverageResolution,
		"performance_score":  rollup.PerformanceScore,
		"overdue_count":      overdueCount,
		"stalled_count":      stalledCount,
	})
	if err != nil {
		return "", err
	}
	return result.Raw, nil
}

// escalate raises one escalation row per candidate grievance that has not
// already been escalated, all tied to the same department officer and
// trigger-derived level.
func (p *Processor) escalate(ctx context.Context, departmentID string, decision escalation.Decision, candidates []GrievanceRow) error {
	officerID, err := p.escal.PickOfficer(ctx, departmentID)
	if err != nil {
		return fmt.Errorf("pick escalation officer: %w", err)
	}
	if officerID == "" {
		p.log.Warn("no officer available for escalation", obs.String("department_id", departmentID))
		return nil
	}

	reasons := make([]string, 0, len(decision.Triggers))
	for _, t := range decision.Triggers {
		reasons = append(reasons, t.Type)
	}

	for _, row := range candidates {
		already, err := p.escal.AlreadyEscalated(ctx, row.ID)
		if err != nil {
			p.log.Warn("check existing escalation failed", obs.String("grievance_id", row.ID), obs.Err(err))
			continue
		}
		if already {
			continue
		}
		if err := p.escal.Save(ctx, row.ID, officerID, decision.Level, p.casing, reasons); err != nil {
			p.log.Warn("save escalation failed", obs.String("grievance_id", row.ID), obs.Err(err))
			continue
		}
		obs.EscalationsRaised.WithLabelValues(string(decision.Level)).Inc()
	}
	return nil
}
