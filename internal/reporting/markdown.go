package reporting

import (
	"fmt"
	"strings"
	"time"

	"multipair-engine/internal/domain"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Decision Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.SessionID != "" {
		sb.WriteString(fmt.Sprintf("Session: %s\n\n", r.SessionID))
	}

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Decisions | %d |\n", r.Stats.TotalDecisions))
	sb.WriteString(fmt.Sprintf("| Executed | %d |\n", r.Stats.Executed))
	sb.WriteString(fmt.Sprintf("| Rejected | %d |\n", r.Stats.Rejected))
	sb.WriteString(fmt.Sprintf("| Execution Rate | %.2f%% |\n", r.Stats.ExecutionRate*100))
	sb.WriteString(fmt.Sprintf("| Avg Position Size | %.2f |\n", r.Stats.AvgPositionSize))
	sb.WriteString(fmt.Sprintf("| Avg Target | %.4f%% |\n", r.Stats.AvgTarget*100))
	sb.WriteString(fmt.Sprintf("| Total Budget | %.2f |\n", r.Budget.TotalBudget))
	sb.WriteString(fmt.Sprintf("| Released Budget | %.2f |\n", r.Released))
	sb.WriteString(fmt.Sprintf("| Used Budget | %.2f |\n", r.Budget.UsedBudget))
	sb.WriteString("\n")

	// Pairs
	sb.WriteString("## Pairs\n\n")
	if summaries := r.PairSummaries(); len(summaries) > 0 {
		sb.WriteString("| Pair | Decisions | Executed | Volume | Avg Target |\n")
		sb.WriteString("|------|-----------|----------|--------|------------|\n")
		for _, s := range summaries {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %.2f | %.4f%% |\n",
				s.Pair, s.Decisions, s.Executed, s.Volume, s.AvgTarget*100))
		}
	} else {
		sb.WriteString("No decisions.\n")
	}
	sb.WriteString("\n")

	// Rejections
	sb.WriteString("## Rejection Reasons\n\n")
	if reasons := r.Stats.TopRejections(); len(reasons) > 0 {
		sb.WriteString("| Reason | Count |\n")
		sb.WriteString("|--------|-------|\n")
		for _, reason := range reasons {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", reason, r.Stats.RejectionReasons[reason]))
		}
	} else {
		sb.WriteString("No rejections.\n")
	}
	sb.WriteString("\n")

	// Decisions
	sb.WriteString("## Decisions\n\n")
	if len(r.Decisions) > 0 {
		sb.WriteString("| Time | Pair | Dir | Action | Reason | Entry | Target | Size |\n")
		sb.WriteString("|------|------|-----|--------|--------|-------|--------|------|\n")
		for _, d := range r.Decisions {
			target, size := "-", "-"
			if d.Executed() && d.Position != nil {
				target = fmt.Sprintf("%.4f%%", d.Position.ExitTarget*100)
				size = fmt.Sprintf("%.2f", d.Position.PositionSize)
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %.8g | %s | %s |\n",
				d.Timestamp.Format(time.RFC3339), d.Pair, d.Direction, d.Action, d.Reason, d.EntryPrice, target, size))
		}
	} else {
		sb.WriteString("No decisions.\n")
	}
	sb.WriteString("\n")

	// Risk checklists of rejected proposals
	var riskRejected []*domain.Decision
	for _, d := range r.Decisions {
		if d.Reason == domain.ReasonRiskRejected && d.Risk != nil {
			riskRejected = append(riskRejected, d)
		}
	}
	if len(riskRejected) > 0 {
		sb.WriteString("## Risk Rejections\n\n")
		for _, d := range riskRejected {
			sb.WriteString(fmt.Sprintf("### %s %s at %s\n\n", d.Pair, d.Direction, d.Timestamp.Format(time.RFC3339)))
			sb.WriteString(renderChecklist(d.Risk.Criteria))
			sb.WriteString("\n")
		}
	}

	// Errors
	if len(r.Errors) > 0 {
		sb.WriteString("## Errors\n\n")
		for _, e := range r.Errors {
			sb.WriteString(fmt.Sprintf("- %s\n", e))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderChecklist renders risk criteria as a numbered PASS/FAIL table.
func renderChecklist(criteria []domain.CriterionResult) string {
	var sb strings.Builder

	sb.WriteString("| # | Criterion | Threshold | Actual | Pass |\n")
	sb.WriteString("|---|-----------|-----------|--------|------|\n")
	passed := 0
	for i, c := range criteria {
		passStr := "PASS"
		if !c.Pass {
			passStr = "FAIL"
		} else {
			passed++
		}
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
			i+1, c.Name, c.Threshold, c.Actual, passStr))
	}
	sb.WriteString(fmt.Sprintf("\nCriteria: %d/%d passed\n", passed, len(criteria)))
	return sb.String()
}
