package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/miradorstack/mirador-authlens/internal/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	staleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	criticalRisk = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	highRisk     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	mediumRisk   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	lowRisk      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// maxRows bounds how many rows of each table are printed.
const maxRows = 10

// Render draws the view as plain terminal text.
func Render(view ViewModel, showLoading bool) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Security Authentication Analytics"))
	b.WriteString("\n")

	if showLoading {
		b.WriteString(mutedStyle.Render("Loading analytics..."))
		b.WriteString("\n")
		return b.String()
	}
	if !view.LastUpdate.IsZero() {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("Last update %s (cycle %d)", view.LastUpdate.Format("15:04:05"), view.Cycle)))
		b.WriteString("\n")
	}

	renderDescriptive(&b, view)
	renderDiagnostic(&b, view)
	renderPredictive(&b, view)
	renderPrescriptive(&b, view)
	return b.String()
}

func section(b *strings.Builder, view ViewModel, category models.Category, title string) bool {
	b.WriteString("\n")
	heading := sectionStyle.Render(title)
	if view.Stale[category] {
		heading += " " + staleStyle.Render("(stale)")
	}
	b.WriteString(heading)
	b.WriteString("\n")
	if msg, ok := view.Errors[category]; ok {
		b.WriteString(errorStyle.Render("  error: " + msg))
		b.WriteString("\n")
	}
	if !view.Has(category) {
		b.WriteString(mutedStyle.Render("  no data"))
		b.WriteString("\n")
		return false
	}
	return true
}

func renderDescriptive(b *strings.Builder, view ViewModel) {
	if !section(b, view, models.CategoryDescriptive, "Descriptive: what happened") {
		return
	}
	s := view.Descriptive.Summary
	fmt.Fprintf(b, "  events %d  failures %d  successes %d  unique IPs %d  unique users %d  failure rate %.2f%%\n",
		s.TotalEvents, s.TotalFailures, s.TotalSuccesses, s.UniqueIPs, s.UniqueUsers, s.FailureRate)
	for i, row := range view.Descriptive.TopFailed {
		if i == maxRows {
			break
		}
		fmt.Fprintf(b, "  %-15s %-30s %5d failed\n", row.IPAddress, row.UserPrincipalName, row.FailedAttempts)
	}
	if n := len(view.Descriptive.Timeline); n > 0 {
		last := view.Descriptive.Timeline[n-1]
		fmt.Fprintf(b, "  %d hourly buckets, latest %s: %d events, %d failures\n",
			n, last.Hour.Format("2006-01-02 15:04"), last.TotalEvents, last.Failures)
	}
}

func renderDiagnostic(b *strings.Builder, view ViewModel) {
	if !section(b, view, models.CategoryDiagnostic, "Diagnostic: why it happened") {
		return
	}
	for i, row := range view.Diagnostic {
		if i == maxRows {
			break
		}
		fmt.Fprintf(b, "  %-15s %-30s %5d failures  codes %v  %s\n",
			row.IPAddress, row.UserPrincipalName, row.FailureCount, row.ErrorCodes, row.LogTypes)
	}
}

func renderPredictive(b *strings.Builder, view ViewModel) {
	if !section(b, view, models.CategoryPredictive, "Predictive: what will happen") {
		return
	}
	for i, row := range view.Predictive.Anomalies {
		if i == maxRows {
			break
		}
		fmt.Fprintf(b, "  anomaly %-15s cluster %d  score %.2f\n", row.IPAddress, row.Cluster, row.AnomalyScore)
	}
	for i, row := range view.Predictive.Risks {
		if i == maxRows {
			break
		}
		fmt.Fprintf(b, "  risk    %-15s %-30s p=%.2f\n", row.IPAddress, row.UserPrincipalName, row.RiskScore)
	}
}

func renderPrescriptive(b *strings.Builder, view ViewModel) {
	if !section(b, view, models.CategoryPrescriptive, "Prescriptive: what to do") {
		return
	}
	for i, row := range view.Prescriptive {
		if i == maxRows {
			break
		}
		line := fmt.Sprintf("  [%2d] %-15s %-30s %s", row.RiskScore, row.IPAddress, row.UserPrincipalName, row.RecommendedAction)
		if row.TriggerAutomatedAction {
			line += " (automated)"
		}
		b.WriteString(riskStyle(row.RiskScore).Render(line))
		b.WriteString("\n")
	}
}

func riskStyle(score int) lipgloss.Style {
	switch {
	case score >= 95:
		return criticalRisk
	case score >= 85:
		return highRisk
	case score >= 70:
		return mediumRisk
	default:
		return lowRisk
	}
}
