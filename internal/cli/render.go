package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/matzehuels/cratestatus/pkg/analysis"
	"github.com/matzehuels/cratestatus/pkg/manifest"
	"github.com/matzehuels/cratestatus/pkg/status"
)

var (
	colName    = lipgloss.NewStyle().Width(28)
	colReq     = lipgloss.NewStyle().Width(16)
	colVersion = lipgloss.NewStyle().Width(14)
)

// renderResult prints a human-readable report: a header with the overall
// severity, then one table per manifest.
func renderResult(w io.Writer, res *analysis.Result) {
	sev := res.Summary.Severity
	fmt.Fprintln(w, StyleTitle.Render(res.Identity.String())+"  "+severityStyle(sev).Render(sev.String()))
	fmt.Fprintln(w, StyleDim.Render(summaryLine(res.Summary)))
	if res.Stale {
		fmt.Fprintln(w, styleIconWarning.Render(iconWarning)+" "+StyleWarning.Render("registry or advisory data is stale"))
	}

	for _, m := range res.Manifests {
		fmt.Fprintln(w)
		title := m.Path
		if m.Package != "" {
			title = m.Package + " " + StyleDim.Render("("+m.Path+")")
		}
		if m.Version != "" {
			title += " " + StyleNumber.Render(m.Version)
		}
		fmt.Fprintln(w, StyleValue.Bold(true).Render(title))
		if m.Error != "" {
			fmt.Fprintln(w, "  "+severityStyle(status.Unknown).Render(iconError+" "+m.Error))
			continue
		}
		if len(m.Dependencies) == 0 {
			fmt.Fprintln(w, "  "+StyleDim.Render("no dependencies"))
			continue
		}
		fmt.Fprintln(w, "  "+StyleDim.Render(colName.Render("crate")+colReq.Render("required")+
			colVersion.Render("matched")+colVersion.Render("latest")+"status"))
		for _, s := range m.Dependencies {
			fmt.Fprintln(w, "  "+dependencyRow(s, res.Policy))
		}
	}
}

func dependencyRow(s status.Status, policy status.Policy) string {
	d := s.Dependency
	name := d.Name
	if d.Package != "" && d.Package != d.Name {
		name += " " + iconArrow + " " + d.Package
	}
	if d.Kind != manifest.KindNormal {
		name += " [" + string(d.Kind) + "]"
	}

	matched, latest := "-", "-"
	if s.Matched != nil {
		matched = s.Matched.String()
	}
	if s.Latest != nil {
		latest = s.Latest.String()
	}

	row := colName.Render(name) + colReq.Render(d.Req.String()) +
		colVersion.Render(matched) + colVersion.Render(latest) + statusLabel(s)
	if !policy.Counts(d) {
		return StyleDim.Render(row)
	}
	return row
}

func statusLabel(s status.Status) string {
	var parts []string
	switch {
	case s.Dependency.Problem != nil:
		parts = append(parts, s.Dependency.Problem.Message)
	case s.Flags.Unresolvable:
		parts = append(parts, "no matching release")
	}
	if s.Flags.Insecure {
		parts = append(parts, "insecure: "+strings.Join(s.Advisories, ", "))
	}
	if s.Flags.Yanked {
		parts = append(parts, "yanked")
	}
	if s.Flags.Outdated && !s.Flags.Yanked {
		parts = append(parts, "outdated")
	}
	if len(parts) == 0 {
		parts = append(parts, iconSuccess+" up to date")
	}
	return severityStyle(s.Severity()).Render(strings.Join(parts, "; "))
}

func summaryLine(sum status.Summary) string {
	return fmt.Sprintf("%d dependencies · %d outdated · %d yanked · %d insecure · %d unresolvable",
		sum.Total, sum.Outdated, sum.Yanked, sum.Insecure, sum.Unresolvable)
}
