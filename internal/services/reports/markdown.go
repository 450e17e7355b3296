package reports

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/aestimo/internal/models"
)

// requirementTextLimit bounds requirement text in breakdown tables
const requirementTextLimit = 100

// BuildMarkdown renders a scoring summary as a markdown report: an overview,
// a ranking table, and a per-vendor section with category scores, strengths,
// weaknesses, the requirement breakdown, and extracted capabilities. Output
// is deterministic for a given summary.
func BuildMarkdown(summary *models.ScoringSummary) string {
	var b strings.Builder

	meta := summary.EvaluationMetadata
	b.WriteString("# RFP Compliance Evaluation Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", meta.EvaluatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Model: %s\n\n", meta.Model)
	fmt.Fprintf(&b, "Requirements evaluated: %d (%d mandatory)\n\n", meta.RequirementCount, meta.MandatoryCount)
	fmt.Fprintf(&b, "Vendors evaluated: %d\n\n", meta.VendorCount)

	if nonCompliant := summary.NonCompliantVendors(); len(nonCompliant) > 0 {
		fmt.Fprintf(&b, "Non-compliant vendors: %s\n\n", strings.Join(nonCompliant, ", "))
	}

	ranked := rankVendors(summary)

	b.WriteString("## Vendor Ranking\n\n")
	b.WriteString("| Rank | Vendor | Total Score | Confidence | Compliant |\n")
	b.WriteString("|------|--------|-------------|------------|-----------|\n")
	for i, vendor := range ranked {
		vs := summary.Vendors[vendor]
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
			i+1, tableCell(vendor), percent(vs.TotalScore), percent(vs.Confidence), yesNo(vs.Compliant))
	}
	b.WriteString("\n")

	for _, vendor := range ranked {
		writeVendorSection(&b, summary.Vendors[vendor])
	}

	return b.String()
}

func writeVendorSection(b *strings.Builder, vs *models.VendorScoreSummary) {
	fmt.Fprintf(b, "## %s\n\n", vs.Vendor)

	if !vs.Compliant && vs.DisqualificationReason != "" {
		fmt.Fprintf(b, "**Disqualified:** %s\n\n", vs.DisqualificationReason)
	}
	fmt.Fprintf(b, "Total score: %s (confidence %s)\n\n", percent(vs.TotalScore), percent(vs.Confidence))

	if len(vs.CategoryScores) > 0 {
		b.WriteString("### Category Scores\n\n")
		b.WriteString("| Category | Score |\n|----------|-------|\n")
		for _, category := range sortedKeys(vs.CategoryScores) {
			fmt.Fprintf(b, "| %s | %s |\n", tableCell(category), percent(vs.CategoryScores[category]))
		}
		b.WriteString("\n")
	}

	if len(vs.Strengths) > 0 {
		b.WriteString("### Strengths\n\n")
		for _, s := range vs.Strengths {
			fmt.Fprintf(b, "- %s\n", s)
		}
		b.WriteString("\n")
	}

	if len(vs.Weaknesses) > 0 {
		b.WriteString("### Weaknesses\n\n")
		for _, w := range vs.Weaknesses {
			fmt.Fprintf(b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	if len(vs.Breakdown) > 0 {
		b.WriteString("### Requirement Breakdown\n\n")
		b.WriteString("| ID | Requirement | Category | Mandatory | Score |\n")
		b.WriteString("|----|-------------|----------|-----------|-------|\n")
		for _, row := range vs.Breakdown {
			score := percent(row.Score)
			if row.Unscored {
				score = "unscored"
			}
			fmt.Fprintf(b, "| %s | %s | %s | %s | %s |\n",
				row.RequirementID, tableCell(truncate(row.Text, requirementTextLimit)),
				tableCell(row.Category), yesNo(row.Mandatory), score)
		}
		b.WriteString("\n")
	}

	if caps := vs.Capabilities; caps != nil {
		b.WriteString("### Capabilities\n\n")
		if caps.Summary != "" {
			fmt.Fprintf(b, "%s\n\n", caps.Summary)
		}
		writeBulletList(b, "Capabilities", caps.Capabilities)
		writeBulletList(b, "Commitments", caps.Commitments)
		writeBulletList(b, "Differentiators", caps.Differentiators)
	}
}

func writeBulletList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

// rankVendors orders vendors for the report: compliant before disqualified,
// higher total score first, names breaking ties
func rankVendors(summary *models.ScoringSummary) []string {
	names := make([]string, 0, len(summary.Vendors))
	for name := range summary.Vendors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := summary.Vendors[names[i]], summary.Vendors[names[j]]
		if a.Compliant != b.Compliant {
			return a.Compliant
		}
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		return names[i] < names[j]
	})
	return names
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

// tableCell keeps free text from breaking markdown table structure
func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
