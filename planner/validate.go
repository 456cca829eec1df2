package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/headshakers/planner/store"
)

// Pre-compiled patterns for plan structure checks
var (
	// nextSectionRe matches markdown section headers (# or ##)
	nextSectionRe = regexp.MustCompile(`(?m)^#{1,2}\s+`)
	headingRe     = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	numberedRe    = regexp.MustCompile(`(?m)^\s*\d+\.\s+\S`)
	listItemRe    = regexp.MustCompile(`(?m)^\s*(?:[-*]|\d+\.)\s+\S`)
)

// sectionRequirement defines a required plan section.
type sectionRequirement struct {
	Name        string         // Human-readable name
	Field       string         // Field name used in validation errors
	Pattern     *regexp.Regexp // Regex pattern to match section header
	Description string         // Description for diagnostics
}

var planSections = []sectionRequirement{
	{
		Name:        "Title",
		Field:       "title",
		Pattern:     regexp.MustCompile(`(?m)^#\s+.+`),
		Description: "Document title (# heading)",
	},
	{
		Name:        "Prerequisites",
		Field:       "prerequisites",
		Pattern:     regexp.MustCompile(`(?mi)^#{1,3}\s+prerequisites?\b`),
		Description: "Prerequisites section listing preconditions",
	},
	{
		Name:        "Implementation Steps",
		Field:       "steps",
		Pattern:     regexp.MustCompile(`(?mi)^#{1,3}\s+(?:implementation\s+)?steps\b`),
		Description: "Numbered implementation steps",
	},
	{
		Name:        "Quality Gates",
		Field:       "qualityGates",
		Pattern:     regexp.MustCompile(`(?mi)^#{1,3}\s+quality\s+gates?\b`),
		Description: "Quality Gates section with verification checks",
	},
}

// PlanValidation is the structural diagnosis of a generated plan. It is
// always attached to the generation record; violations never fail the call.
type PlanValidation struct {
	IsValidMarkdown     bool
	HasRequiredSections bool

	TotalSteps         int
	PrerequisitesCount int
	QualityGatesCount  int

	Errors []store.ValidationError
}

// ValidatePlan checks a generated implementation plan for well-formed
// Markdown and the required sections, and derives the step counts.
func ValidatePlan(content string) PlanValidation {
	v := PlanValidation{IsValidMarkdown: true, HasRequiredSections: true}
	trimmed := strings.TrimSpace(content)

	if trimmed == "" {
		v.IsValidMarkdown = false
		v.HasRequiredSections = false
		v.Errors = append(v.Errors, store.ValidationError{
			Code:    "empty_document",
			Field:   "implementationPlan",
			Message: "plan text is empty",
		})
		return v
	}

	if !headingRe.MatchString(trimmed) {
		v.IsValidMarkdown = false
		v.Errors = append(v.Errors, store.ValidationError{
			Code:    "no_headings",
			Field:   "implementationPlan",
			Message: "plan has no markdown headings",
		})
	}
	if strings.Count(trimmed, "```")%2 != 0 {
		v.IsValidMarkdown = false
		v.Errors = append(v.Errors, store.ValidationError{
			Code:    "unbalanced_code_fences",
			Field:   "implementationPlan",
			Message: "plan has an unclosed code fence",
		})
	}

	for _, req := range planSections {
		if !req.Pattern.MatchString(trimmed) {
			v.HasRequiredSections = false
			v.Errors = append(v.Errors, store.ValidationError{
				Code:    "missing_section",
				Field:   req.Field,
				Message: fmt.Sprintf("%s: %s", req.Name, req.Description),
			})
		}
	}

	v.TotalSteps = countMatches(sectionBody(trimmed, planSections[2].Pattern), numberedRe)
	v.PrerequisitesCount = countMatches(sectionBody(trimmed, planSections[1].Pattern), listItemRe)
	v.QualityGatesCount = countMatches(sectionBody(trimmed, planSections[3].Pattern), listItemRe)

	return v
}

// sectionBody extracts the content between a section header and the next
// top-level header, or "" when the section is absent.
func sectionBody(content string, header *regexp.Regexp) string {
	loc := header.FindStringIndex(content)
	if loc == nil {
		return ""
	}
	body := content[loc[1]:]
	if next := nextSectionRe.FindStringIndex(body); next != nil {
		body = body[:next[0]]
	}
	return body
}

func countMatches(s string, re *regexp.Regexp) int {
	if s == "" {
		return 0
	}
	return len(re.FindAllString(s, -1))
}
