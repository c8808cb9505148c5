package knowledge

import (
	"fmt"
	"strings"
)

// DefaultConfidenceThreshold applies to runbooks that do not set their own
const DefaultConfidenceThreshold = 0.7

// Runbook is a pre-authored remediation procedure
type Runbook struct {
	ID                  string                 `yaml:"id" json:"id" validate:"required,max=128"`
	Title               string                 `yaml:"title" json:"title" validate:"required"`
	AlertPatterns       []string               `yaml:"alert_patterns" json:"alert_patterns"`
	Content             string                 `yaml:"content" json:"content"`
	RemediationSteps    []string               `yaml:"remediation_steps" json:"remediation_steps"`
	Tags                []string               `yaml:"tags" json:"tags"`
	SeverityHints       []string               `yaml:"severity_hints" json:"severity_hints"`
	AutoRemediate       bool                   `yaml:"auto_remediate" json:"auto_remediate"`
	ConfidenceThreshold float64                `yaml:"confidence_threshold" json:"confidence_threshold" validate:"gte=0,lte=1"`
	Metadata            map[string]interface{} `yaml:"metadata" json:"metadata,omitempty"`
}

// Validate checks required fields and fills defaults
func (r *Runbook) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("runbook id is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("runbook %s: title is required", r.ID)
	}
	if r.ConfidenceThreshold == 0 {
		r.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("runbook %s: confidence_threshold must be within [0,1]", r.ID)
	}
	return nil
}

// Document renders the runbook as the text used for embeddings
func (r *Runbook) Document() string {
	parts := []string{
		"Title: " + r.Title,
		"Alert Patterns: " + strings.Join(r.AlertPatterns, ", "),
		"Content: " + r.Content,
		"Remediation Steps: " + strings.Join(r.RemediationSteps, "; "),
		"Tags: " + strings.Join(r.Tags, ", "),
	}
	if len(r.SeverityHints) > 0 {
		parts = append(parts, "Severity Hints: "+strings.Join(r.SeverityHints, ", "))
	}
	return strings.Join(parts, "\n")
}
