package notifier

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds parsed email templates.
type Templates struct {
	html *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	RuleID        string
	RuleName      string
	Description   string
	Severity      string
	SeverityColor string
	Title         string
	Message       string
	ErrorType     string
	Count         int
	Threshold     int
	WindowStart   string
	WindowEnd     string
	Timestamp     string
}

// LoadTemplates loads embedded email templates.
func LoadTemplates() (*Templates, error) {
	funcs := template.FuncMap{
		"upper": strings.ToUpper,
	}

	htmlTmpl, err := template.New("alert.html").Funcs(funcs).ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, err
	}

	return &Templates{html: htmlTmpl}, nil
}

// RenderHTML renders the HTML email body.
func (t *Templates) RenderHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// severityColor returns the color for a severity level.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d32f2f" // red
	case models.SeverityError:
		return "#f57c00" // orange
	case models.SeverityWarning:
		return "#fbc02d" // yellow
	case models.SeverityInfo:
		return "#1976d2" // blue
	default:
		return "#757575" // gray
	}
}

// AlertTitle returns the notification title for a rule.
func AlertTitle(rule *models.AlertRule) string {
	return "⚠️ " + rule.Name
}

// AlertMessage returns the notification body for a decision.
func AlertMessage(rule *models.AlertRule, d alerting.Decision) string {
	return fmt.Sprintf("%d %s errors detected in the last %d minutes", d.MatchedCount, d.ErrorType, rule.WindowMinutes)
}

// AlertSubject returns the email subject for a rule.
func AlertSubject(rule *models.AlertRule) string {
	return fmt.Sprintf("[%s] BlazeAlert: %s", strings.ToUpper(string(rule.Severity)), rule.Name)
}

// DecisionToTemplateData converts a fired decision to template data.
func DecisionToTemplateData(rule *models.AlertRule, d alerting.Decision) TemplateData {
	const layout = "2006-01-02 15:04:05 MST"
	return TemplateData{
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		Description:   rule.Description,
		Severity:      string(rule.Severity),
		SeverityColor: severityColor(rule.Severity),
		Title:         AlertTitle(rule),
		Message:       AlertMessage(rule, d),
		ErrorType:     string(d.ErrorType),
		Count:         d.MatchedCount,
		Threshold:     rule.ThresholdCount,
		WindowStart:   d.WindowStart.Format(layout),
		WindowEnd:     d.WindowEnd.Format(layout),
		Timestamp:     d.FiredAt.Format(layout),
	}
}
