// Package report turns a run summary into the HTML status report and mails
// it to the operators.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/edvin/netbackup/internal/backup"
)

// summaryRounding keeps durations in the report readable.
const summaryRounding = 10 * time.Millisecond

// defaultTemplate is used when no template path is supplied.
const defaultTemplate = `<html>
<body>
<h2>Netbackup report for {{ .Org }} at {{ .Date }}</h2>
<p>{{ .Succeeded }}/{{ .Total }} devices backed up
{{- if .Failed }}, {{ .Failed }} failed{{ end }}
{{- if .TimedOut }}, {{ .TimedOut }} timed out{{ end }}
{{- if .Cancelled }}, {{ .Cancelled }} cancelled{{ end }}.</p>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Device</th><th>Host</th><th>Vendor</th><th>Status</th><th>Reason</th><th>Duration</th></tr>
{{- range .Rows }}
<tr><td>{{ .Name }}</td><td>{{ .Host }}</td><td>{{ .Vendor }}</td><td>{{ .Status }}</td><td>{{ .Reason }}</td><td>{{ .Duration }}</td></tr>
{{- end }}
</table>
<p>Run {{ .RunID }} took {{ .Elapsed }}.</p>
</body>
</html>
`

type row struct {
	Name     string
	Host     string
	Vendor   string
	Status   string
	Reason   string
	Duration string
}

type reportData struct {
	Org       string
	Date      string
	RunID     string
	Elapsed   string
	Total     int
	Succeeded int
	Failed    int
	TimedOut  int
	Cancelled int
	Rows      []row
}

// Render produces the HTML report for a finished run. templatePath may be
// empty, in which case the built-in template is used. Render runs strictly
// after all backup work; its failure never alters recorded results.
func Render(summary backup.Summary, templatePath string) (string, error) {
	text := defaultTemplate
	if templatePath != "" {
		raw, err := os.ReadFile(templatePath)
		if err != nil {
			return "", fmt.Errorf("read report template: %w", err)
		}
		text = string(raw)
	}

	tmpl, err := template.New("report").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse report template: %w", err)
	}

	data := reportData{
		Org:       summary.Org,
		Date:      summary.StartedAt.Format("20060102"),
		RunID:     summary.RunID,
		Elapsed:   summary.FinishedAt.Sub(summary.StartedAt).Round(summaryRounding).String(),
		Total:     summary.Total(),
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		TimedOut:  summary.TimedOut,
		Cancelled: summary.Cancelled,
	}
	for _, result := range summary.Results {
		data.Rows = append(data.Rows, row{
			Name:     result.Device.Name,
			Host:     result.Device.Host,
			Vendor:   result.Device.Vendor,
			Status:   string(result.Status),
			Reason:   result.Reason,
			Duration: result.Duration().Round(summaryRounding).String(),
		})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}
