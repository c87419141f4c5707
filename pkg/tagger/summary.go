package tagger

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

const summaryTmpl = `Processing summary
------------------
images processed: {{.Processed}}
succeeded:        {{.Succeeded}} ({{printf "%.1f" .SuccessRate}}%)
failed:           {{.Failed}}
elapsed:          {{printf "%.2f" .Elapsed}}s
avg per image:    {{printf "%.2f" .Average}}s
{{- range .APIs}}
{{.Name}} calls: {{.Calls}} ({{.Failures}} failed, avg {{printf "%.2f" .AvgSeconds}}s)
{{- end}}
{{- if .Failures}}

failures:
{{- range .Failures}}
  {{.Index}}. {{.File}}: {{.Message}}
{{- end}}
{{- if .MoreFailures}}
  ... and {{.MoreFailures}} more (see the log for details)
{{- end}}
{{- end}}
`

// summaryFailureLimit caps how many failures the summary spells out.
const summaryFailureLimit = 3

type summaryData struct {
	Processed   int
	Succeeded   int
	Failed      int
	SuccessRate float64
	Elapsed     float64
	Average     float64

	APIs []summaryAPI

	Failures     []summaryFailure
	MoreFailures int
}

type summaryAPI struct {
	Name       string
	Calls      int
	Failures   int
	AvgSeconds float64
}

type summaryFailure struct {
	Index   int
	File    string
	Message string
}

// RenderSummary produces the human-readable end-of-run report.
func RenderSummary(s *RunSummary) (string, error) {
	snap := s.Stats.Snapshot()

	data := summaryData{
		Processed: snap.Processed,
		Succeeded: snap.Succeeded,
		Failed:    snap.Failed,
		Elapsed:   time.Since(snap.Start).Seconds(),
		Average:   s.Stats.AverageSeconds(),
	}
	if snap.Processed > 0 {
		data.SuccessRate = float64(snap.Succeeded) / float64(snap.Processed) * 100
	}

	for _, name := range []string{"vision", "gemini"} {
		cs, ok := s.Calls[name]
		if !ok || cs.Calls == 0 {
			continue
		}
		data.APIs = append(data.APIs, summaryAPI{
			Name:       name,
			Calls:      cs.Calls,
			Failures:   cs.Failures,
			AvgSeconds: cs.Total.Seconds() / float64(cs.Calls),
		})
	}

	n := 0
	for _, r := range s.Results {
		if !r.Failed() {
			continue
		}
		n++
		if n <= summaryFailureLimit {
			data.Failures = append(data.Failures, summaryFailure{
				Index:   n,
				File:    r.OriginalFile,
				Message: r.Error,
			})
		}
	}
	if n > summaryFailureLimit {
		data.MoreFailures = n - summaryFailureLimit
	}

	tmpl, err := template.New("summary").Parse(summaryTmpl)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	return out.String(), nil
}
