package external

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"caseline/internal/domain"
)

// LicenceDocumentGenerator renders decision documents as plain text. The
// rendered file is stored against the case by the finalization saga.
type LicenceDocumentGenerator struct {
	Now func() time.Time
}

var decisionTemplate = template.Must(template.New("decision").Parse(`FELLING LICENCE DECISION

Reference:   {{.Reference}}
Applicant:   {{.ApplicantID}}
Outcome:     {{.Outcome}}
Issued:      {{.Issued}}
{{- if .ExpiryDate}}
Licence expires: {{.ExpiryDate}}
{{- end}}

{{.Statement}}
`))

type decisionVars struct {
	Reference   string
	ApplicantID string
	Outcome     string
	Issued      string
	ExpiryDate  string
	Statement   string
}

func (g LicenceDocumentGenerator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g LicenceDocumentGenerator) GenerateDecisionDocument(ctx context.Context, app domain.Application, outcome domain.CaseStatus) (string, []byte, error) {
	vars := decisionVars{
		Reference:   app.Reference,
		ApplicantID: app.ApplicantID,
		Outcome:     string(outcome),
		Issued:      g.now().UTC().Format(time.RFC3339),
		Statement:   decisionStatement(outcome),
	}
	if app.ExpiryDate != nil {
		vars.ExpiryDate = *app.ExpiryDate
	}
	var buf bytes.Buffer
	if err := decisionTemplate.Execute(&buf, vars); err != nil {
		return "", nil, fmt.Errorf("render decision document: %w", err)
	}
	name := fmt.Sprintf("decision-%s.txt", strings.ReplaceAll(app.Reference, "/", "-"))
	return name, buf.Bytes(), nil
}

func decisionStatement(outcome domain.CaseStatus) string {
	switch outcome {
	case domain.StatusApproved:
		return "A felling licence has been granted for the operations confirmed during review, subject to the conditions recorded on the case."
	case domain.StatusRefused:
		return "The application for a felling licence has been refused. The reasons are recorded on the case."
	case domain.StatusReferredToLocalAuthority:
		return "The application has been referred to the local authority for determination."
	default:
		return "The case has been finalised."
	}
}
