package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// DocumentGenerator renders the decision document for a finalized case.
type DocumentGenerator interface {
	GenerateDecisionDocument(ctx context.Context, app domain.Application, outcome domain.CaseStatus) (fileName string, content []byte, err error)
}

// Notifier delivers outcome and amendment messages to the applicant.
type Notifier interface {
	NotifyApplicant(ctx context.Context, applicationID, kind string, payload map[string]any) error
}

// RegisterTransport talks to the remote public register.
type RegisterTransport interface {
	Publish(ctx context.Context, reference string, periodDays int) (esriID string, err error)
	Remove(ctx context.Context, esriID string) error
}

// SubProcessFailure is one non-blocking failure collected during
// finalization.
type SubProcessFailure struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

// FinaliseResult reports the outcome of the finalization saga. A successful
// transition with a non-empty failure list is a valid outcome: the decision
// stands, the listed sub-processes need chasing.
type FinaliseResult struct {
	Application        domain.Application  `json:"application"`
	Outcome            domain.CaseStatus   `json:"outcome"`
	DocumentID         string              `json:"document_id,omitempty"`
	ExpiryDate         string              `json:"expiry_date,omitempty"`
	SubProcessFailures []SubProcessFailure `json:"sub_process_failures,omitempty"`
}

// CalculateLicenceExpiryDate returns the licence end date for a case
// approved now.
func (e Engine) CalculateLicenceExpiryDate() string {
	years := 5
	if e.Config != nil && e.Config.Licence.DurationYears > 0 {
		years = e.Config.Licence.DurationYears
	}
	return e.now().UTC().AddDate(years, 0, 0).Format(time.RFC3339)
}

// ApproveApplication grants the licence.
func (e Engine) ApproveApplication(ctx context.Context, applicationID, actorID string) (FinaliseResult, error) {
	return e.finalise(ctx, applicationID, actorID, domain.StatusApproved)
}

// RefuseApplication refuses the licence.
func (e Engine) RefuseApplication(ctx context.Context, applicationID, actorID string) (FinaliseResult, error) {
	return e.finalise(ctx, applicationID, actorID, domain.StatusRefused)
}

// ReferApplicationToLocalAuthority hands the decision to the local
// authority.
func (e Engine) ReferApplicationToLocalAuthority(ctx context.Context, applicationID, actorID string) (FinaliseResult, error) {
	return e.finalise(ctx, applicationID, actorID, domain.StatusReferredToLocalAuthority)
}

// finalise runs the decision saga. Approver/expiry update and document
// generation are hard steps: any failure rolls the whole attempt back. The
// register, notification and decision-record steps are soft: their failures
// are collected and the transition commits regardless, because the status
// change is the case's legal record of outcome.
func (e Engine) finalise(ctx context.Context, applicationID, actorID string, outcome domain.CaseStatus) (FinaliseResult, error) {
	res := FinaliseResult{Outcome: outcome}
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return res, err
	}
	res.Application = a
	if a.Status != domain.StatusSentForApproval {
		return res, PreconditionError{Reason: fmt.Sprintf("case is %s, not sent for approval", a.Status), Redirect: "case"}
	}
	if _, err := e.requireRole(actorID, domain.RoleFieldManager); err != nil {
		return res, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleFieldManager, actorID); err != nil {
		return res, err
	}

	nowStr := e.nowString()
	if outcome == domain.StatusApproved {
		expiry := e.CalculateLicenceExpiryDate()
		if err := e.Repo.UpdateApproverAndExpiry(ctx, tx, a.ID, actorID, expiry, nowStr); err != nil {
			return res, SagaError{Step: "unable to update approver", Err: err}
		}
		a.ApproverID = &actorID
		a.ExpiryDate = &expiry
		res.ExpiryDate = expiry
	}

	if e.Docs == nil {
		return res, SagaError{Step: "unable to generate document", Err: errors.New("document generator not configured")}
	}
	fileName, content, err := e.Docs.GenerateDecisionDocument(ctx, a, outcome)
	if err != nil {
		return res, SagaError{Step: "unable to generate document", Err: err}
	}
	doc := domain.CaseDocument{
		ID:            uuid.New().String(),
		ApplicationID: a.ID,
		Purpose:       "decision",
		FileName:      fileName,
		Content:       content,
		CreatedBy:     actorID,
		CreatedAt:     nowStr,
	}
	if err := e.Repo.InsertDocument(ctx, tx, doc); err != nil {
		return res, SagaError{Step: "unable to generate document", Err: err}
	}
	res.DocumentID = doc.ID

	if err := e.transition(ctx, tx, &a, outcome, actorID); err != nil {
		return res, err
	}
	res.Application = a

	res.SubProcessFailures = append(res.SubProcessFailures, e.finaliseRegister(ctx, tx, a, outcome, actorID)...)
	res.SubProcessFailures = append(res.SubProcessFailures, e.finaliseNotify(ctx, tx, a, outcome)...)
	if err := e.Repo.InsertDecisionRecord(ctx, tx, domain.DecisionRecord{
		ID:            uuid.New().String(),
		ApplicationID: a.ID,
		Outcome:       outcome,
		DeciderID:     actorID,
		DocumentID:    doc.ID,
		CreatedAt:     nowStr,
	}); err != nil {
		res.SubProcessFailures = append(res.SubProcessFailures, SubProcessFailure{Step: "store-decision-locally", Reason: err.Error()})
	}

	if err := e.Events.Append(ctx, tx, "application.finalised", a.ID, "application", a.ID, actorID, events.EventPayload{
		"outcome":       outcome,
		"soft_failures": len(res.SubProcessFailures),
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

// finaliseRegister publishes or removes the public register entry as the
// outcome requires. Always soft.
func (e Engine) finaliseRegister(ctx context.Context, tx *sql.Tx, a domain.Application, outcome domain.CaseStatus, actorID string) []SubProcessFailure {
	rec, err := e.Repo.GetRegisterRecordTx(ctx, tx, a.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return []SubProcessFailure{{Step: "publish-to-register", Reason: err.Error()}}
	}
	nowStr := e.nowString()
	switch outcome {
	case domain.StatusApproved:
		if rec.Exempt || (rec.PublishedAt != nil && rec.RemovedAt == nil) {
			return nil
		}
		if e.Register == nil {
			return []SubProcessFailure{{Step: "publish-to-register", Reason: "register transport not configured"}}
		}
		period := rec.PeriodDays
		if period <= 0 && e.Config != nil {
			period = e.Config.PublicRegister.PeriodDays
		}
		esriID, err := e.Register.Publish(ctx, a.Reference, period)
		if err != nil {
			return []SubProcessFailure{{Step: "publish-to-register", Reason: err.Error()}}
		}
		rec.PublishedAt = &nowStr
		rec.PeriodDays = period
		rec.EsriID = &esriID
		rec.RemovedAt = nil
	case domain.StatusRefused, domain.StatusReferredToLocalAuthority:
		if rec.PublishedAt == nil || rec.RemovedAt != nil {
			return nil
		}
		if e.Register != nil && rec.EsriID != nil {
			if err := e.Register.Remove(ctx, *rec.EsriID); err != nil {
				return []SubProcessFailure{{Step: "publish-to-register", Reason: err.Error()}}
			}
		}
		rec.RemovedAt = &nowStr
	default:
		return nil
	}
	rec.UpdatedAt = nowStr
	if err := e.Repo.UpsertRegisterRecord(ctx, tx, rec); err != nil {
		return []SubProcessFailure{{Step: "publish-to-register", Reason: err.Error()}}
	}
	return nil
}

// finaliseNotify tells the applicant the outcome. Always soft; the outbox row
// is the durable record even when direct delivery fails.
func (e Engine) finaliseNotify(ctx context.Context, tx *sql.Tx, a domain.Application, outcome domain.CaseStatus) []SubProcessFailure {
	kind := "decision." + string(outcome)
	if err := e.Repo.InsertNotification(ctx, tx, domain.Notification{
		ID:            uuid.New().String(),
		ApplicationID: a.ID,
		Kind:          kind,
		RecipientID:   a.ApplicantID,
		PayloadJSON:   fmt.Sprintf(`{"outcome":%q}`, outcome),
		CreatedAt:     e.nowString(),
	}); err != nil {
		return []SubProcessFailure{{Step: "notify-applicant", Reason: err.Error()}}
	}
	if e.Notifier == nil {
		return nil
	}
	if err := e.Notifier.NotifyApplicant(ctx, a.ID, kind, map[string]any{"outcome": outcome}); err != nil {
		return []SubProcessFailure{{Step: "notify-applicant", Reason: err.Error()}}
	}
	return nil
}
