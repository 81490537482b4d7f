package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
)

func allowedStatusTransition(from, to domain.CaseStatus) bool {
	if to == domain.StatusWithdrawn {
		return preApproval(from)
	}
	switch from {
	case domain.StatusDraft:
		return to == domain.StatusSubmitted
	case domain.StatusSubmitted:
		return to == domain.StatusAdminOfficerReview || to == domain.StatusReturnedToApplicant
	case domain.StatusAdminOfficerReview:
		return to == domain.StatusWoodlandOfficerReview || to == domain.StatusReturnedToApplicant
	case domain.StatusWoodlandOfficerReview:
		return to == domain.StatusSentForApproval || to == domain.StatusReturnedToApplicant
	case domain.StatusSentForApproval:
		return to == domain.StatusApproved || to == domain.StatusRefused ||
			to == domain.StatusReferredToLocalAuthority || to == domain.StatusReturnedToApplicant
	case domain.StatusApproved:
		return to == domain.StatusApprovedInError
	case domain.StatusApprovedInError:
		return to == domain.StatusWoodlandOfficerReview
	case domain.StatusWithdrawn:
		return to == domain.StatusSubmitted
	case domain.StatusReturnedToApplicant:
		return to == domain.StatusSubmitted
	}
	return false
}

// transition appends exactly one status history entry and moves the case.
// Runs inside the caller's transaction.
func (e Engine) transition(ctx context.Context, tx *sql.Tx, a *domain.Application, to domain.CaseStatus, actorID string) error {
	if !allowedStatusTransition(a.Status, to) {
		return PreconditionError{
			Reason:   fmt.Sprintf("invalid status transition %s -> %s", a.Status, to),
			Redirect: "case",
		}
	}
	nowStr := e.nowString()
	if err := e.Repo.UpdateApplicationStatus(ctx, tx, a.ID, to, actorID, nowStr); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "application.status", a.ID, "application", a.ID, actorID, events.EventPayload{
		"from": a.Status,
		"to":   to,
	}); err != nil {
		return err
	}
	a.Status = to
	a.UpdatedAt = nowStr
	return nil
}

// ConfirmAdminOfficerReview closes the admin officer stage. Every checklist
// step must be completed or not required; the first blocker is reported back.
func (e Engine) ConfirmAdminOfficerReview(ctx context.Context, applicationID, actorID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return a, err
	}
	if a.Status != domain.StatusAdminOfficerReview {
		return a, PreconditionError{Reason: fmt.Sprintf("case is %s, not in admin officer review", a.Status), Redirect: "case"}
	}
	state, err := e.AdminOfficerTaskList(ctx, applicationID)
	if err != nil {
		return a, err
	}
	if !state.CanComplete() {
		blocker := state.FirstBlocker()
		return a, PreconditionError{
			Reason:   fmt.Sprintf("admin officer review incomplete: %s", blocker),
			Redirect: blocker,
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleAdminOfficer, actorID); err != nil {
		return a, err
	}
	if err := e.transition(ctx, tx, &a, domain.StatusWoodlandOfficerReview, actorID); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// ConfirmWoodlandOfficerReview closes the woodland officer stage and sends
// the case for approval.
func (e Engine) ConfirmWoodlandOfficerReview(ctx context.Context, applicationID, actorID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return a, err
	}
	if a.Status != domain.StatusWoodlandOfficerReview {
		return a, PreconditionError{Reason: fmt.Sprintf("case is %s, not in woodland officer review", a.Status), Redirect: "case"}
	}
	state, err := e.WoodlandOfficerTaskList(ctx, applicationID)
	if err != nil {
		return a, err
	}
	if !state.CanComplete() {
		blocker := state.FirstBlocker()
		return a, PreconditionError{
			Reason:   fmt.Sprintf("woodland officer review incomplete: %s", blocker),
			Redirect: blocker,
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return a, err
	}
	// Approval needs a field manager holding the case before it arrives.
	if _, err := e.Repo.OpenAssigneeTx(ctx, tx, a.ID, domain.RoleFieldManager); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return a, PreconditionError{Reason: "no field_manager assigned to case", Redirect: "assignment"}
		}
		return a, err
	}
	if err := e.transition(ctx, tx, &a, domain.StatusSentForApproval, actorID); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}
