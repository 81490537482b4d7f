package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// AssignOptions are parameters for handing a case role to a user.
type AssignOptions struct {
	ApplicationID string
	UserID        string
	Role          domain.Role
	Reason        string
	CaseNote      string
	ActorID       string
}

// ReassignmentPrompt tells the caller an open assignment would be replaced
// and who currently holds it.
type ReassignmentPrompt struct {
	Required      bool        `json:"required"`
	Role          domain.Role `json:"role"`
	CurrentHolder string      `json:"current_holder,omitempty"`
	AssignedAt    string      `json:"assigned_at,omitempty"`
}

// AssignToUser closes any open entry for the role and opens a new one, in the
// same transaction as the status move it may trigger. Assigning the admin
// officer on a submitted case starts admin officer review.
func (e Engine) AssignToUser(ctx context.Context, opts AssignOptions) (domain.AssigneeHistory, error) {
	if opts.UserID == "" {
		return domain.AssigneeHistory{}, ValidationError{Field: "user_id", Reason: "required"}
	}
	if opts.Role == "" {
		return domain.AssigneeHistory{}, ValidationError{Field: "role", Reason: "required"}
	}
	a, err := e.Repo.GetApplication(ctx, opts.ApplicationID)
	if err != nil {
		return domain.AssigneeHistory{}, err
	}
	u, err := e.requireRole(opts.UserID, opts.Role)
	if err != nil {
		return domain.AssigneeHistory{}, err
	}
	if policy, ok := e.Config.Roles[string(opts.Role)]; ok {
		if policy.RequireArea && !u.HasArea(a.Area) {
			return domain.AssigneeHistory{}, ValidationError{
				Field:  "user_id",
				Reason: fmt.Sprintf("user %s does not cover area %s", opts.UserID, a.Area),
			}
		}
		if policy.RequireCostCode && len(u.CostCodes) == 0 {
			return domain.AssigneeHistory{}, ValidationError{
				Field:  "user_id",
				Reason: fmt.Sprintf("user %s has no cost code for role %s", opts.UserID, opts.Role),
			}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AssigneeHistory{}, err
	}
	defer tx.Rollback()

	nowStr := e.nowString()
	prev, err := e.Repo.OpenAssigneeTx(ctx, tx, a.ID, opts.Role)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.AssigneeHistory{}, err
	}
	if err == nil {
		if err := e.Repo.CloseOpenAssignee(ctx, tx, a.ID, opts.Role, nowStr); err != nil {
			return domain.AssigneeHistory{}, err
		}
	}
	h := domain.AssigneeHistory{
		ApplicationID: a.ID,
		Role:          opts.Role,
		UserID:        opts.UserID,
		AssignedAt:    nowStr,
	}
	if err := e.Repo.OpenAssigneeEntry(ctx, tx, h); err != nil {
		return h, err
	}
	if opts.CaseNote != "" {
		if err := e.appendNote(ctx, tx, a.ID, domain.NoteCaseNote, opts.CaseNote, opts.ActorID, false); err != nil {
			return h, err
		}
	}
	if a.Status == domain.StatusSubmitted && opts.Role == domain.RoleAdminOfficer {
		if err := e.transition(ctx, tx, &a, domain.StatusAdminOfficerReview, opts.ActorID); err != nil {
			return h, err
		}
	}
	payload := events.EventPayload{"role": opts.Role, "user_id": opts.UserID}
	if prev.UserID != "" {
		payload["replaced"] = prev.UserID
	}
	if opts.Reason != "" {
		payload["reason"] = opts.Reason
	}
	if err := e.Events.Append(ctx, tx, "assignment.opened", a.ID, "assignment", string(opts.Role), opts.ActorID, payload); err != nil {
		return h, err
	}
	if err := tx.Commit(); err != nil {
		return h, err
	}
	return h, nil
}

// ReassignConfirm reports whether assigning the role would displace an open
// holder. Callers show the prompt before repeating AssignToUser.
func (e Engine) ReassignConfirm(ctx context.Context, applicationID string, role domain.Role) (ReassignmentPrompt, error) {
	if _, err := e.Repo.GetApplication(ctx, applicationID); err != nil {
		return ReassignmentPrompt{}, err
	}
	h, err := e.Repo.OpenAssignee(ctx, applicationID, role)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ReassignmentPrompt{Role: role}, nil
		}
		return ReassignmentPrompt{}, err
	}
	return ReassignmentPrompt{
		Required:      true,
		Role:          role,
		CurrentHolder: h.UserID,
		AssignedAt:    h.AssignedAt,
	}, nil
}

// AssignBackOptions describe returning a case to its applicant.
type AssignBackOptions struct {
	ApplicationID   string
	Reason          string
	VisibleSections []string
	ActorID         string
}

// AssignBackToApplicant returns the case to the applicant: every open staff
// assignment is closed, the applicant becomes the holder, the case moves to
// returned_to_applicant and the reason is recorded as an applicant-visible
// note naming the sections reopened for editing.
func (e Engine) AssignBackToApplicant(ctx context.Context, opts AssignBackOptions) (domain.Application, error) {
	if strings.TrimSpace(opts.Reason) == "" {
		return domain.Application{}, ValidationError{Field: "reason", Reason: "required"}
	}
	a, err := e.Repo.GetApplication(ctx, opts.ApplicationID)
	if err != nil {
		return a, err
	}
	if _, err := e.requireRole(opts.ActorID, domain.RoleAdmin); err != nil {
		return a, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	nowStr := e.nowString()
	for _, role := range []domain.Role{domain.RoleAdminOfficer, domain.RoleWoodlandOfficer, domain.RoleFieldManager} {
		if _, err := e.Repo.OpenAssigneeTx(ctx, tx, a.ID, role); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return a, err
		}
		if err := e.Repo.CloseOpenAssignee(ctx, tx, a.ID, role, nowStr); err != nil {
			return a, err
		}
	}
	if err := e.Repo.OpenAssigneeEntry(ctx, tx, domain.AssigneeHistory{
		ApplicationID: a.ID,
		Role:          domain.RoleApplicant,
		UserID:        a.ApplicantID,
		AssignedAt:    nowStr,
	}); err != nil {
		return a, err
	}
	if err := e.transition(ctx, tx, &a, domain.StatusReturnedToApplicant, opts.ActorID); err != nil {
		return a, err
	}
	noteText := opts.Reason
	if len(opts.VisibleSections) > 0 {
		noteText = fmt.Sprintf("%s (sections reopened: %s)", opts.Reason, strings.Join(opts.VisibleSections, ", "))
	}
	if err := e.appendNote(ctx, tx, a.ID, domain.NoteReturnReason, noteText, opts.ActorID, true); err != nil {
		return a, err
	}
	if err := e.Repo.InsertNotification(ctx, tx, domain.Notification{
		ID:            uuid.New().String(),
		ApplicationID: a.ID,
		Kind:          "application.returned",
		RecipientID:   a.ApplicantID,
		PayloadJSON:   fmt.Sprintf(`{"reason":%q}`, opts.Reason),
		CreatedAt:     nowStr,
	}); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "assignment.returned_to_applicant", a.ID, "assignment", a.ApplicantID, opts.ActorID, events.EventPayload{
		"sections": opts.VisibleSections,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}
