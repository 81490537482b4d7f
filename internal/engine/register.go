package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// registerRecord loads the case's public register record inside tx, creating
// an empty one when the step is touched for the first time.
func (e Engine) registerRecord(ctx context.Context, tx *sql.Tx, applicationID string) (domain.PublicRegisterRecord, error) {
	rec, err := e.Repo.GetRegisterRecordTx(ctx, tx, applicationID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return rec, err
	}
	nowStr := e.nowString()
	return domain.PublicRegisterRecord{
		ID:            uuid.New().String(),
		ApplicationID: applicationID,
		CreatedAt:     nowStr,
		UpdatedAt:     nowStr,
	}, nil
}

// StoreExemption records whether the case is exempt from the public
// register. Claiming exemption without a justification is a field error.
func (e Engine) StoreExemption(ctx context.Context, applicationID string, exempt bool, reason, actorID string) (domain.PublicRegisterRecord, error) {
	if exempt && strings.TrimSpace(reason) == "" {
		return domain.PublicRegisterRecord{}, ValidationError{Field: "exemption_reason", Reason: "required when claiming exemption"}
	}
	a, err := e.requireWoodlandOfficerStage(ctx, applicationID)
	if err != nil {
		return domain.PublicRegisterRecord{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PublicRegisterRecord{}, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return domain.PublicRegisterRecord{}, err
	}
	rec, err := e.registerRecord(ctx, tx, a.ID)
	if err != nil {
		return rec, err
	}
	rec.Exempt = exempt
	rec.ExemptionReason = reason
	if !exempt {
		rec.ExemptionReason = ""
	}
	rec.UpdatedAt = e.nowString()
	if err := e.Repo.UpsertRegisterRecord(ctx, tx, rec); err != nil {
		return rec, err
	}
	if err := e.Events.Append(ctx, tx, "register.exemption", a.ID, "register_record", rec.ID, actorID, events.EventPayload{
		"exempt": exempt,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}

// PublishToRegister places the case on the public register for the given
// consultation period.
func (e Engine) PublishToRegister(ctx context.Context, applicationID string, periodDays int, actorID string) (domain.PublicRegisterRecord, error) {
	if periodDays <= 0 {
		return domain.PublicRegisterRecord{}, ValidationError{Field: "period_days", Reason: "a positive publication period is required"}
	}
	a, err := e.requireWoodlandOfficerStage(ctx, applicationID)
	if err != nil {
		return domain.PublicRegisterRecord{}, err
	}
	if e.Register == nil {
		return domain.PublicRegisterRecord{}, errors.New("register transport not configured")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PublicRegisterRecord{}, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return domain.PublicRegisterRecord{}, err
	}
	rec, err := e.registerRecord(ctx, tx, a.ID)
	if err != nil {
		return rec, err
	}
	if rec.Exempt {
		return rec, PreconditionError{Reason: "case is exempt from the public register", Redirect: "public_register"}
	}
	if rec.PublishedAt != nil && rec.RemovedAt == nil {
		return rec, nil
	}
	esriID, err := e.Register.Publish(ctx, a.Reference, periodDays)
	if err != nil {
		return rec, fmt.Errorf("publish to register: %w", err)
	}
	nowStr := e.nowString()
	rec.PublishedAt = &nowStr
	rec.PeriodDays = periodDays
	rec.EsriID = &esriID
	rec.RemovedAt = nil
	rec.UpdatedAt = nowStr
	if err := e.Repo.UpsertRegisterRecord(ctx, tx, rec); err != nil {
		return rec, err
	}
	if err := e.Events.Append(ctx, tx, "register.published", a.ID, "register_record", rec.ID, actorID, events.EventPayload{
		"period_days": periodDays,
		"esri_id":     esriID,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}

// RemoveFromRegister takes the case off the public register. Removing an
// entry that was never published, or was already removed, succeeds as a
// no-op.
func (e Engine) RemoveFromRegister(ctx context.Context, applicationID, actorID string) (domain.PublicRegisterRecord, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.PublicRegisterRecord{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PublicRegisterRecord{}, err
	}
	defer tx.Rollback()
	rec, err := e.Repo.GetRegisterRecordTx(ctx, tx, a.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.PublicRegisterRecord{}, nil
		}
		return rec, err
	}
	if rec.PublishedAt == nil || rec.RemovedAt != nil {
		return rec, nil
	}
	if e.Register != nil && rec.EsriID != nil {
		if err := e.Register.Remove(ctx, *rec.EsriID); err != nil {
			return rec, fmt.Errorf("remove from register: %w", err)
		}
	}
	nowStr := e.nowString()
	rec.RemovedAt = &nowStr
	rec.UpdatedAt = nowStr
	if err := e.Repo.UpsertRegisterRecord(ctx, tx, rec); err != nil {
		return rec, err
	}
	if err := e.Events.Append(ctx, tx, "register.removed", a.ID, "register_record", rec.ID, actorID, nil); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}

// AddRegisterComment records a comment received through the public register
// during the consultation period.
func (e Engine) AddRegisterComment(ctx context.Context, applicationID, author, comment, actorID string) (domain.RegisterComment, error) {
	if strings.TrimSpace(comment) == "" {
		return domain.RegisterComment{}, ValidationError{Field: "comment", Reason: "required"}
	}
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.RegisterComment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RegisterComment{}, err
	}
	defer tx.Rollback()
	nowStr := e.nowString()
	c := domain.RegisterComment{
		ID:            uuid.New().String(),
		ApplicationID: a.ID,
		Author:        author,
		Comment:       comment,
		CreatedAt:     nowStr,
		UpdatedAt:     nowStr,
	}
	if err := e.Repo.InsertRegisterComment(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "register.comment.received", a.ID, "register_comment", c.ID, actorID, nil); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// ReviewComment marks a register comment reviewed, optionally amending its
// text. A failure sends the caller back to the same comment.
func (e Engine) ReviewComment(ctx context.Context, applicationID, commentID, updatedComment, actorID string) (domain.RegisterComment, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.RegisterComment{}, err
	}
	c, err := e.Repo.GetRegisterComment(ctx, a.ID, commentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return c, PreconditionError{
				Reason:   fmt.Sprintf("comment %s not found on case", commentID),
				Redirect: "comment/" + commentID,
			}
		}
		return c, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if updatedComment != "" {
		c.Comment = updatedComment
	}
	c.Reviewed = true
	c.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateRegisterComment(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "register.comment.reviewed", a.ID, "register_comment", c.ID, actorID, nil); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}
