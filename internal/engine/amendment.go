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

// CanAmendDetails reports whether the given role may edit confirmed
// felling/restocking detail in the review's current state. Staff editing is
// locked while the case waits on the applicant; the applicant edits only
// during their amendment window.
func CanAmendDetails(state domain.AmendmentState, role domain.Role) bool {
	switch role {
	case domain.RoleApplicant:
		return state == domain.AmendmentUnderApplicant
	case domain.RoleWoodlandOfficer:
		return state != domain.AmendmentSentForApplicantReview && state != domain.AmendmentUnderApplicant
	}
	return false
}

// currentReview loads the latest amendment cycle, creating a no_amendment one
// inside tx when a case has none yet.
func (e Engine) currentReview(ctx context.Context, tx *sql.Tx, applicationID string) (domain.AmendmentReview, error) {
	ar, err := e.Repo.CurrentAmendmentReview(ctx, applicationID)
	if err == nil {
		return ar, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return ar, err
	}
	nowStr := e.nowString()
	ar = domain.AmendmentReview{
		ID:            uuid.New().String(),
		ApplicationID: applicationID,
		State:         domain.AmendmentNone,
		CreatedAt:     nowStr,
		UpdatedAt:     nowStr,
	}
	if err := e.Repo.InsertAmendmentReview(ctx, tx, ar); err != nil {
		return ar, err
	}
	return ar, nil
}

func (e Engine) requireWoodlandOfficerStage(ctx context.Context, applicationID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return a, err
	}
	if a.Status != domain.StatusWoodlandOfficerReview {
		return a, PreconditionError{Reason: fmt.Sprintf("case is %s, not in woodland officer review", a.Status), Redirect: "case"}
	}
	return a, nil
}

// SendAmendmentsToApplicant dispatches the woodland officer's proposed
// changes for applicant review. The reason is mandatory and is what the
// applicant sees.
func (e Engine) SendAmendmentsToApplicant(ctx context.Context, applicationID, reason, actorID string) (domain.AmendmentReview, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.AmendmentReview{}, ValidationError{Field: "reason", Reason: "required"}
	}
	a, err := e.requireWoodlandOfficerStage(ctx, applicationID)
	if err != nil {
		return domain.AmendmentReview{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AmendmentReview{}, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return domain.AmendmentReview{}, err
	}
	ar, err := e.currentReview(ctx, tx, a.ID)
	if err != nil {
		return ar, err
	}
	if ar.State != domain.AmendmentNone && ar.State != domain.AmendmentCompleted {
		return ar, PreconditionError{
			Reason:   fmt.Sprintf("amendment review is %s; cannot send to applicant", ar.State),
			Redirect: "felling_and_restocking",
		}
	}
	ar.State = domain.AmendmentSentForApplicantReview
	ar.Reason = reason
	ar.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateAmendmentReview(ctx, tx, ar); err != nil {
		return ar, err
	}
	if err := e.Repo.InsertNotification(ctx, tx, domain.Notification{
		ID:            uuid.New().String(),
		ApplicationID: a.ID,
		Kind:          "amendments.requested",
		RecipientID:   a.ApplicantID,
		PayloadJSON:   fmt.Sprintf(`{"reason":%q}`, reason),
		CreatedAt:     ar.UpdatedAt,
	}); err != nil {
		return ar, err
	}
	if err := e.Events.Append(ctx, tx, "amendment.sent", a.ID, "amendment_review", ar.ID, actorID, events.EventPayload{"reason": reason}); err != nil {
		return ar, err
	}
	if err := tx.Commit(); err != nil {
		return ar, err
	}
	if e.Notifier != nil {
		// best effort; the outbox row above is the durable record
		_ = e.Notifier.NotifyApplicant(ctx, a.ID, "amendments.requested", map[string]any{"reason": reason})
	}
	return ar, nil
}

// MakeFurtherAmendments reopens confirmed detail editing for the applicant's
// current cycle.
func (e Engine) MakeFurtherAmendments(ctx context.Context, applicationID, reviewID, actorID string) (domain.AmendmentReview, error) {
	a, err := e.requireWoodlandOfficerStage(ctx, applicationID)
	if err != nil {
		return domain.AmendmentReview{}, err
	}
	ar, err := e.Repo.GetAmendmentReview(ctx, reviewID)
	if err != nil {
		return ar, err
	}
	if ar.ApplicationID != a.ID {
		return ar, PreconditionError{Reason: "amendment review belongs to a different case", Redirect: "case"}
	}
	if ar.State != domain.AmendmentSentForApplicantReview && ar.State != domain.AmendmentCompleted {
		return ar, PreconditionError{
			Reason:   fmt.Sprintf("amendment review is %s; cannot reopen for amendment", ar.State),
			Redirect: "felling_and_restocking",
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ar, err
	}
	defer tx.Rollback()
	ar.State = domain.AmendmentUnderApplicant
	ar.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateAmendmentReview(ctx, tx, ar); err != nil {
		return ar, err
	}
	if err := e.Events.Append(ctx, tx, "amendment.reopened", a.ID, "amendment_review", ar.ID, actorID, nil); err != nil {
		return ar, err
	}
	if err := tx.Commit(); err != nil {
		return ar, err
	}
	return ar, nil
}

// CompleteAmendmentReview accepts the current cycle, unlocking the felling
// and restocking step.
func (e Engine) CompleteAmendmentReview(ctx context.Context, applicationID, actorID string) (domain.AmendmentReview, error) {
	a, err := e.requireWoodlandOfficerStage(ctx, applicationID)
	if err != nil {
		return domain.AmendmentReview{}, err
	}
	ar, err := e.Repo.CurrentAmendmentReview(ctx, applicationID)
	if err != nil {
		return ar, err
	}
	if ar.State == domain.AmendmentCompleted {
		return ar, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ar, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return ar, err
	}
	ar.State = domain.AmendmentCompleted
	ar.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateAmendmentReview(ctx, tx, ar); err != nil {
		return ar, err
	}
	if err := e.Events.Append(ctx, tx, "amendment.completed", a.ID, "amendment_review", ar.ID, actorID, nil); err != nil {
		return ar, err
	}
	if err := tx.Commit(); err != nil {
		return ar, err
	}
	return ar, nil
}

// FellingDetailOptions carry one compartment's felling values. Proposed values
// come from the applicant's submission and are kept for revert.
type FellingDetailOptions struct {
	ApplicationID string
	CompartmentID string
	OperationType string
	AreaHa        float64
	ActorID       string
}

// ConfirmFellingDetail records a confirmed felling detail for a compartment,
// seeding the confirmed values from the proposed ones. Starting to confirm
// also creates the case's amendment review when none exists.
func (e Engine) ConfirmFellingDetail(ctx context.Context, opts FellingDetailOptions) (domain.ConfirmedFellingDetail, error) {
	a, err := e.requireWoodlandOfficerStage(ctx, opts.ApplicationID)
	if err != nil {
		return domain.ConfirmedFellingDetail{}, err
	}
	if opts.CompartmentID == "" {
		return domain.ConfirmedFellingDetail{}, ValidationError{Field: "compartment_id", Reason: "required"}
	}
	if opts.OperationType == "" {
		return domain.ConfirmedFellingDetail{}, ValidationError{Field: "operation_type", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ConfirmedFellingDetail{}, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, opts.ActorID); err != nil {
		return domain.ConfirmedFellingDetail{}, err
	}
	if _, err := e.currentReview(ctx, tx, a.ID); err != nil {
		return domain.ConfirmedFellingDetail{}, err
	}
	nowStr := e.nowString()
	d := domain.ConfirmedFellingDetail{
		ID:                uuid.New().String(),
		ApplicationID:     a.ID,
		CompartmentID:     opts.CompartmentID,
		OperationType:     opts.OperationType,
		AreaHa:            opts.AreaHa,
		ProposedOperation: opts.OperationType,
		ProposedAreaHa:    opts.AreaHa,
		CreatedAt:         nowStr,
		UpdatedAt:         nowStr,
	}
	if err := e.Repo.InsertFellingDetail(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "felling.confirmed", a.ID, "felling_detail", d.ID, opts.ActorID, events.EventPayload{
		"compartment": d.CompartmentID,
	}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// AmendFellingDetail applies a woodland officer's edit to one confirmed
// felling detail. The edit is rejected while the cycle waits on the
// applicant.
func (e Engine) AmendFellingDetail(ctx context.Context, applicationID, detailID, operationType string, areaHa float64, actorID string) (domain.ConfirmedFellingDetail, error) {
	a, err := e.requireWoodlandOfficerStage(ctx, applicationID)
	if err != nil {
		return domain.ConfirmedFellingDetail{}, err
	}
	d, err := e.Repo.GetFellingDetail(ctx, detailID)
	if err != nil {
		return d, err
	}
	if d.ApplicationID != a.ID {
		return d, PreconditionError{Reason: "felling detail belongs to a different case", Redirect: "case"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return d, err
	}
	ar, err := e.currentReview(ctx, tx, a.ID)
	if err != nil {
		return d, err
	}
	if !CanAmendDetails(ar.State, domain.RoleWoodlandOfficer) {
		return d, PreconditionError{
			Reason:   fmt.Sprintf("details locked while amendment review is %s", ar.State),
			Redirect: "felling_and_restocking",
		}
	}
	d.OperationType = operationType
	d.AreaHa = areaHa
	d.Amended = d.OperationType != d.ProposedOperation || d.AreaHa != d.ProposedAreaHa
	d.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateFellingDetail(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "felling.amended", a.ID, "felling_detail", d.ID, actorID, nil); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// DeleteFellingDetail soft-deletes one confirmed felling detail. The row
// stays for audit and revert but no longer counts toward stage completion.
func (e Engine) DeleteFellingDetail(ctx context.Context, applicationID, detailID, actorID string) error {
	a, err := e.requireWoodlandOfficerStage(ctx, applicationID)
	if err != nil {
		return err
	}
	d, err := e.Repo.GetFellingDetail(ctx, detailID)
	if err != nil {
		return err
	}
	if d.ApplicationID != a.ID {
		return PreconditionError{Reason: "felling detail belongs to a different case", Redirect: "case"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return err
	}
	d.Deleted = true
	d.Amended = true
	d.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateFellingDetail(ctx, tx, d); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "felling.deleted", a.ID, "felling_detail", d.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// RevertFellingDetailAmendments discards all staff edits on one detail,
// restoring the applicant-submitted values and species composition. The
// overall amendment state is untouched.
func (e Engine) RevertFellingDetailAmendments(ctx context.Context, applicationID, detailID, actorID string) (domain.ConfirmedFellingDetail, error) {
	a, err := e.requireWoodlandOfficerStage(ctx, applicationID)
	if err != nil {
		return domain.ConfirmedFellingDetail{}, err
	}
	d, err := e.Repo.GetFellingDetail(ctx, detailID)
	if err != nil {
		return d, err
	}
	if d.ApplicationID != a.ID {
		return d, PreconditionError{Reason: "felling detail belongs to a different case", Redirect: "case"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return d, err
	}
	d.OperationType = d.ProposedOperation
	d.AreaHa = d.ProposedAreaHa
	d.Amended = false
	d.Deleted = false
	d.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateFellingDetail(ctx, tx, d); err != nil {
		return d, err
	}
	species, err := e.Repo.ListSpeciesTx(ctx, tx, d.ID)
	if err != nil {
		return d, err
	}
	for _, s := range species {
		if s.Added {
			if err := e.Repo.DeleteSpecies(ctx, tx, s.ID); err != nil {
				return d, err
			}
			continue
		}
		s.Percent = s.ProposedPercent
		s.Deleted = false
		if err := e.Repo.UpdateSpecies(ctx, tx, s); err != nil {
			return d, err
		}
	}
	if err := e.Events.Append(ctx, tx, "felling.reverted", a.ID, "felling_detail", d.ID, actorID, nil); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// RestockingDetailOptions carry one compartment's restocking values.
type RestockingDetailOptions struct {
	ApplicationID  string
	CompartmentID  string
	RestockingType string
	AreaHa         float64
	DensityPerHa   int
	ActorID        string
}

func (e Engine) ConfirmRestockingDetail(ctx context.Context, opts RestockingDetailOptions) (domain.ConfirmedRestockingDetail, error) {
	a, err := e.requireWoodlandOfficerStage(ctx, opts.ApplicationID)
	if err != nil {
		return domain.ConfirmedRestockingDetail{}, err
	}
	if opts.CompartmentID == "" {
		return domain.ConfirmedRestockingDetail{}, ValidationError{Field: "compartment_id", Reason: "required"}
	}
	if opts.RestockingType == "" {
		return domain.ConfirmedRestockingDetail{}, ValidationError{Field: "restocking_type", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ConfirmedRestockingDetail{}, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, opts.ActorID); err != nil {
		return domain.ConfirmedRestockingDetail{}, err
	}
	if _, err := e.currentReview(ctx, tx, a.ID); err != nil {
		return domain.ConfirmedRestockingDetail{}, err
	}
	nowStr := e.nowString()
	d := domain.ConfirmedRestockingDetail{
		ID:              uuid.New().String(),
		ApplicationID:   a.ID,
		CompartmentID:   opts.CompartmentID,
		RestockingType:  opts.RestockingType,
		AreaHa:          opts.AreaHa,
		ProposedType:    opts.RestockingType,
		ProposedAreaHa:  opts.AreaHa,
		DensityPerHa:    opts.DensityPerHa,
		ProposedDensity: opts.DensityPerHa,
		CreatedAt:       nowStr,
		UpdatedAt:       nowStr,
	}
	if err := e.Repo.InsertRestockingDetail(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "restocking.confirmed", a.ID, "restocking_detail", d.ID, opts.ActorID, events.EventPayload{
		"compartment": d.CompartmentID,
	}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// DeleteRestockingDetail soft-deletes one confirmed restocking detail.
func (e Engine) DeleteRestockingDetail(ctx context.Context, applicationID, detailID, actorID string) error {
	a, err := e.requireWoodlandOfficerStage(ctx, applicationID)
	if err != nil {
		return err
	}
	d, err := e.Repo.GetRestockingDetail(ctx, detailID)
	if err != nil {
		return err
	}
	if d.ApplicationID != a.ID {
		return PreconditionError{Reason: "restocking detail belongs to a different case", Redirect: "case"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return err
	}
	d.Deleted = true
	d.Amended = true
	d.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateRestockingDetail(ctx, tx, d); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "restocking.deleted", a.ID, "restocking_detail", d.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SpeciesInput is one species line in a posted felling detail form.
type SpeciesInput struct {
	Code    string  `json:"code"`
	Percent float64 `json:"percent"`
}

// UpdateFellingSpecies reconciles the posted species set against the stored
// one: new codes are inserted as additions, missing codes are marked deleted
// and surviving codes take the posted percentage.
func (e Engine) UpdateFellingSpecies(ctx context.Context, applicationID, detailID string, posted []SpeciesInput, actorID string) ([]domain.FellingSpecies, error) {
	a, err := e.requireWoodlandOfficerStage(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	d, err := e.Repo.GetFellingDetail(ctx, detailID)
	if err != nil {
		return nil, err
	}
	if d.ApplicationID != a.ID {
		return nil, PreconditionError{Reason: "felling detail belongs to a different case", Redirect: "case"}
	}
	for _, p := range posted {
		if p.Code == "" {
			return nil, ValidationError{Field: "species", Reason: "species code required"}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return nil, err
	}
	ar, err := e.currentReview(ctx, tx, a.ID)
	if err != nil {
		return nil, err
	}
	if !CanAmendDetails(ar.State, domain.RoleWoodlandOfficer) {
		return nil, PreconditionError{
			Reason:   fmt.Sprintf("details locked while amendment review is %s", ar.State),
			Redirect: "felling_and_restocking",
		}
	}
	current, err := e.Repo.ListSpeciesTx(ctx, tx, d.ID)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]domain.FellingSpecies, len(current))
	for _, s := range current {
		byCode[s.SpeciesCode] = s
	}
	seen := make(map[string]bool, len(posted))
	for _, p := range posted {
		seen[p.Code] = true
		s, ok := byCode[p.Code]
		if !ok {
			if err := e.Repo.InsertSpecies(ctx, tx, domain.FellingSpecies{
				FellingDetailID: d.ID,
				SpeciesCode:     p.Code,
				Percent:         p.Percent,
				ProposedPercent: 0,
				Added:           true,
			}); err != nil {
				return nil, err
			}
			continue
		}
		if s.Percent != p.Percent || s.Deleted {
			s.Percent = p.Percent
			s.Deleted = false
			if err := e.Repo.UpdateSpecies(ctx, tx, s); err != nil {
				return nil, err
			}
		}
	}
	for _, s := range current {
		if seen[s.SpeciesCode] || s.Deleted {
			continue
		}
		s.Deleted = true
		if err := e.Repo.UpdateSpecies(ctx, tx, s); err != nil {
			return nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, "felling.species.updated", a.ID, "felling_detail", d.ID, actorID, events.EventPayload{
		"species": len(posted),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListSpecies(ctx, d.ID)
}
