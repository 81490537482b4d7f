package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
	"caseline/internal/tasklist"
)

// Engine runs every case operation inside one sqlite transaction. External
// collaborators (documents, notifications, register transport) are optional
// until finalization or register publication needs them.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Docs     DocumentGenerator
	Notifier Notifier
	Register RegisterTransport
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) user(userID string) (config.User, error) {
	if e.Config == nil {
		return config.User{}, errors.New("config not loaded")
	}
	u, ok := e.Config.Users[userID]
	if !ok {
		return config.User{}, ForbiddenError{Reason: fmt.Sprintf("unknown user %s", userID)}
	}
	return u, nil
}

func (e Engine) requireRole(userID string, role domain.Role) (config.User, error) {
	u, err := e.user(userID)
	if err != nil {
		return u, err
	}
	if !u.HasRole(string(role)) {
		return u, ForbiddenError{Reason: fmt.Sprintf("user %s does not hold role %s", userID, role)}
	}
	return u, nil
}

// requireAssigned verifies the acting user holds the open assignment for the
// role on this case. A missing assignment redirects to assignment selection.
func (e Engine) requireAssigned(ctx context.Context, tx *sql.Tx, applicationID string, role domain.Role, userID string) error {
	h, err := e.Repo.OpenAssigneeTx(ctx, tx, applicationID, role)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return PreconditionError{
				Reason:   fmt.Sprintf("no %s assigned to case", role),
				Redirect: "assignment",
			}
		}
		return err
	}
	if h.UserID != userID {
		return ForbiddenError{Reason: fmt.Sprintf("case %s is assigned to %s for role %s", applicationID, h.UserID, role)}
	}
	return nil
}

// ApplicationCreateOptions are parameters for registering a new application.
type ApplicationCreateOptions struct {
	Source       domain.ApplicationSource
	ApplicantID  string
	Area         string
	DateReceived string
	ActorID      string
}

func (e Engine) CreateApplication(ctx context.Context, opts ApplicationCreateOptions) (domain.Application, error) {
	if e.Config == nil {
		return domain.Application{}, errors.New("config not loaded")
	}
	if opts.ApplicantID == "" {
		return domain.Application{}, ValidationError{Field: "applicant_id", Reason: "required"}
	}
	if opts.Source == "" {
		opts.Source = domain.SourceApplicant
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	received := opts.DateReceived
	if received == "" && opts.Source == domain.SourceApplicant {
		received = nowStr
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM applications`).Scan(&seq); err != nil {
		return domain.Application{}, err
	}
	a := domain.Application{
		ID:           uuid.New().String(),
		Reference:    fmt.Sprintf("%s/%d/%05d", e.Config.Reference.Prefix, now.Year(), seq+1),
		Source:       opts.Source,
		Status:       domain.StatusDraft,
		ApplicantID:  opts.ApplicantID,
		Area:         opts.Area,
		DateReceived: received,
		CreatedAt:    nowStr,
		UpdatedAt:    nowStr,
	}
	if err := e.Repo.InsertApplication(ctx, tx, a); err != nil {
		return domain.Application{}, fmt.Errorf("insert application: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO status_history(application_id,status,actor_id,created_at) VALUES (?,?,?,?)`,
		a.ID, a.Status, opts.ActorID, nowStr); err != nil {
		return domain.Application{}, err
	}
	if err := e.Events.Append(ctx, tx, "application.created", a.ID, "application", a.ID, opts.ActorID, events.EventPayload{
		"reference": a.Reference,
		"source":    a.Source,
	}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	return a, nil
}

// SubmitApplication moves a draft into the review pipeline. Paper applications
// submitted on the applicant's behalf stamp the received date here.
func (e Engine) SubmitApplication(ctx context.Context, applicationID, actorID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return a, err
	}
	if actorID != a.ApplicantID {
		if _, err := e.requireRole(actorID, domain.RoleAdmin); err != nil {
			return a, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	nowStr := e.nowString()
	if a.DateReceived == "" {
		if _, err := tx.ExecContext(ctx, `UPDATE applications SET date_received=?, updated_at=? WHERE id=?`,
			nowStr, nowStr, a.ID); err != nil {
			return a, err
		}
		a.DateReceived = nowStr
	}
	if err := e.transition(ctx, tx, &a, domain.StatusSubmitted, actorID); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// WithdrawApplication takes a case out of the pipeline at the applicant's
// request. Only pre-approval states can be withdrawn.
func (e Engine) WithdrawApplication(ctx context.Context, applicationID, reason, actorID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return a, err
	}
	if !preApproval(a.Status) {
		return a, PreconditionError{Reason: fmt.Sprintf("cannot withdraw a case in status %s", a.Status), Redirect: "case"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	if err := e.transition(ctx, tx, &a, domain.StatusWithdrawn, actorID); err != nil {
		return a, err
	}
	if reason != "" {
		if err := e.appendNote(ctx, tx, a.ID, domain.NoteCaseNote, reason, actorID, true); err != nil {
			return a, err
		}
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// ReopenWithdrawnApplication puts a withdrawn case back into Submitted.
// Administrator only.
func (e Engine) ReopenWithdrawnApplication(ctx context.Context, applicationID, actorID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return a, err
	}
	if _, err := e.requireRole(actorID, domain.RoleAdmin); err != nil {
		return a, err
	}
	if a.Status != domain.StatusWithdrawn {
		return a, PreconditionError{Reason: fmt.Sprintf("case is %s, not withdrawn", a.Status), Redirect: "case"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.transition(ctx, tx, &a, domain.StatusSubmitted, actorID); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// MarkApprovedInError flags a granted licence as issued in error and removes
// any live public register entry. Administrator only.
func (e Engine) MarkApprovedInError(ctx context.Context, applicationID, reason, actorID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return a, err
	}
	if _, err := e.requireRole(actorID, domain.RoleAdmin); err != nil {
		return a, err
	}
	if strings.TrimSpace(reason) == "" {
		return a, ValidationError{Field: "reason", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	if err := e.transition(ctx, tx, &a, domain.StatusApprovedInError, actorID); err != nil {
		return a, err
	}
	if err := e.appendNote(ctx, tx, a.ID, domain.NoteCaseNote, reason, actorID, true); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// ReopenApprovedInError sends an erroneously approved case back to woodland
// officer review. Administrator only.
func (e Engine) ReopenApprovedInError(ctx context.Context, applicationID, actorID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return a, err
	}
	if _, err := e.requireRole(actorID, domain.RoleAdmin); err != nil {
		return a, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.transition(ctx, tx, &a, domain.StatusWoodlandOfficerReview, actorID); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// RecordAdminOfficerChecks stores the admin officer's checklist facts. The
// acting user must hold the open admin officer assignment.
func (e Engine) RecordAdminOfficerChecks(ctx context.Context, checks domain.AdminOfficerChecks, actorID string) (domain.AdminOfficerChecks, error) {
	a, err := e.Repo.GetApplication(ctx, checks.ApplicationID)
	if err != nil {
		return checks, err
	}
	if a.Status != domain.StatusAdminOfficerReview {
		return checks, PreconditionError{Reason: fmt.Sprintf("case is %s, not in admin officer review", a.Status), Redirect: "case"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return checks, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleAdminOfficer, actorID); err != nil {
		return checks, err
	}
	checks.UpdatedAt = e.nowString()
	if err := e.Repo.UpsertAdminOfficerChecks(ctx, tx, checks); err != nil {
		return checks, err
	}
	if err := e.Events.Append(ctx, tx, "checks.admin_officer.recorded", a.ID, "checks", a.ID, actorID, nil); err != nil {
		return checks, err
	}
	if err := tx.Commit(); err != nil {
		return checks, err
	}
	return checks, nil
}

// RecordWoodlandOfficerChecks stores the woodland officer's checklist facts.
func (e Engine) RecordWoodlandOfficerChecks(ctx context.Context, checks domain.WoodlandOfficerChecks, actorID string) (domain.WoodlandOfficerChecks, error) {
	a, err := e.Repo.GetApplication(ctx, checks.ApplicationID)
	if err != nil {
		return checks, err
	}
	if a.Status != domain.StatusWoodlandOfficerReview {
		return checks, PreconditionError{Reason: fmt.Sprintf("case is %s, not in woodland officer review", a.Status), Redirect: "case"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return checks, err
	}
	defer tx.Rollback()
	if err := e.requireAssigned(ctx, tx, a.ID, domain.RoleWoodlandOfficer, actorID); err != nil {
		return checks, err
	}
	checks.UpdatedAt = e.nowString()
	if err := e.Repo.UpsertWoodlandOfficerChecks(ctx, tx, checks); err != nil {
		return checks, err
	}
	if err := e.Events.Append(ctx, tx, "checks.woodland_officer.recorded", a.ID, "checks", a.ID, actorID, nil); err != nil {
		return checks, err
	}
	if err := tx.Commit(); err != nil {
		return checks, err
	}
	return checks, nil
}

// AdminOfficerTaskList evaluates the admin officer checklist for a case.
func (e Engine) AdminOfficerTaskList(ctx context.Context, applicationID string) (tasklist.State, error) {
	if _, err := e.Repo.GetApplication(ctx, applicationID); err != nil {
		return tasklist.State{}, err
	}
	checks, err := e.Repo.GetAdminOfficerChecks(ctx, applicationID)
	if err != nil {
		return tasklist.State{}, err
	}
	woAssigned := true
	if _, err := e.Repo.OpenAssignee(ctx, applicationID, domain.RoleWoodlandOfficer); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return tasklist.State{}, err
		}
		woAssigned = false
	}
	return tasklist.EvaluateAdminOfficer(tasklist.AdminOfficerFacts{
		Checks:                  checks,
		WoodlandOfficerAssigned: woAssigned,
	}), nil
}

// WoodlandOfficerTaskList evaluates the woodland officer checklist for a case.
func (e Engine) WoodlandOfficerTaskList(ctx context.Context, applicationID string) (tasklist.State, error) {
	if _, err := e.Repo.GetApplication(ctx, applicationID); err != nil {
		return tasklist.State{}, err
	}
	checks, err := e.Repo.GetWoodlandOfficerChecks(ctx, applicationID)
	if err != nil {
		return tasklist.State{}, err
	}
	facts := tasklist.WoodlandOfficerFacts{
		Checks:         checks,
		AmendmentState: domain.AmendmentNone,
	}
	rec, err := e.Repo.GetRegisterRecord(ctx, applicationID)
	switch {
	case err == nil:
		facts.HasRegisterRecord = true
		facts.RegisterExempt = rec.Exempt
		facts.RegisterPublished = rec.PublishedAt != nil
	case !errors.Is(err, repo.ErrNotFound):
		return tasklist.State{}, err
	}
	review, err := e.Repo.CurrentAmendmentReview(ctx, applicationID)
	switch {
	case err == nil:
		facts.AmendmentState = review.State
	case !errors.Is(err, repo.ErrNotFound):
		return tasklist.State{}, err
	}
	details, err := e.Repo.ListFellingDetails(ctx, applicationID, false)
	if err != nil {
		return tasklist.State{}, err
	}
	facts.LiveFellingDetails = len(details)
	return tasklist.EvaluateWoodlandOfficer(facts), nil
}

// AddCaseNote attaches a note to a case. Stage-completion callers treat a
// failure here as a warning, not a rollback.
func (e Engine) AddCaseNote(ctx context.Context, applicationID string, noteType domain.CaseNoteType, text string, visibleToApplicant bool, actorID string) (domain.CaseNote, error) {
	if strings.TrimSpace(text) == "" {
		return domain.CaseNote{}, ValidationError{Field: "text", Reason: "required"}
	}
	if _, err := e.Repo.GetApplication(ctx, applicationID); err != nil {
		return domain.CaseNote{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CaseNote{}, err
	}
	defer tx.Rollback()
	n := domain.CaseNote{
		ID:                 uuid.New().String(),
		ApplicationID:      applicationID,
		Type:               noteType,
		Text:               text,
		VisibleToApplicant: visibleToApplicant,
		AuthorID:           actorID,
		CreatedAt:          e.nowString(),
	}
	if err := e.Repo.InsertCaseNote(ctx, tx, n); err != nil {
		return n, err
	}
	if err := e.Events.Append(ctx, tx, "note.added", applicationID, "note", n.ID, actorID, events.EventPayload{"type": n.Type}); err != nil {
		return n, err
	}
	if err := tx.Commit(); err != nil {
		return n, err
	}
	return n, nil
}

func (e Engine) appendNote(ctx context.Context, tx *sql.Tx, applicationID string, noteType domain.CaseNoteType, text, actorID string, visible bool) error {
	return e.Repo.InsertCaseNote(ctx, tx, domain.CaseNote{
		ID:                 uuid.New().String(),
		ApplicationID:      applicationID,
		Type:               noteType,
		Text:               text,
		VisibleToApplicant: visible,
		AuthorID:           actorID,
		CreatedAt:          e.nowString(),
	})
}

func preApproval(s domain.CaseStatus) bool {
	switch s {
	case domain.StatusDraft, domain.StatusSubmitted, domain.StatusAdminOfficerReview,
		domain.StatusWoodlandOfficerReview, domain.StatusSentForApproval:
		return true
	}
	return false
}
