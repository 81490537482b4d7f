package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/tasklist"
)

type fakeDocs struct {
	fail bool
}

func (f *fakeDocs) GenerateDecisionDocument(ctx context.Context, app domain.Application, outcome domain.CaseStatus) (string, []byte, error) {
	if f.fail {
		return "", nil, errors.New("renderer down")
	}
	return "decision.pdf", []byte("%PDF-1.4 decision"), nil
}

type fakeNotifier struct {
	fail  bool
	calls []string
}

func (f *fakeNotifier) NotifyApplicant(ctx context.Context, applicationID, kind string, payload map[string]any) error {
	f.calls = append(f.calls, kind)
	if f.fail {
		return errors.New("mail relay unreachable")
	}
	return nil
}

type fakeRegister struct {
	failPublish bool
	failRemove  bool
	published   []string
	removed     []string
}

func (f *fakeRegister) Publish(ctx context.Context, reference string, periodDays int) (string, error) {
	if f.failPublish {
		return "", errors.New("esri timeout")
	}
	f.published = append(f.published, reference)
	return "esri-" + reference, nil
}

func (f *fakeRegister) Remove(ctx context.Context, esriID string) error {
	if f.failRemove {
		return errors.New("esri timeout")
	}
	f.removed = append(f.removed, esriID)
	return nil
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Docs     *fakeDocs
	Notifier *fakeNotifier
	Register *fakeRegister
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Users = map[string]config.User{
		"ao":   {Name: "Ada", Roles: []string{"admin_officer"}, Areas: []string{"north"}},
		"wo":   {Name: "Wil", Roles: []string{"woodland_officer"}, Areas: []string{"north"}, CostCodes: []string{"FC-01"}},
		"fm":   {Name: "Fay", Roles: []string{"field_manager"}, Areas: []string{"north"}, CostCodes: []string{"FC-01"}},
		"boss": {Name: "Bea", Roles: []string{"admin"}},
	}
	env := testEnv{
		Ctx:      context.Background(),
		Docs:     &fakeDocs{},
		Notifier: &fakeNotifier{},
		Register: &fakeRegister{},
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	eng.Docs = env.Docs
	eng.Notifier = env.Notifier
	eng.Register = env.Register
	env.Engine = eng
	return env
}

func (env testEnv) createSubmitted(t *testing.T) domain.Application {
	t.Helper()
	a, err := env.Engine.CreateApplication(env.Ctx, engine.ApplicationCreateOptions{
		ApplicantID: "applicant-1",
		Area:        "north",
		ActorID:     "applicant-1",
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}
	a, err = env.Engine.SubmitApplication(env.Ctx, a.ID, "applicant-1")
	if err != nil {
		t.Fatalf("submit application: %v", err)
	}
	return a
}

// createInAdminReview assigns the admin officer, which starts the review.
func (env testEnv) createInAdminReview(t *testing.T) domain.Application {
	t.Helper()
	a := env.createSubmitted(t)
	if _, err := env.Engine.AssignToUser(env.Ctx, engine.AssignOptions{
		ApplicationID: a.ID, UserID: "ao", Role: domain.RoleAdminOfficer, ActorID: "boss",
	}); err != nil {
		t.Fatalf("assign admin officer: %v", err)
	}
	a, err := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func (env testEnv) completeAdminReview(t *testing.T, a domain.Application) {
	t.Helper()
	if _, err := env.Engine.RecordAdminOfficerChecks(env.Ctx, domain.AdminOfficerChecks{
		ApplicationID:          a.ID,
		AgentAuthorityFormOK:   true,
		AgentAuthorityRequired: true,
		DateReceivedVerified:   true,
		MappingCheckPassed:     true,
		ConstraintsCheckPassed: true,
		LarchCheckDone:         true,
		EiaScreeningDone:       true,
		EiaRelevant:            true,
		SupportingDocsComplete: true,
	}, "ao"); err != nil {
		t.Fatalf("record admin officer checks: %v", err)
	}
	if _, err := env.Engine.AssignToUser(env.Ctx, engine.AssignOptions{
		ApplicationID: a.ID, UserID: "wo", Role: domain.RoleWoodlandOfficer, ActorID: "ao",
	}); err != nil {
		t.Fatalf("assign woodland officer: %v", err)
	}
}

func (env testEnv) createInWoodlandReview(t *testing.T) domain.Application {
	t.Helper()
	a := env.createInAdminReview(t)
	env.completeAdminReview(t, a)
	a, err := env.Engine.ConfirmAdminOfficerReview(env.Ctx, a.ID, "ao")
	if err != nil {
		t.Fatalf("confirm admin officer review: %v", err)
	}
	return a
}

func (env testEnv) completeWoodlandReview(t *testing.T, a domain.Application) {
	t.Helper()
	if _, err := env.Engine.StoreExemption(env.Ctx, a.ID, true, "under minimum area threshold", "wo"); err != nil {
		t.Fatalf("store exemption: %v", err)
	}
	if _, err := env.Engine.ConfirmFellingDetail(env.Ctx, engine.FellingDetailOptions{
		ApplicationID: a.ID, CompartmentID: "cpt-1", OperationType: "clear fell", AreaHa: 1.5, ActorID: "wo",
	}); err != nil {
		t.Fatalf("confirm felling detail: %v", err)
	}
	if _, err := env.Engine.RecordWoodlandOfficerChecks(env.Ctx, domain.WoodlandOfficerChecks{
		ApplicationID:         a.ID,
		SiteVisitComplete:     true,
		Pw14ChecksComplete:    true,
		ConditionsComplete:    true,
		ConsultationsComplete: true,
		HabitatRegsComplete:   true,
		DesignationsComplete:  true,
		FellingConfirmed:      true,
		FinalChecksComplete:   true,
	}, "wo"); err != nil {
		t.Fatalf("record woodland officer checks: %v", err)
	}
}

func (env testEnv) createSentForApproval(t *testing.T) domain.Application {
	t.Helper()
	a := env.createInWoodlandReview(t)
	env.completeWoodlandReview(t, a)
	if _, err := env.Engine.AssignToUser(env.Ctx, engine.AssignOptions{
		ApplicationID: a.ID, UserID: "fm", Role: domain.RoleFieldManager, ActorID: "boss",
	}); err != nil {
		t.Fatalf("assign field manager: %v", err)
	}
	a, err := env.Engine.ConfirmWoodlandOfficerReview(env.Ctx, a.ID, "wo")
	if err != nil {
		t.Fatalf("confirm woodland officer review: %v", err)
	}
	return a
}

func TestCreateAndSubmit(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateApplication(env.Ctx, engine.ApplicationCreateOptions{
		ApplicantID: "applicant-1",
		Area:        "north",
		ActorID:     "applicant-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Status != domain.StatusDraft {
		t.Fatalf("new application should be draft, got %s", a.Status)
	}
	if a.Reference == "" {
		t.Fatal("reference not generated")
	}
	a, err = env.Engine.SubmitApplication(env.Ctx, a.ID, "applicant-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", a.Status)
	}
	hist, err := env.Engine.Repo.ListStatusHistory(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 status entries, got %d", len(hist))
	}
	if hist[len(hist)-1].Status != a.Status {
		t.Fatal("application status must match latest history entry")
	}
}

func TestAssigningAdminOfficerStartsReview(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInAdminReview(t)
	if a.Status != domain.StatusAdminOfficerReview {
		t.Fatalf("expected admin_officer_review, got %s", a.Status)
	}
}

func TestConfirmAdminReviewBlockedByTaskList(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInAdminReview(t)
	_, err := env.Engine.ConfirmAdminOfficerReview(env.Ctx, a.ID, "ao")
	var pre engine.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if pre.Redirect != tasklist.StepAgentAuthorityForm {
		t.Fatalf("expected redirect to first blocker, got %s", pre.Redirect)
	}
	got, _ := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if got.Status != domain.StatusAdminOfficerReview {
		t.Fatalf("status must be unchanged, got %s", got.Status)
	}
}

func TestConfirmAdminReviewRequiresAssignment(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInAdminReview(t)
	env.completeAdminReview(t, a)
	_, err := env.Engine.ConfirmAdminOfficerReview(env.Ctx, a.ID, "wo")
	var forb engine.ForbiddenError
	if !errors.As(err, &forb) {
		t.Fatalf("expected forbidden for non-holder, got %v", err)
	}
}

func TestConfirmWoodlandReviewNeedsFieldManager(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	env.completeWoodlandReview(t, a)
	_, err := env.Engine.ConfirmWoodlandOfficerReview(env.Ctx, a.ID, "wo")
	var pre engine.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected precondition error without field manager, got %v", err)
	}
	if pre.Redirect != "assignment" {
		t.Fatalf("expected redirect to assignment, got %s", pre.Redirect)
	}
	got, _ := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if got.Status != domain.StatusWoodlandOfficerReview {
		t.Fatalf("status must be unchanged, got %s", got.Status)
	}
}

func TestFullReviewPipeline(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApproval(t)
	if a.Status != domain.StatusSentForApproval {
		t.Fatalf("expected sent_for_approval, got %s", a.Status)
	}
}

func TestWithdrawAndReopen(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInAdminReview(t)
	a, err := env.Engine.WithdrawApplication(env.Ctx, a.ID, "changed my mind", "applicant-1")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if a.Status != domain.StatusWithdrawn {
		t.Fatalf("expected withdrawn, got %s", a.Status)
	}
	if _, err := env.Engine.ReopenWithdrawnApplication(env.Ctx, a.ID, "ao"); err == nil {
		t.Fatal("reopen must require the admin role")
	}
	a, err = env.Engine.ReopenWithdrawnApplication(env.Ctx, a.ID, "boss")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if a.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted after reopen, got %s", a.Status)
	}
}

func TestWithdrawRejectedAfterDecision(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApproval(t)
	if _, err := env.Engine.ApproveApplication(env.Ctx, a.ID, "fm"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := env.Engine.WithdrawApplication(env.Ctx, a.ID, "", "applicant-1")
	var pre engine.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestApprovedInErrorRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApproval(t)
	if _, err := env.Engine.ApproveApplication(env.Ctx, a.ID, "fm"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.MarkApprovedInError(env.Ctx, a.ID, "  ", "boss"); err == nil {
		t.Fatal("blank reason must be rejected")
	}
	a, err := env.Engine.MarkApprovedInError(env.Ctx, a.ID, "wrong compartment boundaries", "boss")
	if err != nil {
		t.Fatalf("mark approved in error: %v", err)
	}
	if a.Status != domain.StatusApprovedInError {
		t.Fatalf("expected approved_in_error, got %s", a.Status)
	}
	a, err = env.Engine.ReopenApprovedInError(env.Ctx, a.ID, "boss")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if a.Status != domain.StatusWoodlandOfficerReview {
		t.Fatalf("expected woodland_officer_review, got %s", a.Status)
	}
}

func TestCaseNoteValidation(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInAdminReview(t)
	if _, err := env.Engine.AddCaseNote(env.Ctx, a.ID, domain.NoteCaseNote, "   ", false, "ao"); err == nil {
		t.Fatal("whitespace note must be rejected")
	}
	n, err := env.Engine.AddCaseNote(env.Ctx, a.ID, domain.NoteCaseNote, "spoke to agent", false, "ao")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	notes, err := env.Engine.Repo.ListCaseNotes(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, got := range notes {
		if got.ID == n.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("note not persisted")
	}
}

func TestEventAppendOnStatusChanges(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInAdminReview(t)
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, a.ID, "application.status")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) < 2 {
		t.Fatalf("expected status events for submit and review start, got %d", len(evts))
	}
}
