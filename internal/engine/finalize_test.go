package engine_test

import (
	"errors"
	"testing"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
)

func TestApproveSetsApproverAndExpiry(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApproval(t)
	res, err := env.Engine.ApproveApplication(env.Ctx, a.ID, "fm")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Application.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", res.Application.Status)
	}
	if len(res.SubProcessFailures) != 0 {
		t.Fatalf("unexpected soft failures: %+v", res.SubProcessFailures)
	}
	got, err := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ApproverID == nil || *got.ApproverID != "fm" {
		t.Fatal("approver not recorded")
	}
	if got.ExpiryDate == nil || *got.ExpiryDate != "2031-03-01T09:00:00Z" {
		t.Fatalf("expected 5-year expiry from frozen clock, got %v", got.ExpiryDate)
	}
	doc, err := env.Engine.Repo.GetDocument(env.Ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("decision document: %v", err)
	}
	if doc.Purpose != "decision" {
		t.Fatalf("expected decision document, got %s", doc.Purpose)
	}
	dec, err := env.Engine.Repo.GetDecisionRecord(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("decision record: %v", err)
	}
	if dec.Outcome != domain.StatusApproved {
		t.Fatalf("expected approved outcome, got %s", dec.Outcome)
	}
}

func TestFinaliseRequiresFieldManagerAssignment(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApproval(t)
	_, err := env.Engine.ApproveApplication(env.Ctx, a.ID, "wo")
	var forb engine.ForbiddenError
	if !errors.As(err, &forb) {
		t.Fatalf("expected forbidden for non field manager, got %v", err)
	}
	env.Engine.Config.Users["fm2"] = env.Engine.Config.Users["fm"]
	_, err = env.Engine.ApproveApplication(env.Ctx, a.ID, "fm2")
	if !errors.As(err, &forb) {
		t.Fatalf("expected forbidden for unassigned field manager, got %v", err)
	}
}

func TestDocumentFailureAbortsSaga(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApproval(t)
	env.Docs.fail = true
	_, err := env.Engine.ApproveApplication(env.Ctx, a.ID, "fm")
	var saga engine.SagaError
	if !errors.As(err, &saga) {
		t.Fatalf("expected saga error, got %v", err)
	}
	if saga.Step != "unable to generate document" {
		t.Fatalf("expected document step failure, got %s", saga.Step)
	}
	got, _ := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if got.Status != domain.StatusSentForApproval {
		t.Fatalf("hard failure must roll back, status is %s", got.Status)
	}
	if got.ApproverID != nil || got.ExpiryDate != nil {
		t.Fatal("approver update must roll back with the saga")
	}
	if _, err := env.Engine.Repo.GetDecisionRecord(env.Ctx, a.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatal("no decision record may survive a rolled-back saga")
	}
}

func TestNotifierFailureIsSoft(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApproval(t)
	env.Notifier.fail = true
	res, err := env.Engine.RefuseApplication(env.Ctx, a.ID, "fm")
	if err != nil {
		t.Fatalf("refuse: %v", err)
	}
	if res.Application.Status != domain.StatusRefused {
		t.Fatalf("expected refused, got %s", res.Application.Status)
	}
	found := false
	for _, f := range res.SubProcessFailures {
		if f.Step == "notify-applicant" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected notify-applicant soft failure, got %+v", res.SubProcessFailures)
	}
	got, _ := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if got.Status != domain.StatusRefused {
		t.Fatal("soft failure must not roll back the transition")
	}
	// the outbox row survives even when direct delivery failed
	outbox, err := env.Engine.Repo.ListNotifications(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(outbox) == 0 {
		t.Fatal("notification outbox row missing")
	}
}

// createSentForApprovalPublished routes the register step via publication
// rather than exemption.
func (env testEnv) createSentForApprovalPublished(t *testing.T) domain.Application {
	t.Helper()
	a := env.createInWoodlandReview(t)
	if _, err := env.Engine.PublishToRegister(env.Ctx, a.ID, 28, "wo"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := env.Engine.ConfirmFellingDetail(env.Ctx, engine.FellingDetailOptions{
		ApplicationID: a.ID, CompartmentID: "cpt-1", OperationType: "clear fell", AreaHa: 1.5, ActorID: "wo",
	}); err != nil {
		t.Fatal(err)
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
		t.Fatal(err)
	}
	if _, err := env.Engine.AssignToUser(env.Ctx, engine.AssignOptions{
		ApplicationID: a.ID, UserID: "fm", Role: domain.RoleFieldManager, ActorID: "boss",
	}); err != nil {
		t.Fatal(err)
	}
	a, err := env.Engine.ConfirmWoodlandOfficerReview(env.Ctx, a.ID, "wo")
	if err != nil {
		t.Fatalf("confirm woodland officer review: %v", err)
	}
	return a
}

func TestRefuseRemovesRegisterEntry(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApprovalPublished(t)
	res, err := env.Engine.RefuseApplication(env.Ctx, a.ID, "fm")
	if err != nil {
		t.Fatalf("refuse: %v", err)
	}
	if len(res.SubProcessFailures) != 0 {
		t.Fatalf("unexpected soft failures: %+v", res.SubProcessFailures)
	}
	rec, err := env.Engine.Repo.GetRegisterRecord(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.RemovedAt == nil {
		t.Fatal("register entry must be removed on refusal")
	}
	if len(env.Register.removed) != 1 {
		t.Fatalf("expected one remote removal, got %d", len(env.Register.removed))
	}
}

func TestRegisterOutageIsSoftOnRefusal(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApprovalPublished(t)
	env.Register.failRemove = true
	res, err := env.Engine.RefuseApplication(env.Ctx, a.ID, "fm")
	if err != nil {
		t.Fatalf("refuse: %v", err)
	}
	found := false
	for _, f := range res.SubProcessFailures {
		if f.Step == "publish-to-register" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected register soft failure, got %+v", res.SubProcessFailures)
	}
	got, _ := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if got.Status != domain.StatusRefused {
		t.Fatal("register outage must not block the decision")
	}
	rec, _ := env.Engine.Repo.GetRegisterRecord(env.Ctx, a.ID)
	if rec.RemovedAt != nil {
		t.Fatal("failed removal must not be stamped as removed")
	}
}

func TestRegisterOutageIsSoftOnApproval(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApprovalPublished(t)
	if _, err := env.Engine.RemoveFromRegister(env.Ctx, a.ID, "wo"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	env.Register.failPublish = true
	res, err := env.Engine.ApproveApplication(env.Ctx, a.ID, "fm")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Application.Status != domain.StatusApproved {
		t.Fatalf("register outage must not block the decision, got %s", res.Application.Status)
	}
	if len(res.SubProcessFailures) != 1 || res.SubProcessFailures[0].Step != "publish-to-register" {
		t.Fatalf("expected a single register soft failure, got %+v", res.SubProcessFailures)
	}
	got, _ := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if got.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", got.Status)
	}
}

func TestReferBehavesLikeRefusalForRegister(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSentForApprovalPublished(t)
	res, err := env.Engine.ReferApplicationToLocalAuthority(env.Ctx, a.ID, "fm")
	if err != nil {
		t.Fatalf("refer: %v", err)
	}
	if res.Application.Status != domain.StatusReferredToLocalAuthority {
		t.Fatalf("expected referred, got %s", res.Application.Status)
	}
	rec, err := env.Engine.Repo.GetRegisterRecord(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.RemovedAt == nil {
		t.Fatal("register entry must be removed on referral")
	}
}

func TestFinaliseRejectedOutsideSentForApproval(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInAdminReview(t)
	_, err := env.Engine.ApproveApplication(env.Ctx, a.ID, "fm")
	var pre engine.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}
