package engine_test

import (
	"errors"
	"testing"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
)

func TestSingleOpenAssignmentPerRole(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInAdminReview(t)
	env.Engine.Config.Users["ao2"] = env.Engine.Config.Users["ao"]
	if _, err := env.Engine.AssignToUser(env.Ctx, engine.AssignOptions{
		ApplicationID: a.ID, UserID: "ao2", Role: domain.RoleAdminOfficer, ActorID: "boss",
	}); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	hist, err := env.Engine.Repo.ListAssigneeHistory(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	open := 0
	for _, h := range hist {
		if h.Role == domain.RoleAdminOfficer && h.UnassignedAt == nil {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one open admin officer entry, got %d", open)
	}
	holder, err := env.Engine.Repo.OpenAssignee(env.Ctx, a.ID, domain.RoleAdminOfficer)
	if err != nil {
		t.Fatal(err)
	}
	if holder.UserID != "ao2" {
		t.Fatalf("expected ao2 to hold the role, got %s", holder.UserID)
	}
}

func TestAssignRejectsWrongRole(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSubmitted(t)
	_, err := env.Engine.AssignToUser(env.Ctx, engine.AssignOptions{
		ApplicationID: a.ID, UserID: "ao", Role: domain.RoleWoodlandOfficer, ActorID: "boss",
	})
	var forb engine.ForbiddenError
	if !errors.As(err, &forb) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAssignRejectsMissingArea(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Users["ao-south"] = config.User{Roles: []string{"admin_officer"}, Areas: []string{"south"}}
	a := env.createSubmitted(t)
	_, err := env.Engine.AssignToUser(env.Ctx, engine.AssignOptions{
		ApplicationID: a.ID, UserID: "ao-south", Role: domain.RoleAdminOfficer, ActorID: "boss",
	})
	var val engine.ValidationError
	if !errors.As(err, &val) {
		t.Fatalf("expected validation error for area mismatch, got %v", err)
	}
}

func TestAssignRejectsMissingCostCode(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	env.Engine.Config.Users["wo-nocode"] = config.User{Roles: []string{"woodland_officer"}, Areas: []string{"north"}}
	_, err := env.Engine.AssignToUser(env.Ctx, engine.AssignOptions{
		ApplicationID: a.ID, UserID: "wo-nocode", Role: domain.RoleWoodlandOfficer, ActorID: "boss",
	})
	var val engine.ValidationError
	if !errors.As(err, &val) {
		t.Fatalf("expected validation error for missing cost code, got %v", err)
	}
}

func TestReassignConfirmPrompt(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSubmitted(t)
	prompt, err := env.Engine.ReassignConfirm(env.Ctx, a.ID, domain.RoleAdminOfficer)
	if err != nil {
		t.Fatal(err)
	}
	if prompt.Required {
		t.Fatal("no holder yet; confirmation must not be required")
	}
	if _, err := env.Engine.AssignToUser(env.Ctx, engine.AssignOptions{
		ApplicationID: a.ID, UserID: "ao", Role: domain.RoleAdminOfficer, ActorID: "boss",
	}); err != nil {
		t.Fatal(err)
	}
	prompt, err = env.Engine.ReassignConfirm(env.Ctx, a.ID, domain.RoleAdminOfficer)
	if err != nil {
		t.Fatal(err)
	}
	if !prompt.Required || prompt.CurrentHolder != "ao" {
		t.Fatalf("expected confirmation naming ao, got %+v", prompt)
	}
}

func TestAssignBackToApplicant(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInAdminReview(t)
	if _, err := env.Engine.AssignBackToApplicant(env.Ctx, engine.AssignBackOptions{
		ApplicationID: a.ID, Reason: " \t ", ActorID: "boss",
	}); err == nil {
		t.Fatal("blank reason must be rejected")
	}
	a, err := env.Engine.AssignBackToApplicant(env.Ctx, engine.AssignBackOptions{
		ApplicationID:   a.ID,
		Reason:          "compartment map unreadable",
		VisibleSections: []string{"mapping", "supporting_documents"},
		ActorID:         "boss",
	})
	if err != nil {
		t.Fatalf("assign back: %v", err)
	}
	if a.Status != domain.StatusReturnedToApplicant {
		t.Fatalf("expected returned_to_applicant, got %s", a.Status)
	}
	if _, err := env.Engine.Repo.OpenAssignee(env.Ctx, a.ID, domain.RoleAdminOfficer); err == nil {
		t.Fatal("staff assignments must be closed")
	}
	holder, err := env.Engine.Repo.OpenAssignee(env.Ctx, a.ID, domain.RoleApplicant)
	if err != nil {
		t.Fatal(err)
	}
	if holder.UserID != "applicant-1" {
		t.Fatalf("expected applicant to hold the case, got %s", holder.UserID)
	}
	notes, err := env.Engine.Repo.ListCaseNotes(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	var returnNote *domain.CaseNote
	for i := range notes {
		if notes[i].Type == domain.NoteReturnReason {
			returnNote = &notes[i]
		}
	}
	if returnNote == nil || !returnNote.VisibleToApplicant {
		t.Fatal("return reason must be recorded as an applicant-visible note")
	}
	outbox, err := env.Engine.Repo.ListNotifications(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(outbox) == 0 {
		t.Fatal("return must queue an applicant notification")
	}
}

func TestAssignmentAndStatusCommitTogether(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSubmitted(t)
	// area mismatch fails before anything is written
	env.Engine.Config.Users["ao-east"] = config.User{Roles: []string{"admin_officer"}, Areas: []string{"east"}}
	_, err := env.Engine.AssignToUser(env.Ctx, engine.AssignOptions{
		ApplicationID: a.ID, UserID: "ao-east", Role: domain.RoleAdminOfficer, ActorID: "boss",
	})
	if err == nil {
		t.Fatal("expected area validation failure")
	}
	got, _ := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if got.Status != domain.StatusSubmitted {
		t.Fatalf("status must be unchanged after failed assignment, got %s", got.Status)
	}
	if _, err := env.Engine.Repo.OpenAssignee(env.Ctx, a.ID, domain.RoleAdminOfficer); err == nil {
		t.Fatal("no assignment may exist after a failed attempt")
	}
}
