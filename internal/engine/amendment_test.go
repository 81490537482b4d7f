package engine_test

import (
	"errors"
	"testing"

	"caseline/internal/domain"
	"caseline/internal/engine"
)

func (env testEnv) confirmDetail(t *testing.T, a domain.Application) domain.ConfirmedFellingDetail {
	t.Helper()
	d, err := env.Engine.ConfirmFellingDetail(env.Ctx, engine.FellingDetailOptions{
		ApplicationID: a.ID, CompartmentID: "cpt-1", OperationType: "clear fell", AreaHa: 2.0, ActorID: "wo",
	})
	if err != nil {
		t.Fatalf("confirm felling detail: %v", err)
	}
	return d
}

func TestSendAmendmentsRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	env.confirmDetail(t, a)
	for _, reason := range []string{"", "   ", "\t\n"} {
		_, err := env.Engine.SendAmendmentsToApplicant(env.Ctx, a.ID, reason, "wo")
		var val engine.ValidationError
		if !errors.As(err, &val) {
			t.Fatalf("reason %q: expected validation error, got %v", reason, err)
		}
		if val.Field != "reason" {
			t.Fatalf("expected field reason, got %s", val.Field)
		}
	}
}

func TestAmendmentCycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	env.confirmDetail(t, a)

	ar, err := env.Engine.SendAmendmentsToApplicant(env.Ctx, a.ID, "area reduced to protect watercourse", "wo")
	if err != nil {
		t.Fatalf("send amendments: %v", err)
	}
	if ar.State != domain.AmendmentSentForApplicantReview {
		t.Fatalf("expected sent_for_applicant_review, got %s", ar.State)
	}
	// sending twice in a row is rejected
	if _, err := env.Engine.SendAmendmentsToApplicant(env.Ctx, a.ID, "again", "wo"); err == nil {
		t.Fatal("expected precondition error for an already-dispatched cycle")
	}
	ar, err = env.Engine.MakeFurtherAmendments(env.Ctx, a.ID, ar.ID, "wo")
	if err != nil {
		t.Fatalf("make further amendments: %v", err)
	}
	if ar.State != domain.AmendmentUnderApplicant {
		t.Fatalf("expected under_applicant_amendment, got %s", ar.State)
	}
	ar, err = env.Engine.CompleteAmendmentReview(env.Ctx, a.ID, "wo")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ar.State != domain.AmendmentCompleted {
		t.Fatalf("expected completed, got %s", ar.State)
	}
	// a completed cycle may be re-dispatched
	if _, err := env.Engine.SendAmendmentsToApplicant(env.Ctx, a.ID, "further changes needed", "wo"); err != nil {
		t.Fatalf("re-dispatch after completion: %v", err)
	}
}

func TestDetailEditsLockedDuringApplicantReview(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	d := env.confirmDetail(t, a)
	if _, err := env.Engine.SendAmendmentsToApplicant(env.Ctx, a.ID, "please review", "wo"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.AmendFellingDetail(env.Ctx, a.ID, d.ID, "thinning", 1.0, "wo")
	var pre engine.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected locked details, got %v", err)
	}
}

func TestAmendAndRevertFellingDetail(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	d := env.confirmDetail(t, a)

	d, err := env.Engine.AmendFellingDetail(env.Ctx, a.ID, d.ID, "thinning", 1.2, "wo")
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if !d.Amended || d.OperationType != "thinning" {
		t.Fatalf("expected amended thinning detail, got %+v", d)
	}
	d, err = env.Engine.RevertFellingDetailAmendments(env.Ctx, a.ID, d.ID, "wo")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if d.Amended || d.OperationType != "clear fell" || d.AreaHa != 2.0 {
		t.Fatalf("expected proposed values restored, got %+v", d)
	}
}

func TestSoftDeleteExcludesFromTaskList(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	d := env.confirmDetail(t, a)
	if err := env.Engine.DeleteFellingDetail(env.Ctx, a.ID, d.ID, "wo"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	live, err := env.Engine.Repo.ListFellingDetails(env.Ctx, a.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 0 {
		t.Fatalf("soft-deleted detail must be excluded, got %d live", len(live))
	}
	all, err := env.Engine.Repo.ListFellingDetails(env.Ctx, a.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || !all[0].Deleted {
		t.Fatal("soft-deleted detail must be retained for audit")
	}
}

func TestSpeciesReconciliation(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	d := env.confirmDetail(t, a)

	// applicant-proposed composition
	species, err := env.Engine.UpdateFellingSpecies(env.Ctx, a.ID, d.ID, []engine.SpeciesInput{
		{Code: "OK", Percent: 60},
		{Code: "SP", Percent: 40},
	}, "wo")
	if err != nil {
		t.Fatalf("seed species: %v", err)
	}
	if len(species) != 2 {
		t.Fatalf("expected 2 species, got %d", len(species))
	}

	// drop SP, keep OK at a new split, add BE
	species, err = env.Engine.UpdateFellingSpecies(env.Ctx, a.ID, d.ID, []engine.SpeciesInput{
		{Code: "OK", Percent: 70},
		{Code: "BE", Percent: 30},
	}, "wo")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	byCode := map[string]domain.FellingSpecies{}
	for _, s := range species {
		byCode[s.SpeciesCode] = s
	}
	if s := byCode["OK"]; s.Percent != 70 || s.Deleted {
		t.Fatalf("OK should survive at 70%%, got %+v", s)
	}
	if s := byCode["SP"]; !s.Deleted {
		t.Fatalf("SP should be marked deleted, got %+v", s)
	}
	if s := byCode["BE"]; !s.Added || s.Percent != 30 {
		t.Fatalf("BE should be a 30%% addition, got %+v", s)
	}
}

func TestRevertRemovesAddedSpecies(t *testing.T) {
	env := newTestEnv(t)
	a := env.createInWoodlandReview(t)
	d := env.confirmDetail(t, a)
	if _, err := env.Engine.UpdateFellingSpecies(env.Ctx, a.ID, d.ID, []engine.SpeciesInput{
		{Code: "OK", Percent: 100},
	}, "wo"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RevertFellingDetailAmendments(env.Ctx, a.ID, d.ID, "wo"); err != nil {
		t.Fatalf("revert: %v", err)
	}
	species, err := env.Engine.Repo.ListSpecies(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(species) != 0 {
		t.Fatalf("added species must be removed on revert, got %d", len(species))
	}
}
