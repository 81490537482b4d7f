package tasklist_test

import (
	"testing"

	"caseline/internal/domain"
	"caseline/internal/tasklist"
)

func completeAdminOfficerFacts() tasklist.AdminOfficerFacts {
	return tasklist.AdminOfficerFacts{
		Checks: domain.AdminOfficerChecks{
			AgentAuthorityFormOK:   true,
			AgentAuthorityRequired: true,
			DateReceivedVerified:   true,
			MappingCheckPassed:     true,
			ConstraintsCheckPassed: true,
			LarchCheckDone:         true,
			EiaRelevant:            true,
			EiaScreeningDone:       true,
			SupportingDocsComplete: true,
		},
		WoodlandOfficerAssigned: true,
	}
}

func TestAdminOfficerAllComplete(t *testing.T) {
	st := tasklist.EvaluateAdminOfficer(completeAdminOfficerFacts())
	if !st.CanComplete() {
		t.Fatalf("expected completable, blocker=%s", st.FirstBlocker())
	}
	if len(st.Steps) != 8 {
		t.Fatalf("expected 8 steps, got %d", len(st.Steps))
	}
}

func TestAdminOfficerSoleBlockers(t *testing.T) {
	cases := []struct {
		step   string
		mutate func(*tasklist.AdminOfficerFacts)
	}{
		{tasklist.StepAgentAuthorityForm, func(f *tasklist.AdminOfficerFacts) { f.Checks.AgentAuthorityFormOK = false }},
		{tasklist.StepSupportingDocuments, func(f *tasklist.AdminOfficerFacts) { f.Checks.SupportingDocsComplete = false }},
		{tasklist.StepDateReceivedVerified, func(f *tasklist.AdminOfficerFacts) { f.Checks.DateReceivedVerified = false }},
		{tasklist.StepMappingCheck, func(f *tasklist.AdminOfficerFacts) { f.Checks.MappingCheckPassed = false }},
		{tasklist.StepConstraintsCheck, func(f *tasklist.AdminOfficerFacts) { f.Checks.ConstraintsCheckPassed = false }},
		{tasklist.StepLarchCheck, func(f *tasklist.AdminOfficerFacts) { f.Checks.LarchCheckDone = false }},
		{tasklist.StepEiaScreening, func(f *tasklist.AdminOfficerFacts) { f.Checks.EiaScreeningDone = false }},
		{tasklist.StepAssignWoodlandOfficer, func(f *tasklist.AdminOfficerFacts) { f.WoodlandOfficerAssigned = false }},
	}
	for _, tc := range cases {
		t.Run(tc.step, func(t *testing.T) {
			f := completeAdminOfficerFacts()
			tc.mutate(&f)
			st := tasklist.EvaluateAdminOfficer(f)
			if st.CanComplete() {
				t.Fatalf("expected %s to block completion", tc.step)
			}
			if got := st.FirstBlocker(); got != tc.step {
				t.Fatalf("expected blocker %s, got %s", tc.step, got)
			}
		})
	}
}

func TestAdminOfficerNotRequiredSteps(t *testing.T) {
	f := completeAdminOfficerFacts()
	f.Checks.AgentAuthorityRequired = false
	f.Checks.AgentAuthorityFormOK = false
	f.Checks.EiaRelevant = false
	f.Checks.EiaScreeningDone = false
	st := tasklist.EvaluateAdminOfficer(f)
	if !st.CanComplete() {
		t.Fatalf("not-required steps should not block, blocker=%s", st.FirstBlocker())
	}
	if st.Steps[0].Status != tasklist.NotRequired {
		t.Fatalf("agent authority should be not_required, got %s", st.Steps[0].Status)
	}
}

func TestAssignWoodlandOfficerCannotStartYet(t *testing.T) {
	f := completeAdminOfficerFacts()
	f.Checks.MappingCheckPassed = false
	f.WoodlandOfficerAssigned = false
	st := tasklist.EvaluateAdminOfficer(f)
	last := st.Steps[7]
	if last.Name != tasklist.StepAssignWoodlandOfficer || last.Status != tasklist.CannotStartYet {
		t.Fatalf("expected assign step cannot_start_yet, got %s=%s", last.Name, last.Status)
	}
}

func completeWoodlandOfficerFacts() tasklist.WoodlandOfficerFacts {
	return tasklist.WoodlandOfficerFacts{
		Checks: domain.WoodlandOfficerChecks{
			SiteVisitComplete:     true,
			Pw14ChecksComplete:    true,
			ConditionsComplete:    true,
			ConsultationsComplete: true,
			HabitatRegsComplete:   true,
			DesignationsComplete:  true,
			TreeHealthConcern:     true,
			TreeHealthComplete:    true,
			MapChangesRecorded:    true,
			MapAmendmentsComplete: true,
			FellingConfirmed:      true,
			FinalChecksComplete:   true,
		},
		AmendmentState:     domain.AmendmentCompleted,
		HasRegisterRecord:  true,
		RegisterPublished:  true,
		LiveFellingDetails: 1,
	}
}

func TestWoodlandOfficerAllComplete(t *testing.T) {
	st := tasklist.EvaluateWoodlandOfficer(completeWoodlandOfficerFacts())
	if !st.CanComplete() {
		t.Fatalf("expected completable, blocker=%s", st.FirstBlocker())
	}
	if len(st.Steps) != 11 {
		t.Fatalf("expected 11 steps, got %d", len(st.Steps))
	}
}

func TestWoodlandOfficerSoleBlockers(t *testing.T) {
	cases := []struct {
		step   string
		mutate func(*tasklist.WoodlandOfficerFacts)
	}{
		{tasklist.StepPublicRegister, func(f *tasklist.WoodlandOfficerFacts) {
			f.RegisterPublished = false
			f.HasRegisterRecord = false
		}},
		{tasklist.StepSiteVisit, func(f *tasklist.WoodlandOfficerFacts) { f.Checks.SiteVisitComplete = false }},
		{tasklist.StepPw14Checks, func(f *tasklist.WoodlandOfficerFacts) { f.Checks.Pw14ChecksComplete = false }},
		{tasklist.StepFellingAndRestocking, func(f *tasklist.WoodlandOfficerFacts) { f.Checks.FellingConfirmed = false }},
		{tasklist.StepConditions, func(f *tasklist.WoodlandOfficerFacts) { f.Checks.ConditionsComplete = false }},
		{tasklist.StepConsultations, func(f *tasklist.WoodlandOfficerFacts) { f.Checks.ConsultationsComplete = false }},
		{tasklist.StepHabitatRegulations, func(f *tasklist.WoodlandOfficerFacts) { f.Checks.HabitatRegsComplete = false }},
		{tasklist.StepDesignationsCheck, func(f *tasklist.WoodlandOfficerFacts) { f.Checks.DesignationsComplete = false }},
		{tasklist.StepTreeHealthCheck, func(f *tasklist.WoodlandOfficerFacts) { f.Checks.TreeHealthComplete = false }},
		{tasklist.StepMappingAmendments, func(f *tasklist.WoodlandOfficerFacts) { f.Checks.MapAmendmentsComplete = false }},
		{tasklist.StepFinalChecks, func(f *tasklist.WoodlandOfficerFacts) { f.Checks.FinalChecksComplete = false }},
	}
	for _, tc := range cases {
		t.Run(tc.step, func(t *testing.T) {
			f := completeWoodlandOfficerFacts()
			tc.mutate(&f)
			st := tasklist.EvaluateWoodlandOfficer(f)
			if st.CanComplete() {
				t.Fatalf("expected %s to block completion", tc.step)
			}
			if got := st.FirstBlocker(); got != tc.step {
				t.Fatalf("expected blocker %s, got %s", tc.step, got)
			}
		})
	}
}

func TestWoodlandOfficerAmendmentCycleBlocksFelling(t *testing.T) {
	f := completeWoodlandOfficerFacts()
	f.AmendmentState = domain.AmendmentSentForApplicantReview
	st := tasklist.EvaluateWoodlandOfficer(f)
	if st.Steps[3].Status != tasklist.InProgress {
		t.Fatalf("open amendment cycle should hold felling in_progress, got %s", st.Steps[3].Status)
	}
	if st.CanComplete() {
		t.Fatal("open amendment cycle should block completion")
	}
}

func TestWoodlandOfficerConditionsGatedByFelling(t *testing.T) {
	f := completeWoodlandOfficerFacts()
	f.Checks.FellingConfirmed = false
	f.Checks.ConditionsComplete = false
	st := tasklist.EvaluateWoodlandOfficer(f)
	if st.Steps[4].Status != tasklist.CannotStartYet {
		t.Fatalf("conditions should be cannot_start_yet, got %s", st.Steps[4].Status)
	}
}

func TestWoodlandOfficerNotRequiredSteps(t *testing.T) {
	f := completeWoodlandOfficerFacts()
	f.Checks.SiteVisitNotNeeded = true
	f.Checks.SiteVisitComplete = false
	f.Checks.TreeHealthConcern = false
	f.Checks.TreeHealthComplete = false
	f.Checks.MapChangesRecorded = false
	f.Checks.MapAmendmentsComplete = false
	st := tasklist.EvaluateWoodlandOfficer(f)
	if !st.CanComplete() {
		t.Fatalf("not-required steps should not block, blocker=%s", st.FirstBlocker())
	}
}

func TestFinalChecksWaitForOtherSteps(t *testing.T) {
	f := completeWoodlandOfficerFacts()
	f.Checks.Pw14ChecksComplete = false
	f.Checks.FinalChecksComplete = false
	st := tasklist.EvaluateWoodlandOfficer(f)
	if st.Steps[10].Status != tasklist.CannotStartYet {
		t.Fatalf("final checks should be cannot_start_yet, got %s", st.Steps[10].Status)
	}
}

func TestEvaluationIsIdempotent(t *testing.T) {
	f := completeWoodlandOfficerFacts()
	f.Checks.Pw14ChecksComplete = false
	first := tasklist.EvaluateWoodlandOfficer(f)
	second := tasklist.EvaluateWoodlandOfficer(f)
	for i := range first.Steps {
		if first.Steps[i] != second.Steps[i] {
			t.Fatalf("evaluation not stable at step %s", first.Steps[i].Name)
		}
	}
}
