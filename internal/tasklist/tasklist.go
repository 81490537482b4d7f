// Package tasklist derives the per-stage checklist gating review completion.
// Everything here is a pure function of already-loaded case facts; nothing is
// persisted and re-running an evaluation never changes stored state.
package tasklist

import (
	"caseline/internal/domain"
)

type StepStatus string

const (
	NotStarted     StepStatus = "not_started"
	InProgress     StepStatus = "in_progress"
	Completed      StepStatus = "completed"
	CannotStartYet StepStatus = "cannot_start_yet"
	NotRequired    StepStatus = "not_required"
)

// Admin officer review steps.
const (
	StepAgentAuthorityForm    = "agent_authority_form"
	StepSupportingDocuments   = "supporting_documents"
	StepDateReceivedVerified  = "date_received_verified"
	StepMappingCheck          = "mapping_check"
	StepConstraintsCheck      = "constraints_check"
	StepLarchCheck            = "larch_check"
	StepEiaScreening          = "eia_screening"
	StepAssignWoodlandOfficer = "assign_woodland_officer"
)

// Woodland officer review steps.
const (
	StepPublicRegister       = "public_register"
	StepSiteVisit            = "site_visit"
	StepPw14Checks           = "pw14_checks"
	StepFellingAndRestocking = "felling_and_restocking"
	StepConditions           = "conditions"
	StepConsultations        = "consultations"
	StepHabitatRegulations   = "habitat_regulations"
	StepDesignationsCheck    = "designations_check"
	StepTreeHealthCheck      = "tree_health_check"
	StepMappingAmendments    = "mapping_amendments"
	StepFinalChecks          = "final_checks"
)

type Step struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status" enum:"not_started,in_progress,completed,cannot_start_yet,not_required"`
}

// State is a stage's evaluated checklist.
type State struct {
	Stage string `json:"stage"`
	Steps []Step `json:"steps"`
}

// CanComplete reports whether the stage's confirm action is permitted: every
// step Completed or NotRequired.
func (s State) CanComplete() bool {
	for _, step := range s.Steps {
		if step.Status != Completed && step.Status != NotRequired {
			return false
		}
	}
	return true
}

// FirstBlocker names the first step preventing completion, or "".
func (s State) FirstBlocker() string {
	for _, step := range s.Steps {
		if step.Status != Completed && step.Status != NotRequired {
			return step.Name
		}
	}
	return ""
}

// AdminOfficerFacts are the inputs to the admin officer review checklist.
type AdminOfficerFacts struct {
	Checks                  domain.AdminOfficerChecks
	WoodlandOfficerAssigned bool
}

// EvaluateAdminOfficer computes the 8-step admin officer review checklist.
func EvaluateAdminOfficer(f AdminOfficerFacts) State {
	c := f.Checks
	steps := []Step{
		{StepAgentAuthorityForm, boolStep(c.AgentAuthorityFormOK)},
		{StepSupportingDocuments, boolStep(c.SupportingDocsComplete)},
		{StepDateReceivedVerified, boolStep(c.DateReceivedVerified)},
		{StepMappingCheck, boolStep(c.MappingCheckPassed)},
		{StepConstraintsCheck, boolStep(c.ConstraintsCheckPassed)},
		{StepLarchCheck, boolStep(c.LarchCheckDone)},
		{StepEiaScreening, boolStep(c.EiaScreeningDone)},
		{StepAssignWoodlandOfficer, boolStep(f.WoodlandOfficerAssigned)},
	}
	if !c.AgentAuthorityRequired {
		steps[0].Status = NotRequired
	}
	if !c.EiaRelevant {
		steps[6].Status = NotRequired
	}
	// Assigning the woodland officer waits for the technical checks.
	if !c.MappingCheckPassed || !c.ConstraintsCheckPassed {
		if steps[7].Status != Completed {
			steps[7].Status = CannotStartYet
		}
	}
	return State{Stage: "admin_officer_review", Steps: steps}
}

// WoodlandOfficerFacts are the inputs to the woodland officer checklist.
type WoodlandOfficerFacts struct {
	Checks             domain.WoodlandOfficerChecks
	AmendmentState     domain.AmendmentState
	HasRegisterRecord  bool
	RegisterExempt     bool
	RegisterPublished  bool
	LiveFellingDetails int
}

// EvaluateWoodlandOfficer computes the 11-step woodland officer checklist.
func EvaluateWoodlandOfficer(f WoodlandOfficerFacts) State {
	c := f.Checks

	register := NotStarted
	switch {
	case f.RegisterExempt || f.RegisterPublished:
		register = Completed
	case f.HasRegisterRecord:
		register = InProgress
	}

	felling := NotStarted
	switch {
	case f.AmendmentState == domain.AmendmentSentForApplicantReview,
		f.AmendmentState == domain.AmendmentUnderApplicant:
		felling = InProgress
	case c.FellingConfirmed && f.LiveFellingDetails > 0:
		felling = Completed
	case f.LiveFellingDetails > 0:
		felling = InProgress
	}

	steps := []Step{
		{StepPublicRegister, register},
		{StepSiteVisit, boolStep(c.SiteVisitComplete)},
		{StepPw14Checks, boolStep(c.Pw14ChecksComplete)},
		{StepFellingAndRestocking, felling},
		{StepConditions, boolStep(c.ConditionsComplete)},
		{StepConsultations, boolStep(c.ConsultationsComplete)},
		{StepHabitatRegulations, boolStep(c.HabitatRegsComplete)},
		{StepDesignationsCheck, boolStep(c.DesignationsComplete)},
		{StepTreeHealthCheck, boolStep(c.TreeHealthComplete)},
		{StepMappingAmendments, boolStep(c.MapAmendmentsComplete)},
		{StepFinalChecks, boolStep(c.FinalChecksComplete)},
	}
	if c.SiteVisitNotNeeded {
		steps[1].Status = NotRequired
	}
	if c.ConditionsNotNeeded {
		steps[4].Status = NotRequired
	} else if felling != Completed && steps[4].Status != Completed {
		// Conditions follow from the confirmed felling and restocking.
		steps[4].Status = CannotStartYet
	}
	if !c.TreeHealthConcern {
		steps[8].Status = NotRequired
	}
	if !c.MapChangesRecorded {
		steps[9].Status = NotRequired
	}
	if steps[10].Status != Completed {
		for _, s := range steps[:10] {
			if s.Status != Completed && s.Status != NotRequired {
				steps[10].Status = CannotStartYet
				break
			}
		}
	}
	return State{Stage: "woodland_officer_review", Steps: steps}
}

func boolStep(done bool) StepStatus {
	if done {
		return Completed
	}
	return NotStarted
}
