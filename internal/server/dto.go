package server

import (
	"encoding/json"

	"caseline/internal/domain"
)

// Request payloads

type CreateApplicationRequest struct {
	Source       string `json:"source,omitempty" enum:"applicant,paper"`
	ApplicantID  string `json:"applicant_id"`
	Area         string `json:"area,omitempty"`
	DateReceived string `json:"date_received,omitempty" format:"date-time"`
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AssignRequest struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role" enum:"admin_officer,woodland_officer,field_manager"`
	Reason   string `json:"reason,omitempty"`
	CaseNote string `json:"case_note,omitempty"`
}

type AssignBackRequest struct {
	Reason          string   `json:"reason"`
	VisibleSections []string `json:"visible_sections,omitempty"`
}

type AdminOfficerChecksRequest struct {
	AgentAuthorityFormOK   bool `json:"agent_authority_form_ok"`
	AgentAuthorityRequired bool `json:"agent_authority_required"`
	DateReceivedVerified   bool `json:"date_received_verified"`
	MappingCheckPassed     bool `json:"mapping_check_passed"`
	ConstraintsCheckPassed bool `json:"constraints_check_passed"`
	LarchCheckDone         bool `json:"larch_check_done"`
	LarchPresent           bool `json:"larch_present"`
	EiaRelevant            bool `json:"eia_relevant"`
	EiaScreeningDone       bool `json:"eia_screening_done"`
	SupportingDocsComplete bool `json:"supporting_docs_complete"`
}

type WoodlandOfficerChecksRequest struct {
	SiteVisitNotNeeded    bool `json:"site_visit_not_needed"`
	SiteVisitComplete     bool `json:"site_visit_complete"`
	Pw14ChecksComplete    bool `json:"pw14_checks_complete"`
	ConditionsNotNeeded   bool `json:"conditions_not_needed"`
	ConditionsComplete    bool `json:"conditions_complete"`
	ConsultationsComplete bool `json:"consultations_complete"`
	HabitatRegsComplete   bool `json:"habitat_regs_complete"`
	DesignationsComplete  bool `json:"designations_complete"`
	TreeHealthConcern     bool `json:"tree_health_concern"`
	TreeHealthComplete    bool `json:"tree_health_complete"`
	MapChangesRecorded    bool `json:"map_changes_recorded"`
	MapAmendmentsComplete bool `json:"map_amendments_complete"`
	FellingConfirmed      bool `json:"felling_confirmed"`
	FinalChecksComplete   bool `json:"final_checks_complete"`
}

type FellingDetailRequest struct {
	CompartmentID string  `json:"compartment_id"`
	OperationType string  `json:"operation_type"`
	AreaHa        float64 `json:"area_ha"`
}

type AmendFellingRequest struct {
	OperationType string  `json:"operation_type"`
	AreaHa        float64 `json:"area_ha"`
}

type RestockingDetailRequest struct {
	CompartmentID  string  `json:"compartment_id"`
	RestockingType string  `json:"restocking_type"`
	AreaHa         float64 `json:"area_ha"`
	DensityPerHa   int     `json:"density_per_ha"`
}

type SpeciesEntry struct {
	Code    string  `json:"code"`
	Percent float64 `json:"percent"`
}

type SpeciesRequest struct {
	Species []SpeciesEntry `json:"species"`
}

type FurtherAmendmentsRequest struct {
	ReviewID string `json:"review_id"`
}

type ExemptionRequest struct {
	Exempt bool   `json:"exempt"`
	Reason string `json:"reason,omitempty"`
}

type PublishRequest struct {
	PeriodDays int `json:"period_days,omitempty"`
}

type CommentRequest struct {
	Author  string `json:"author,omitempty"`
	Comment string `json:"comment"`
}

type ReviewCommentRequest struct {
	Comment string `json:"comment,omitempty"`
}

type NoteRequest struct {
	Type               string `json:"type,omitempty" enum:"case_note,site_visit_comment,return_reason"`
	Text               string `json:"text"`
	VisibleToApplicant bool   `json:"visible_to_applicant"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type EventResponse struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts" format:"date-time"`
	Type          string         `json:"type"`
	ApplicationID string         `json:"application_id,omitempty"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      string         `json:"entity_id,omitempty"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

type CreatedAPIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key"`
}

type paginatedApplications struct {
	Items      []domain.Application `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Conversion helpers

func adminChecksFromRequest(applicationID string, req AdminOfficerChecksRequest) domain.AdminOfficerChecks {
	return domain.AdminOfficerChecks{
		ApplicationID:          applicationID,
		AgentAuthorityFormOK:   req.AgentAuthorityFormOK,
		AgentAuthorityRequired: req.AgentAuthorityRequired,
		DateReceivedVerified:   req.DateReceivedVerified,
		MappingCheckPassed:     req.MappingCheckPassed,
		ConstraintsCheckPassed: req.ConstraintsCheckPassed,
		LarchCheckDone:         req.LarchCheckDone,
		LarchPresent:           req.LarchPresent,
		EiaRelevant:            req.EiaRelevant,
		EiaScreeningDone:       req.EiaScreeningDone,
		SupportingDocsComplete: req.SupportingDocsComplete,
	}
}

func woodlandChecksFromRequest(applicationID string, req WoodlandOfficerChecksRequest) domain.WoodlandOfficerChecks {
	return domain.WoodlandOfficerChecks{
		ApplicationID:         applicationID,
		SiteVisitNotNeeded:    req.SiteVisitNotNeeded,
		SiteVisitComplete:     req.SiteVisitComplete,
		Pw14ChecksComplete:    req.Pw14ChecksComplete,
		ConditionsNotNeeded:   req.ConditionsNotNeeded,
		ConditionsComplete:    req.ConditionsComplete,
		ConsultationsComplete: req.ConsultationsComplete,
		HabitatRegsComplete:   req.HabitatRegsComplete,
		DesignationsComplete:  req.DesignationsComplete,
		TreeHealthConcern:     req.TreeHealthConcern,
		TreeHealthComplete:    req.TreeHealthComplete,
		MapChangesRecorded:    req.MapChangesRecorded,
		MapAmendmentsComplete: req.MapAmendmentsComplete,
		FellingConfirmed:      req.FellingConfirmed,
		FinalChecksComplete:   req.FinalChecksComplete,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:            e.ID,
		TS:            e.TS,
		Type:          e.Type,
		ApplicationID: e.ApplicationID,
		EntityKind:    e.EntityKind,
		EntityID:      e.EntityID,
		ActorID:       e.ActorID,
		Payload:       decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
