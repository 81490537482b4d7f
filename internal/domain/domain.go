package domain

// CaseStatus is the lifecycle state of a felling licence application.
type CaseStatus string

const (
	StatusDraft                    CaseStatus = "draft"
	StatusSubmitted                CaseStatus = "submitted"
	StatusAdminOfficerReview       CaseStatus = "admin_officer_review"
	StatusWoodlandOfficerReview    CaseStatus = "woodland_officer_review"
	StatusSentForApproval          CaseStatus = "sent_for_approval"
	StatusApproved                 CaseStatus = "approved"
	StatusRefused                  CaseStatus = "refused"
	StatusReferredToLocalAuthority CaseStatus = "referred_to_local_authority"
	StatusWithdrawn                CaseStatus = "withdrawn"
	StatusReturnedToApplicant      CaseStatus = "returned_to_applicant"
	StatusApprovedInError          CaseStatus = "approved_in_error"
)

// Role identifies who may hold an assignment on a case.
type Role string

const (
	RoleAdminOfficer    Role = "admin_officer"
	RoleWoodlandOfficer Role = "woodland_officer"
	RoleFieldManager    Role = "field_manager"
	RoleAdmin           Role = "admin"
	RoleApplicant       Role = "applicant"
)

// ApplicationSource distinguishes how the application entered the system.
type ApplicationSource string

const (
	SourceApplicant ApplicationSource = "applicant"
	SourcePaper     ApplicationSource = "paper"
)

type Application struct {
	ID           string            `json:"id"`
	Reference    string            `json:"reference"`
	Source       ApplicationSource `json:"source" enum:"applicant,paper"`
	Status       CaseStatus        `json:"status"`
	ApplicantID  string            `json:"applicant_id"`
	Area         string            `json:"area,omitempty"`
	DateReceived string            `json:"date_received,omitempty" format:"date-time"`
	ExpiryDate   *string           `json:"expiry_date,omitempty" format:"date-time"`
	ApproverID   *string           `json:"approver_id,omitempty"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
}

// StatusHistory is one append-only lifecycle entry. The application's Status
// must always equal the latest entry for its case.
type StatusHistory struct {
	ID            int64      `json:"id"`
	ApplicationID string     `json:"application_id"`
	Status        CaseStatus `json:"status"`
	ActorID       string     `json:"actor_id"`
	CreatedAt     string     `json:"created_at" format:"date-time"`
}

// AssigneeHistory records who held which role on a case. An open entry has no
// UnassignedAt; at most one entry per (case, role) may be open at a time.
type AssigneeHistory struct {
	ID            int64   `json:"id"`
	ApplicationID string  `json:"application_id"`
	Role          Role    `json:"role"`
	UserID        string  `json:"user_id"`
	AssignedAt    string  `json:"assigned_at" format:"date-time"`
	UnassignedAt  *string `json:"unassigned_at,omitempty" format:"date-time"`
}

// AmendmentState tracks one confirmed felling/restocking amendment cycle.
type AmendmentState string

const (
	AmendmentNone                   AmendmentState = "no_amendment"
	AmendmentSentForApplicantReview AmendmentState = "sent_for_applicant_review"
	AmendmentUnderApplicant         AmendmentState = "under_applicant_amendment"
	AmendmentCompleted              AmendmentState = "completed"
)

type AmendmentReview struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"application_id"`
	State         AmendmentState `json:"state" enum:"no_amendment,sent_for_applicant_review,under_applicant_amendment,completed"`
	Reason        string         `json:"reason,omitempty"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
	UpdatedAt     string         `json:"updated_at" format:"date-time"`
}

// ConfirmedFellingDetail holds the woodland officer's confirmed felling values
// for one compartment alongside the applicant's proposed values, so
// amendments can be reverted. Deleted is a soft-delete marker.
type ConfirmedFellingDetail struct {
	ID                string  `json:"id"`
	ApplicationID     string  `json:"application_id"`
	CompartmentID     string  `json:"compartment_id"`
	OperationType     string  `json:"operation_type"`
	AreaHa            float64 `json:"area_ha"`
	ProposedOperation string  `json:"proposed_operation"`
	ProposedAreaHa    float64 `json:"proposed_area_ha"`
	Amended           bool    `json:"amended"`
	Deleted           bool    `json:"deleted"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type ConfirmedRestockingDetail struct {
	ID              string  `json:"id"`
	ApplicationID   string  `json:"application_id"`
	CompartmentID   string  `json:"compartment_id"`
	RestockingType  string  `json:"restocking_type"`
	AreaHa          float64 `json:"area_ha"`
	ProposedType    string  `json:"proposed_type"`
	ProposedAreaHa  float64 `json:"proposed_area_ha"`
	DensityPerHa    int     `json:"density_per_ha"`
	ProposedDensity int     `json:"proposed_density"`
	Amended         bool    `json:"amended"`
	Deleted         bool    `json:"deleted"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// FellingSpecies is one species line under a confirmed felling detail.
// ProposedPercent keeps the applicant-submitted composition for revert.
type FellingSpecies struct {
	ID              int64   `json:"id"`
	FellingDetailID string  `json:"felling_detail_id"`
	SpeciesCode     string  `json:"species_code"`
	Percent         float64 `json:"percent"`
	ProposedPercent float64 `json:"proposed_percent"`
	Added           bool    `json:"added"`
	Deleted         bool    `json:"deleted"`
}

type PublicRegisterRecord struct {
	ID              string  `json:"id"`
	ApplicationID   string  `json:"application_id"`
	Exempt          bool    `json:"exempt"`
	ExemptionReason string  `json:"exemption_reason,omitempty"`
	PublishedAt     *string `json:"published_at,omitempty" format:"date-time"`
	PeriodDays      int     `json:"period_days,omitempty"`
	EsriID          *string `json:"esri_id,omitempty"`
	RemovedAt       *string `json:"removed_at,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// RegisterComment is a comment received through the public register.
type RegisterComment struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	Author        string `json:"author,omitempty"`
	Comment       string `json:"comment"`
	Reviewed      bool   `json:"reviewed"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type CaseNoteType string

const (
	NoteCaseNote         CaseNoteType = "case_note"
	NoteSiteVisitComment CaseNoteType = "site_visit_comment"
	NoteReturnReason     CaseNoteType = "return_reason"
)

type CaseNote struct {
	ID                 string       `json:"id"`
	ApplicationID      string       `json:"application_id"`
	Type               CaseNoteType `json:"type" enum:"case_note,site_visit_comment,return_reason"`
	Text               string       `json:"text"`
	VisibleToApplicant bool         `json:"visible_to_applicant"`
	AuthorID           string       `json:"author_id"`
	CreatedAt          string       `json:"created_at" format:"date-time"`
}

// CaseDocument is a stored generated or uploaded document.
type CaseDocument struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	Purpose       string `json:"purpose"`
	FileName      string `json:"file_name"`
	Content       []byte `json:"-"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// Notification is one outbox row awaiting an external dispatcher.
type Notification struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	Kind          string `json:"kind"`
	RecipientID   string `json:"recipient_id"`
	PayloadJSON   string `json:"payload_json,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// DecisionRecord is the locally persisted decision metadata written by the
// finalization saga.
type DecisionRecord struct {
	ID            string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	Outcome       CaseStatus `json:"outcome"`
	DeciderID     string     `json:"decider_id"`
	DocumentID    string     `json:"document_id,omitempty"`
	CreatedAt     string     `json:"created_at" format:"date-time"`
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	ApplicationID string `json:"application_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// AdminOfficerChecks are the facts recorded during admin officer review that
// the task list evaluates.
type AdminOfficerChecks struct {
	ApplicationID          string `json:"application_id"`
	AgentAuthorityFormOK   bool   `json:"agent_authority_form_ok"`
	AgentAuthorityRequired bool   `json:"agent_authority_required"`
	DateReceivedVerified   bool   `json:"date_received_verified"`
	MappingCheckPassed     bool   `json:"mapping_check_passed"`
	ConstraintsCheckPassed bool   `json:"constraints_check_passed"`
	LarchCheckDone         bool   `json:"larch_check_done"`
	LarchPresent           bool   `json:"larch_present"`
	EiaRelevant            bool   `json:"eia_relevant"`
	EiaScreeningDone       bool   `json:"eia_screening_done"`
	SupportingDocsComplete bool   `json:"supporting_docs_complete"`
	UpdatedAt              string `json:"updated_at" format:"date-time"`
}

// WoodlandOfficerChecks are the facts recorded during woodland officer review.
type WoodlandOfficerChecks struct {
	ApplicationID         string `json:"application_id"`
	SiteVisitNotNeeded    bool   `json:"site_visit_not_needed"`
	SiteVisitComplete     bool   `json:"site_visit_complete"`
	Pw14ChecksComplete    bool   `json:"pw14_checks_complete"`
	ConditionsNotNeeded   bool   `json:"conditions_not_needed"`
	ConditionsComplete    bool   `json:"conditions_complete"`
	ConsultationsComplete bool   `json:"consultations_complete"`
	HabitatRegsComplete   bool   `json:"habitat_regs_complete"`
	DesignationsComplete  bool   `json:"designations_complete"`
	TreeHealthConcern     bool   `json:"tree_health_concern"`
	TreeHealthComplete    bool   `json:"tree_health_complete"`
	MapChangesRecorded    bool   `json:"map_changes_recorded"`
	MapAmendmentsComplete bool   `json:"map_amendments_complete"`
	FellingConfirmed      bool   `json:"felling_confirmed"`
	FinalChecksComplete   bool   `json:"final_checks_complete"`
	UpdatedAt             string `json:"updated_at" format:"date-time"`
}
