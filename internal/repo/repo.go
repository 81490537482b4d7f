package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"caseline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const applicationCols = `id,reference,source,status,applicant_id,COALESCE(area,''),COALESCE(date_received,''),expiry_date,approver_id,created_at,updated_at`

func scanApplication(scan func(dest ...any) error) (domain.Application, error) {
	var a domain.Application
	var expiry, approver sql.NullString
	err := scan(&a.ID, &a.Reference, &a.Source, &a.Status, &a.ApplicantID, &a.Area, &a.DateReceived, &expiry, &approver, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if expiry.Valid {
		a.ExpiryDate = &expiry.String
	}
	if approver.Valid {
		a.ApproverID = &approver.String
	}
	return a, nil
}

func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO applications(id,reference,source,status,applicant_id,area,date_received,expiry_date,approver_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Reference, a.Source, a.Status, a.ApplicantID, nullable(a.Area), nullable(a.DateReceived),
		nullableStringPtr(a.ExpiryDate), nullableStringPtr(a.ApproverID), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+applicationCols+` FROM applications WHERE id=?`, id)
	return scanApplication(row.Scan)
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Application, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+applicationCols+` FROM applications WHERE id=?`, id)
	return scanApplication(row.Scan)
}

type ApplicationFilters struct {
	Status          string
	AssignedUserID  string
	Area            string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListApplications(ctx context.Context, f ApplicationFilters) ([]domain.Application, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Area != "" {
		clauses = append(clauses, "area=?")
		args = append(args, f.Area)
	}
	if f.AssignedUserID != "" {
		clauses = append(clauses, `EXISTS (
			SELECT 1 FROM assignee_history ah
			WHERE ah.application_id=applications.id AND ah.user_id=? AND ah.unassigned_at IS NULL
		)`)
		args = append(args, f.AssignedUserID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + applicationCols + ` FROM applications ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpdateApplicationStatus moves the case to a new status and appends the
// matching history row in one statement pair. Callers must already hold the
// transaction that validated the transition.
func (r Repo) UpdateApplicationStatus(ctx context.Context, tx *sql.Tx, id string, status domain.CaseStatus, actorID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO status_history(application_id,status,actor_id,created_at) VALUES (?,?,?,?)`,
		id, status, actorID, now)
	return err
}

func (r Repo) UpdateApproverAndExpiry(ctx context.Context, tx *sql.Tx, id, approverID, expiryDate, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET approver_id=?, expiry_date=?, updated_at=? WHERE id=?`,
		approverID, expiryDate, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListStatusHistory(ctx context.Context, applicationID string) ([]domain.StatusHistory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,application_id,status,actor_id,created_at FROM status_history WHERE application_id=? ORDER BY id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusHistory
	for rows.Next() {
		var h domain.StatusHistory
		if err := rows.Scan(&h.ID, &h.ApplicationID, &h.Status, &h.ActorID, &h.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// LatestStatus returns the most recent status history entry for a case.
func (r Repo) LatestStatus(ctx context.Context, tx *sql.Tx, applicationID string) (domain.StatusHistory, error) {
	var h domain.StatusHistory
	row := tx.QueryRowContext(ctx, `SELECT id,application_id,status,actor_id,created_at FROM status_history WHERE application_id=? ORDER BY id DESC LIMIT 1`, applicationID)
	err := row.Scan(&h.ID, &h.ApplicationID, &h.Status, &h.ActorID, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	return h, err
}

func (r Repo) ListAssigneeHistory(ctx context.Context, applicationID string) ([]domain.AssigneeHistory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,application_id,role,user_id,assigned_at,unassigned_at FROM assignee_history WHERE application_id=? ORDER BY id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssigneeHistory
	for rows.Next() {
		var h domain.AssigneeHistory
		var unassigned sql.NullString
		if err := rows.Scan(&h.ID, &h.ApplicationID, &h.Role, &h.UserID, &h.AssignedAt, &unassigned); err != nil {
			return nil, err
		}
		if unassigned.Valid {
			h.UnassignedAt = &unassigned.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// OpenAssignee returns the currently open assignment for a (case, role), or
// ErrNotFound when the role is unheld.
func (r Repo) OpenAssignee(ctx context.Context, applicationID string, role domain.Role) (domain.AssigneeHistory, error) {
	return scanOpenAssignee(r.DB.QueryRowContext(ctx, `SELECT id,application_id,role,user_id,assigned_at FROM assignee_history WHERE application_id=? AND role=? AND unassigned_at IS NULL`, applicationID, role))
}

func (r Repo) OpenAssigneeTx(ctx context.Context, tx *sql.Tx, applicationID string, role domain.Role) (domain.AssigneeHistory, error) {
	return scanOpenAssignee(tx.QueryRowContext(ctx, `SELECT id,application_id,role,user_id,assigned_at FROM assignee_history WHERE application_id=? AND role=? AND unassigned_at IS NULL`, applicationID, role))
}

func scanOpenAssignee(row *sql.Row) (domain.AssigneeHistory, error) {
	var h domain.AssigneeHistory
	err := row.Scan(&h.ID, &h.ApplicationID, &h.Role, &h.UserID, &h.AssignedAt)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	return h, err
}

// CloseOpenAssignee stamps the open entry for the role, if any.
func (r Repo) CloseOpenAssignee(ctx context.Context, tx *sql.Tx, applicationID string, role domain.Role, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE assignee_history SET unassigned_at=? WHERE application_id=? AND role=? AND unassigned_at IS NULL`,
		now, applicationID, role)
	return err
}

func (r Repo) OpenAssigneeEntry(ctx context.Context, tx *sql.Tx, h domain.AssigneeHistory) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignee_history(application_id,role,user_id,assigned_at) VALUES (?,?,?,?)`,
		h.ApplicationID, h.Role, h.UserID, h.AssignedAt)
	return err
}

func (r Repo) GetAdminOfficerChecks(ctx context.Context, applicationID string) (domain.AdminOfficerChecks, error) {
	var c domain.AdminOfficerChecks
	row := r.DB.QueryRowContext(ctx, `SELECT application_id,agent_authority_form_ok,agent_authority_required,date_received_verified,mapping_check_passed,constraints_check_passed,larch_check_done,larch_present,eia_relevant,eia_screening_done,supporting_docs_complete,updated_at FROM admin_officer_checks WHERE application_id=?`, applicationID)
	err := row.Scan(&c.ApplicationID, &c.AgentAuthorityFormOK, &c.AgentAuthorityRequired, &c.DateReceivedVerified,
		&c.MappingCheckPassed, &c.ConstraintsCheckPassed, &c.LarchCheckDone, &c.LarchPresent,
		&c.EiaRelevant, &c.EiaScreeningDone, &c.SupportingDocsComplete, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.AdminOfficerChecks{ApplicationID: applicationID, AgentAuthorityRequired: true}, nil
	}
	return c, err
}

func (r Repo) UpsertAdminOfficerChecks(ctx context.Context, tx *sql.Tx, c domain.AdminOfficerChecks) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO admin_officer_checks(application_id,agent_authority_form_ok,agent_authority_required,date_received_verified,mapping_check_passed,constraints_check_passed,larch_check_done,larch_present,eia_relevant,eia_screening_done,supporting_docs_complete,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(application_id) DO UPDATE SET
agent_authority_form_ok=excluded.agent_authority_form_ok,
agent_authority_required=excluded.agent_authority_required,
date_received_verified=excluded.date_received_verified,
mapping_check_passed=excluded.mapping_check_passed,
constraints_check_passed=excluded.constraints_check_passed,
larch_check_done=excluded.larch_check_done,
larch_present=excluded.larch_present,
eia_relevant=excluded.eia_relevant,
eia_screening_done=excluded.eia_screening_done,
supporting_docs_complete=excluded.supporting_docs_complete,
updated_at=excluded.updated_at`,
		c.ApplicationID, c.AgentAuthorityFormOK, c.AgentAuthorityRequired, c.DateReceivedVerified,
		c.MappingCheckPassed, c.ConstraintsCheckPassed, c.LarchCheckDone, c.LarchPresent,
		c.EiaRelevant, c.EiaScreeningDone, c.SupportingDocsComplete, c.UpdatedAt)
	return err
}

func (r Repo) GetWoodlandOfficerChecks(ctx context.Context, applicationID string) (domain.WoodlandOfficerChecks, error) {
	var c domain.WoodlandOfficerChecks
	row := r.DB.QueryRowContext(ctx, `SELECT application_id,site_visit_not_needed,site_visit_complete,pw14_checks_complete,conditions_not_needed,conditions_complete,consultations_complete,habitat_regs_complete,designations_complete,tree_health_concern,tree_health_complete,map_changes_recorded,map_amendments_complete,felling_confirmed,final_checks_complete,updated_at FROM woodland_officer_checks WHERE application_id=?`, applicationID)
	err := row.Scan(&c.ApplicationID, &c.SiteVisitNotNeeded, &c.SiteVisitComplete, &c.Pw14ChecksComplete,
		&c.ConditionsNotNeeded, &c.ConditionsComplete, &c.ConsultationsComplete, &c.HabitatRegsComplete,
		&c.DesignationsComplete, &c.TreeHealthConcern, &c.TreeHealthComplete, &c.MapChangesRecorded,
		&c.MapAmendmentsComplete, &c.FellingConfirmed, &c.FinalChecksComplete, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.WoodlandOfficerChecks{ApplicationID: applicationID}, nil
	}
	return c, err
}

func (r Repo) UpsertWoodlandOfficerChecks(ctx context.Context, tx *sql.Tx, c domain.WoodlandOfficerChecks) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO woodland_officer_checks(application_id,site_visit_not_needed,site_visit_complete,pw14_checks_complete,conditions_not_needed,conditions_complete,consultations_complete,habitat_regs_complete,designations_complete,tree_health_concern,tree_health_complete,map_changes_recorded,map_amendments_complete,felling_confirmed,final_checks_complete,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(application_id) DO UPDATE SET
site_visit_not_needed=excluded.site_visit_not_needed,
site_visit_complete=excluded.site_visit_complete,
pw14_checks_complete=excluded.pw14_checks_complete,
conditions_not_needed=excluded.conditions_not_needed,
conditions_complete=excluded.conditions_complete,
consultations_complete=excluded.consultations_complete,
habitat_regs_complete=excluded.habitat_regs_complete,
designations_complete=excluded.designations_complete,
tree_health_concern=excluded.tree_health_concern,
tree_health_complete=excluded.tree_health_complete,
map_changes_recorded=excluded.map_changes_recorded,
map_amendments_complete=excluded.map_amendments_complete,
felling_confirmed=excluded.felling_confirmed,
final_checks_complete=excluded.final_checks_complete,
updated_at=excluded.updated_at`,
		c.ApplicationID, c.SiteVisitNotNeeded, c.SiteVisitComplete, c.Pw14ChecksComplete,
		c.ConditionsNotNeeded, c.ConditionsComplete, c.ConsultationsComplete, c.HabitatRegsComplete,
		c.DesignationsComplete, c.TreeHealthConcern, c.TreeHealthComplete, c.MapChangesRecorded,
		c.MapAmendmentsComplete, c.FellingConfirmed, c.FinalChecksComplete, c.UpdatedAt)
	return err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, applicationID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if applicationID != "" {
		clauses = append(clauses, "application_id=?")
		args = append(args, applicationID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if limit <= 0 {
		limit = 100
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,application_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var appID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &appID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if appID.Valid {
			e.ApplicationID = appID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountApplicationsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM applications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
