package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

func (r Repo) InsertCaseNote(ctx context.Context, tx *sql.Tx, n domain.CaseNote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO case_notes(id,application_id,type,text,visible_to_applicant,author_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.ApplicationID, n.Type, n.Text, n.VisibleToApplicant, n.AuthorID, n.CreatedAt)
	return err
}

func (r Repo) ListCaseNotes(ctx context.Context, applicationID string) ([]domain.CaseNote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,application_id,type,text,visible_to_applicant,author_id,created_at FROM case_notes WHERE application_id=? ORDER BY created_at ASC, id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseNote
	for rows.Next() {
		var n domain.CaseNote
		if err := rows.Scan(&n.ID, &n.ApplicationID, &n.Type, &n.Text, &n.VisibleToApplicant, &n.AuthorID, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.CaseDocument) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO case_documents(id,application_id,purpose,file_name,content,created_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ApplicationID, d.Purpose, d.FileName, d.Content, d.CreatedBy, d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.CaseDocument, error) {
	var d domain.CaseDocument
	row := r.DB.QueryRowContext(ctx, `SELECT id,application_id,purpose,file_name,content,created_by,created_at FROM case_documents WHERE id=?`, id)
	err := row.Scan(&d.ID, &d.ApplicationID, &d.Purpose, &d.FileName, &d.Content, &d.CreatedBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDocuments(ctx context.Context, applicationID string) ([]domain.CaseDocument, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,application_id,purpose,file_name,created_by,created_at FROM case_documents WHERE application_id=? ORDER BY created_at ASC, id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseDocument
	for rows.Next() {
		var d domain.CaseDocument
		if err := rows.Scan(&d.ID, &d.ApplicationID, &d.Purpose, &d.FileName, &d.CreatedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) CountDocuments(ctx context.Context, applicationID, purpose string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM case_documents WHERE application_id=? AND purpose=?`, applicationID, purpose).Scan(&n)
	return n, err
}

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,application_id,kind,recipient_id,payload_json,created_at) VALUES (?,?,?,?,?,?)`,
		n.ID, n.ApplicationID, n.Kind, n.RecipientID, nullable(n.PayloadJSON), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, applicationID string) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,application_id,kind,recipient_id,payload_json,created_at FROM notifications WHERE application_id=? ORDER BY created_at ASC, id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var payload sql.NullString
		if err := rows.Scan(&n.ID, &n.ApplicationID, &n.Kind, &n.RecipientID, &payload, &n.CreatedAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			n.PayloadJSON = payload.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// NotificationRow pairs an outbox entry with its rowid so dispatchers can
// keep a delivery cursor.
type NotificationRow struct {
	RowID int64
	domain.Notification
}

func (r Repo) ListNotificationsAfter(ctx context.Context, afterRowID int64, limit int) ([]NotificationRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT rowid,id,application_id,kind,recipient_id,payload_json,created_at FROM notifications WHERE rowid > ? ORDER BY rowid ASC LIMIT ?`, afterRowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []NotificationRow
	for rows.Next() {
		var n NotificationRow
		var payload sql.NullString
		if err := rows.Scan(&n.RowID, &n.ID, &n.ApplicationID, &n.Kind, &n.RecipientID, &payload, &n.CreatedAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			n.PayloadJSON = payload.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) InsertDecisionRecord(ctx context.Context, tx *sql.Tx, d domain.DecisionRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decision_records(id,application_id,outcome,decider_id,document_id,created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.ApplicationID, d.Outcome, d.DeciderID, nullable(d.DocumentID), d.CreatedAt)
	return err
}

func (r Repo) GetDecisionRecord(ctx context.Context, applicationID string) (domain.DecisionRecord, error) {
	var d domain.DecisionRecord
	var docID sql.NullString
	row := r.DB.QueryRowContext(ctx, `SELECT id,application_id,outcome,decider_id,document_id,created_at FROM decision_records WHERE application_id=? ORDER BY created_at DESC LIMIT 1`, applicationID)
	err := row.Scan(&d.ID, &d.ApplicationID, &d.Outcome, &d.DeciderID, &docID, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if docID.Valid {
		d.DocumentID = docID.String
	}
	return d, err
}
