package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

const registerCols = `id,application_id,exempt,exemption_reason,published_at,period_days,esri_id,removed_at,created_at,updated_at`

func scanRegisterRecord(row *sql.Row) (domain.PublicRegisterRecord, error) {
	var rec domain.PublicRegisterRecord
	var reason, published, esri, removed sql.NullString
	err := row.Scan(&rec.ID, &rec.ApplicationID, &rec.Exempt, &reason, &published, &rec.PeriodDays, &esri, &removed, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if reason.Valid {
		rec.ExemptionReason = reason.String
	}
	if published.Valid {
		rec.PublishedAt = &published.String
	}
	if esri.Valid {
		rec.EsriID = &esri.String
	}
	if removed.Valid {
		rec.RemovedAt = &removed.String
	}
	return rec, nil
}

func (r Repo) GetRegisterRecord(ctx context.Context, applicationID string) (domain.PublicRegisterRecord, error) {
	return scanRegisterRecord(r.DB.QueryRowContext(ctx, `SELECT `+registerCols+` FROM public_register_records WHERE application_id=?`, applicationID))
}

func (r Repo) GetRegisterRecordTx(ctx context.Context, tx *sql.Tx, applicationID string) (domain.PublicRegisterRecord, error) {
	return scanRegisterRecord(tx.QueryRowContext(ctx, `SELECT `+registerCols+` FROM public_register_records WHERE application_id=?`, applicationID))
}

func (r Repo) UpsertRegisterRecord(ctx context.Context, tx *sql.Tx, rec domain.PublicRegisterRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO public_register_records(id,application_id,exempt,exemption_reason,published_at,period_days,esri_id,removed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(application_id) DO UPDATE SET
exempt=excluded.exempt,
exemption_reason=excluded.exemption_reason,
published_at=excluded.published_at,
period_days=excluded.period_days,
esri_id=excluded.esri_id,
removed_at=excluded.removed_at,
updated_at=excluded.updated_at`,
		rec.ID, rec.ApplicationID, rec.Exempt, nullable(rec.ExemptionReason), nullableStringPtr(rec.PublishedAt),
		rec.PeriodDays, nullableStringPtr(rec.EsriID), nullableStringPtr(rec.RemovedAt), rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) InsertRegisterComment(ctx context.Context, tx *sql.Tx, c domain.RegisterComment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO register_comments(id,application_id,author,comment,reviewed,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.ApplicationID, nullable(c.Author), c.Comment, c.Reviewed, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateRegisterComment(ctx context.Context, tx *sql.Tx, c domain.RegisterComment) error {
	res, err := tx.ExecContext(ctx, `UPDATE register_comments SET comment=?, reviewed=?, updated_at=? WHERE id=? AND application_id=?`,
		c.Comment, c.Reviewed, c.UpdatedAt, c.ID, c.ApplicationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRegisterComment(ctx context.Context, applicationID, commentID string) (domain.RegisterComment, error) {
	var c domain.RegisterComment
	var author sql.NullString
	row := r.DB.QueryRowContext(ctx, `SELECT id,application_id,author,comment,reviewed,created_at,updated_at FROM register_comments WHERE id=? AND application_id=?`, commentID, applicationID)
	err := row.Scan(&c.ID, &c.ApplicationID, &author, &c.Comment, &c.Reviewed, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if author.Valid {
		c.Author = author.String
	}
	return c, err
}

func (r Repo) ListRegisterComments(ctx context.Context, applicationID string) ([]domain.RegisterComment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,application_id,author,comment,reviewed,created_at,updated_at FROM register_comments WHERE application_id=? ORDER BY created_at ASC, id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RegisterComment
	for rows.Next() {
		var c domain.RegisterComment
		var author sql.NullString
		if err := rows.Scan(&c.ID, &c.ApplicationID, &author, &c.Comment, &c.Reviewed, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if author.Valid {
			c.Author = author.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
