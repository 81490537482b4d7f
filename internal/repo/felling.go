package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

func (r Repo) InsertAmendmentReview(ctx context.Context, tx *sql.Tx, ar domain.AmendmentReview) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO amendment_reviews(id,application_id,state,reason,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		ar.ID, ar.ApplicationID, ar.State, nullable(ar.Reason), ar.CreatedAt, ar.UpdatedAt)
	return err
}

func (r Repo) UpdateAmendmentReview(ctx context.Context, tx *sql.Tx, ar domain.AmendmentReview) error {
	res, err := tx.ExecContext(ctx, `UPDATE amendment_reviews SET state=?, reason=?, updated_at=? WHERE id=?`,
		ar.State, nullable(ar.Reason), ar.UpdatedAt, ar.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAmendmentReview(row *sql.Row) (domain.AmendmentReview, error) {
	var ar domain.AmendmentReview
	var reason sql.NullString
	err := row.Scan(&ar.ID, &ar.ApplicationID, &ar.State, &reason, &ar.CreatedAt, &ar.UpdatedAt)
	if err == sql.ErrNoRows {
		return ar, ErrNotFound
	}
	if reason.Valid {
		ar.Reason = reason.String
	}
	return ar, err
}

func (r Repo) GetAmendmentReview(ctx context.Context, id string) (domain.AmendmentReview, error) {
	return scanAmendmentReview(r.DB.QueryRowContext(ctx, `SELECT id,application_id,state,reason,created_at,updated_at FROM amendment_reviews WHERE id=?`, id))
}

// CurrentAmendmentReview returns the latest amendment cycle for a case.
func (r Repo) CurrentAmendmentReview(ctx context.Context, applicationID string) (domain.AmendmentReview, error) {
	return scanAmendmentReview(r.DB.QueryRowContext(ctx, `SELECT id,application_id,state,reason,created_at,updated_at FROM amendment_reviews WHERE application_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, applicationID))
}

func (r Repo) InsertFellingDetail(ctx context.Context, tx *sql.Tx, d domain.ConfirmedFellingDetail) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO confirmed_felling_details(id,application_id,compartment_id,operation_type,area_ha,proposed_operation,proposed_area_ha,amended,deleted,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ApplicationID, d.CompartmentID, d.OperationType, d.AreaHa, d.ProposedOperation, d.ProposedAreaHa,
		d.Amended, d.Deleted, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) UpdateFellingDetail(ctx context.Context, tx *sql.Tx, d domain.ConfirmedFellingDetail) error {
	res, err := tx.ExecContext(ctx, `UPDATE confirmed_felling_details SET operation_type=?, area_ha=?, amended=?, deleted=?, updated_at=? WHERE id=?`,
		d.OperationType, d.AreaHa, d.Amended, d.Deleted, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFellingDetail(scan func(dest ...any) error) (domain.ConfirmedFellingDetail, error) {
	var d domain.ConfirmedFellingDetail
	err := scan(&d.ID, &d.ApplicationID, &d.CompartmentID, &d.OperationType, &d.AreaHa,
		&d.ProposedOperation, &d.ProposedAreaHa, &d.Amended, &d.Deleted, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

const fellingCols = `id,application_id,compartment_id,operation_type,area_ha,proposed_operation,proposed_area_ha,amended,deleted,created_at,updated_at`

func (r Repo) GetFellingDetail(ctx context.Context, id string) (domain.ConfirmedFellingDetail, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+fellingCols+` FROM confirmed_felling_details WHERE id=?`, id)
	return scanFellingDetail(row.Scan)
}

func (r Repo) GetFellingDetailTx(ctx context.Context, tx *sql.Tx, id string) (domain.ConfirmedFellingDetail, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+fellingCols+` FROM confirmed_felling_details WHERE id=?`, id)
	return scanFellingDetail(row.Scan)
}

// ListFellingDetails returns a case's confirmed felling details. Soft-deleted
// rows are included only when includeDeleted is set.
func (r Repo) ListFellingDetails(ctx context.Context, applicationID string, includeDeleted bool) ([]domain.ConfirmedFellingDetail, error) {
	query := `SELECT ` + fellingCols + ` FROM confirmed_felling_details WHERE application_id=?`
	if !includeDeleted {
		query += ` AND deleted=0`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ConfirmedFellingDetail
	for rows.Next() {
		d, err := scanFellingDetail(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertRestockingDetail(ctx context.Context, tx *sql.Tx, d domain.ConfirmedRestockingDetail) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO confirmed_restocking_details(id,application_id,compartment_id,restocking_type,area_ha,proposed_type,proposed_area_ha,density_per_ha,proposed_density,amended,deleted,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ApplicationID, d.CompartmentID, d.RestockingType, d.AreaHa, d.ProposedType, d.ProposedAreaHa,
		d.DensityPerHa, d.ProposedDensity, d.Amended, d.Deleted, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) UpdateRestockingDetail(ctx context.Context, tx *sql.Tx, d domain.ConfirmedRestockingDetail) error {
	res, err := tx.ExecContext(ctx, `UPDATE confirmed_restocking_details SET restocking_type=?, area_ha=?, density_per_ha=?, amended=?, deleted=?, updated_at=? WHERE id=?`,
		d.RestockingType, d.AreaHa, d.DensityPerHa, d.Amended, d.Deleted, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const restockingCols = `id,application_id,compartment_id,restocking_type,area_ha,proposed_type,proposed_area_ha,density_per_ha,proposed_density,amended,deleted,created_at,updated_at`

func scanRestockingDetail(scan func(dest ...any) error) (domain.ConfirmedRestockingDetail, error) {
	var d domain.ConfirmedRestockingDetail
	err := scan(&d.ID, &d.ApplicationID, &d.CompartmentID, &d.RestockingType, &d.AreaHa,
		&d.ProposedType, &d.ProposedAreaHa, &d.DensityPerHa, &d.ProposedDensity,
		&d.Amended, &d.Deleted, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) GetRestockingDetail(ctx context.Context, id string) (domain.ConfirmedRestockingDetail, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+restockingCols+` FROM confirmed_restocking_details WHERE id=?`, id)
	return scanRestockingDetail(row.Scan)
}

func (r Repo) GetRestockingDetailTx(ctx context.Context, tx *sql.Tx, id string) (domain.ConfirmedRestockingDetail, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+restockingCols+` FROM confirmed_restocking_details WHERE id=?`, id)
	return scanRestockingDetail(row.Scan)
}

func (r Repo) ListRestockingDetails(ctx context.Context, applicationID string, includeDeleted bool) ([]domain.ConfirmedRestockingDetail, error) {
	query := `SELECT ` + restockingCols + ` FROM confirmed_restocking_details WHERE application_id=?`
	if !includeDeleted {
		query += ` AND deleted=0`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ConfirmedRestockingDetail
	for rows.Next() {
		d, err := scanRestockingDetail(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertSpecies(ctx context.Context, tx *sql.Tx, s domain.FellingSpecies) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO felling_species(felling_detail_id,species_code,percent,proposed_percent,added,deleted) VALUES (?,?,?,?,?,?)`,
		s.FellingDetailID, s.SpeciesCode, s.Percent, s.ProposedPercent, s.Added, s.Deleted)
	return err
}

func (r Repo) UpdateSpecies(ctx context.Context, tx *sql.Tx, s domain.FellingSpecies) error {
	_, err := tx.ExecContext(ctx, `UPDATE felling_species SET percent=?, added=?, deleted=? WHERE id=?`,
		s.Percent, s.Added, s.Deleted, s.ID)
	return err
}

func (r Repo) DeleteSpecies(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM felling_species WHERE id=?`, id)
	return err
}

func (r Repo) ListSpecies(ctx context.Context, fellingDetailID string) ([]domain.FellingSpecies, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,felling_detail_id,species_code,percent,proposed_percent,added,deleted FROM felling_species WHERE felling_detail_id=? ORDER BY species_code ASC`, fellingDetailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSpecies(rows)
}

func (r Repo) ListSpeciesTx(ctx context.Context, tx *sql.Tx, fellingDetailID string) ([]domain.FellingSpecies, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,felling_detail_id,species_code,percent,proposed_percent,added,deleted FROM felling_species WHERE felling_detail_id=? ORDER BY species_code ASC`, fellingDetailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSpecies(rows)
}

func collectSpecies(rows *sql.Rows) ([]domain.FellingSpecies, error) {
	var res []domain.FellingSpecies
	for rows.Next() {
		var s domain.FellingSpecies
		if err := rows.Scan(&s.ID, &s.FellingDetailID, &s.SpeciesCode, &s.Percent, &s.ProposedPercent, &s.Added, &s.Deleted); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
