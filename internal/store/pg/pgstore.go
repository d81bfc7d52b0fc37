// Package pg is the Postgres persistence layer. Record transitions run
// inside a transaction with the row locked, so concurrent lifecycle calls
// serialize per record and losers observe the already-applied state.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ecotrack.org/internal/ids"
	"ecotrack.org/internal/waste"
)

type Store struct {
	db      *sql.DB
	catalog waste.Catalog
	now     func() time.Time
}

var _ waste.Service = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithCatalog overrides the scoring reference data.
func WithCatalog(c waste.Catalog) Option {
	return func(s *Store) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db, opts...), nil
}

// NewStore wraps an existing pool (used by tests with sqlmock).
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, catalog: waste.DefaultCatalog(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const recordColumns = `id, owner_id, waste_type, description, quantity, unit, location, image_paths,
	status, environmental_score, points_awarded,
	is_validated, coalesce(validated_by,''), validation_date, coalesce(validation_notes,''),
	coalesce(processor_id,''), coalesce(processing_notes,''),
	created_at, updated_at, collection_date, processing_date, completion_date`

func (s *Store) Create(ctx context.Context, ownerID string, d waste.Details) (waste.Record, error) {
	rec, err := waste.NewRecord(ids.New(), ownerID, d, s.now())
	if err != nil {
		return waste.Record{}, err
	}

	location, err := json.Marshal(rec.Location)
	if err != nil {
		return waste.Record{}, err
	}
	images, err := json.Marshal(rec.ImagePaths)
	if err != nil {
		return waste.Record{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into waste_records
			(id, owner_id, waste_type, description, quantity, unit, location, image_paths, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rec.ID, rec.OwnerID, string(rec.Type), rec.Description, rec.Quantity, rec.Unit,
		location, images, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return waste.Record{}, err
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, id string) (waste.Record, error) {
	row := s.db.QueryRowContext(ctx, `select `+recordColumns+` from waste_records where id=$1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return waste.Record{}, waste.ErrNotFound
	}
	return rec, err
}

func (s *Store) List(ctx context.Context, f waste.Filter) ([]waste.Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.OwnerID != "" {
		where = append(where, "owner_id = "+arg(f.OwnerID))
	}
	if f.Type != "" {
		where = append(where, "waste_type = "+arg(string(f.Type)))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= "+arg(f.To))
	}

	query := `select ` + recordColumns + ` from waste_records`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by created_at desc"
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " limit " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]waste.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, id, ownerID string, d waste.Details) (waste.Record, error) {
	return s.mutate(ctx, id, func(rec *waste.Record) error {
		return rec.UpdateDetails(ownerID, d, s.now())
	})
}

func (s *Store) Delete(ctx context.Context, id, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := lockRecord(ctx, tx, id)
	if err != nil {
		return err
	}
	if rec.OwnerID != ownerID {
		return waste.ErrNotOwner
	}
	if rec.Status != waste.StatusPending {
		return waste.ErrRecordLocked
	}
	if _, err := tx.ExecContext(ctx, `delete from waste_records where id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Collect(ctx context.Context, id, adminID string) (waste.Record, error) {
	return s.mutate(ctx, id, func(rec *waste.Record) error {
		return rec.Collect(adminID, s.now())
	})
}

func (s *Store) Process(ctx context.Context, id, adminID, notes string, disposition waste.Disposition) (waste.Record, error) {
	return s.mutate(ctx, id, func(rec *waste.Record) error {
		return rec.Process(adminID, notes, disposition, s.catalog.Lookup(rec.Type), s.now())
	})
}

func (s *Store) Validate(ctx context.Context, id, adminID, notes string) (waste.Record, error) {
	return s.mutate(ctx, id, func(rec *waste.Record) error {
		return rec.Validate(adminID, notes, s.now())
	})
}

func (s *Store) Reject(ctx context.Context, id, adminID, notes string) (waste.Record, error) {
	return s.mutate(ctx, id, func(rec *waste.Record) error {
		return rec.Reject(adminID, notes, s.now())
	})
}

// mutate locks the row, applies op in memory and writes the full mutable
// column set back. A failed op rolls back with the row untouched.
func (s *Store) mutate(ctx context.Context, id string, op func(*waste.Record) error) (waste.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return waste.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := lockRecord(ctx, tx, id)
	if err != nil {
		return waste.Record{}, err
	}
	if err := op(&rec); err != nil {
		return waste.Record{}, err
	}

	location, err := json.Marshal(rec.Location)
	if err != nil {
		return waste.Record{}, err
	}
	images, err := json.Marshal(rec.ImagePaths)
	if err != nil {
		return waste.Record{}, err
	}
	_, err = tx.ExecContext(ctx, `
		update waste_records set
			waste_type=$2, description=$3, quantity=$4, unit=$5, location=$6, image_paths=$7,
			status=$8, environmental_score=$9, points_awarded=$10,
			is_validated=$11, validated_by=nullif($12,''), validation_date=$13, validation_notes=nullif($14,''),
			processor_id=nullif($15,''), processing_notes=nullif($16,''),
			updated_at=$17, collection_date=$18, processing_date=$19, completion_date=$20
		where id=$1
	`, rec.ID, string(rec.Type), rec.Description, rec.Quantity, rec.Unit, location, images,
		string(rec.Status), rec.EnvironmentalScore, rec.PointsAwarded,
		rec.IsValidated, rec.ValidatedBy, rec.ValidationDate, rec.ValidationNotes,
		rec.ProcessorID, rec.ProcessingNotes,
		rec.UpdatedAt, rec.CollectionDate, rec.ProcessingDate, rec.CompletionDate)
	if err != nil {
		return waste.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return waste.Record{}, err
	}
	return rec, nil
}

func lockRecord(ctx context.Context, tx *sql.Tx, id string) (waste.Record, error) {
	row := tx.QueryRowContext(ctx, `select `+recordColumns+` from waste_records where id=$1 for update`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return waste.Record{}, waste.ErrNotFound
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (waste.Record, error) {
	var (
		rec      waste.Record
		wtype    string
		status   string
		location []byte
		images   []byte
	)
	err := row.Scan(
		&rec.ID, &rec.OwnerID, &wtype, &rec.Description, &rec.Quantity, &rec.Unit, &location, &images,
		&status, &rec.EnvironmentalScore, &rec.PointsAwarded,
		&rec.IsValidated, &rec.ValidatedBy, &rec.ValidationDate, &rec.ValidationNotes,
		&rec.ProcessorID, &rec.ProcessingNotes,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.CollectionDate, &rec.ProcessingDate, &rec.CompletionDate,
	)
	if err != nil {
		return waste.Record{}, err
	}
	rec.Type = waste.Type(wtype)
	rec.Status = waste.Status(status)
	if len(location) > 0 {
		if err := json.Unmarshal(location, &rec.Location); err != nil {
			return waste.Record{}, err
		}
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &rec.ImagePaths); err != nil {
			return waste.Record{}, err
		}
	}
	return rec, nil
}
