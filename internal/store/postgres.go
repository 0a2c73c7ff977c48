package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"hawkroute/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies every *.sql file in dir in lexical order. Files are
// expected to be idempotent.
func (p *Postgres) MigrateDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

const merchantCols = `id, name, address, active, lat, lng, location_updated_at`

func scanMerchant(row interface{ Scan(...any) error }) (model.Merchant, error) {
	var mc model.Merchant
	var name, addr sql.NullString
	var lat, lng sql.NullFloat64
	var at sql.NullTime
	if err := row.Scan(&mc.ID, &name, &addr, &mc.Active, &lat, &lng, &at); err != nil {
		return model.Merchant{}, err
	}
	mc.Name, mc.Address = name.String, addr.String
	mc.Location = coordFrom(lat, lng)
	if at.Valid {
		t := at.Time
		mc.LocationUpdatedAt = &t
	}
	return mc, nil
}

func (p *Postgres) GetMerchant(ctx context.Context, id string) (model.Merchant, error) {
	mc, err := scanMerchant(p.db.QueryRowContext(ctx, `SELECT `+merchantCols+` FROM merchants WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Merchant{}, ErrNotFound
	}
	return mc, err
}

func (p *Postgres) ListActiveMerchants(ctx context.Context) ([]model.Merchant, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+merchantCols+` FROM merchants WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Merchant{}
	for rows.Next() {
		mc, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// RecordLocation appends a history row and moves the merchant's current location.
func (p *Postgres) RecordLocation(ctx context.Context, s model.LocationSample) error {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now().UTC()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `UPDATE merchants SET lat=$2, lng=$3, location_updated_at=$4 WHERE id=$1`,
		s.MerchantID, s.Location.Lat, s.Location.Lng, s.RecordedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO merchant_locations (merchant_id, lat, lng, accuracy, speed, recorded_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		s.MerchantID, s.Location.Lat, s.Location.Lng, nullFloat(s.AccuracyMeters), nullFloat(s.SpeedMps), s.RecordedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ListLocations(ctx context.Context, merchantID string, limit int) ([]model.LocationSample, error) {
	if _, err := p.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT lat, lng, accuracy, speed, recorded_at FROM merchant_locations
        WHERE merchant_id=$1 ORDER BY recorded_at DESC, id DESC LIMIT $2`, merchantID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.LocationSample{}
	for rows.Next() {
		s := model.LocationSample{MerchantID: merchantID}
		var acc, speed sql.NullFloat64
		if err := rows.Scan(&s.Location.Lat, &s.Location.Lng, &acc, &speed, &s.RecordedAt); err != nil {
			return nil, err
		}
		s.AccuracyMeters, s.SpeedMps = floatPtr(acc), floatPtr(speed)
		out = append(out, s)
	}
	return out, rows.Err()
}

const orderCols = `id, merchant_id, status, delivery_address, delivery_lat, delivery_lng, delivery_sequence, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (model.Order, error) {
	var o model.Order
	var addr sql.NullString
	var lat, lng sql.NullFloat64
	var seq sql.NullInt64
	if err := row.Scan(&o.ID, &o.MerchantID, &o.Status, &addr, &lat, &lng, &seq, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return model.Order{}, err
	}
	o.DeliveryAddress = addr.String
	o.Delivery = coordFrom(lat, lng)
	if seq.Valid {
		v := int(seq.Int64)
		o.DeliverySequence = &v
	}
	return o, nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	return o, err
}

func (p *Postgres) ListAwaitingOrders(ctx context.Context, merchantID string, from, to time.Time, statuses []string) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderCols+` FROM orders
        WHERE merchant_id=$1 AND created_at >= $2 AND created_at < $3 AND status = ANY($4)
        ORDER BY created_at, id`, merchantID, from, to, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) CountAwaitingOrders(ctx context.Context, merchantID string, from, to time.Time, statuses []string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM orders
        WHERE merchant_id=$1 AND created_at >= $2 AND created_at < $3 AND status = ANY($4)`,
		merchantID, from, to, statuses).Scan(&n)
	return n, err
}

// SaveRoutePlan inserts the plan and rewrites delivery sequences in one
// transaction. Writers for the same merchant and date are serialized by an
// advisory lock; a sequence update that touches no row aborts everything.
func (p *Postgres) SaveRoutePlan(ctx context.Context, plan model.RoutePlan, cleared []string) (model.RoutePlan, error) {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.Status == "" {
		plan.Status = model.PlanPending
	}
	seqJSON, err := json.Marshal(sequenceOrEmpty(plan.OrderSequence))
	if err != nil {
		return model.RoutePlan{}, err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.RoutePlan{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey(plan.MerchantID, plan.Date)); err != nil {
		return model.RoutePlan{}, err
	}
	err = tx.QueryRowContext(ctx, `INSERT INTO route_plans
        (id, merchant_id, date, order_sequence, total_distance, estimated_duration, status, strategy, degraded)
        VALUES ($1,$2,$3::date,$4::jsonb,$5,$6,$7,$8,$9) RETURNING created_at, updated_at`,
		plan.ID, plan.MerchantID, plan.Date, string(seqJSON), plan.TotalDistanceMeters, plan.EstimatedDurationSeconds,
		plan.Status, nullIfEmpty(plan.Strategy), plan.Degraded).Scan(&plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return model.RoutePlan{}, err
	}
	for i, id := range plan.OrderSequence {
		res, err := tx.ExecContext(ctx, `UPDATE orders SET delivery_sequence=$1, updated_at=now() WHERE id=$2 AND merchant_id=$3`, i+1, id, plan.MerchantID)
		if err != nil {
			return model.RoutePlan{}, err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return model.RoutePlan{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
	}
	for _, id := range cleared {
		res, err := tx.ExecContext(ctx, `UPDATE orders SET delivery_sequence=NULL, updated_at=now() WHERE id=$1 AND merchant_id=$2`, id, plan.MerchantID)
		if err != nil {
			return model.RoutePlan{}, err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return model.RoutePlan{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.RoutePlan{}, err
	}
	return plan, nil
}

const planCols = `id::text, merchant_id, date::text, order_sequence, total_distance, estimated_duration, status, strategy, degraded, created_at, updated_at`

func scanPlan(row interface{ Scan(...any) error }) (model.RoutePlan, error) {
	var pl model.RoutePlan
	var seq []byte
	var strategy sql.NullString
	if err := row.Scan(&pl.ID, &pl.MerchantID, &pl.Date, &seq, &pl.TotalDistanceMeters, &pl.EstimatedDurationSeconds,
		&pl.Status, &strategy, &pl.Degraded, &pl.CreatedAt, &pl.UpdatedAt); err != nil {
		return model.RoutePlan{}, err
	}
	pl.Strategy = strategy.String
	if err := json.Unmarshal(seq, &pl.OrderSequence); err != nil {
		return model.RoutePlan{}, fmt.Errorf("route plan %s: decode sequence: %w", pl.ID, err)
	}
	pl.OrderSequence = sequenceOrEmpty(pl.OrderSequence)
	return pl, nil
}

// LatestRoutePlan picks the newest row; the serial column breaks created_at ties.
func (p *Postgres) LatestRoutePlan(ctx context.Context, merchantID, date string) (model.RoutePlan, error) {
	pl, err := scanPlan(p.db.QueryRowContext(ctx, `SELECT `+planCols+` FROM route_plans
        WHERE merchant_id=$1 AND date=$2::date ORDER BY created_at DESC, seq DESC LIMIT 1`, merchantID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoutePlan{}, ErrNotFound
	}
	return pl, err
}

func (p *Postgres) GetRoutePlan(ctx context.Context, id string) (model.RoutePlan, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.RoutePlan{}, ErrNotFound
	}
	pl, err := scanPlan(p.db.QueryRowContext(ctx, `SELECT `+planCols+` FROM route_plans WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoutePlan{}, ErrNotFound
	}
	return pl, err
}

func (p *Postgres) ListRoutePlans(ctx context.Context, merchantID, date string, limit int) ([]model.RoutePlan, error) {
	q := `SELECT ` + planCols + ` FROM route_plans WHERE merchant_id=$1`
	args := []any{merchantID}
	if date != "" {
		q += ` AND date=$2::date`
		args = append(args, date)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC, seq DESC LIMIT %d`, clampLimit(limit))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RoutePlan{}
	for rows.Next() {
		pl, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateRoutePlanStatus(ctx context.Context, id, status string) (model.RoutePlan, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.RoutePlan{}, ErrNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.RoutePlan{}, err
	}
	defer func() { _ = tx.Rollback() }()
	pl, err := scanPlan(tx.QueryRowContext(ctx, `SELECT `+planCols+` FROM route_plans WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoutePlan{}, ErrNotFound
	}
	if err != nil {
		return model.RoutePlan{}, err
	}
	if pl.Status == status {
		return pl, nil
	}
	if !validTransition(pl.Status, status) {
		return model.RoutePlan{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, pl.Status, status)
	}
	if err := tx.QueryRowContext(ctx, `UPDATE route_plans SET status=$2, updated_at=now() WHERE id=$1 RETURNING updated_at`, id, status).Scan(&pl.UpdatedAt); err != nil {
		return model.RoutePlan{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.RoutePlan{}, err
	}
	pl.Status = status
	return pl, nil
}

func lockKey(merchantID, date string) string { return merchantID + ":" + date }

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// coordFrom returns nil unless both columns are set.
func coordFrom(lat, lng sql.NullFloat64) *model.Coordinate {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &model.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
}

func sequenceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
