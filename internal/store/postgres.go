package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/hostelpay/internal/clock"
	"github.com/punchamoorthee/hostelpay/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const rechargeColumns = `id, student_id, amount_cents, status, provider_txn, slug, provider_payload, credited_at, created_at, updated_at`

var matchColumns = map[domain.MatchField]string{
	domain.MatchProviderTxn:      "provider_txn",
	domain.MatchPayloadOrderID:   "provider_payload->>'order_id'",
	domain.MatchPayloadOrderSlug: "provider_payload->>'order_slug'",
	domain.MatchPayloadSlug:      "provider_payload->>'slug'",
	domain.MatchSlug:             "slug",
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// LedgerStore persists students, recharges and credits in Postgres.
type LedgerStore struct {
	Db    *pgxpool.Pool
	clock clock.Clock
}

// Connect opens and pings a pool.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

func NewLedgerStore(pool *pgxpool.Pool, clk clock.Clock) *LedgerStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &LedgerStore{Db: pool, clock: clk}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *LedgerStore) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *LedgerStore) CreateRecharge(ctx context.Context, r *domain.Recharge) error {
	payload, err := json.Marshal(nonNilPayload(r.ProviderPayload))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock.Now()
	}
	r.UpdatedAt = r.CreatedAt
	_, err = s.Db.Exec(ctx,
		`INSERT INTO recharges (id, student_id, amount_cents, status, provider_txn, slug, provider_payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.StudentID, r.AmountCents, r.Status, r.ProviderTxn, r.Slug, payload, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert recharge: %w", err)
	}
	return nil
}

// FindRecharge runs a single ranked query: the record matched by the
// earliest key wins, ties broken by creation order.
func (s *LedgerStore) FindRecharge(ctx context.Context, keys ...domain.MatchKey) (*domain.Recharge, error) {
	if len(keys) == 0 {
		return nil, ErrNotFound
	}
	query, args, err := rankedLookup(keys)
	if err != nil {
		return nil, err
	}
	r, err := scanRecharge(s.Db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func rankedLookup(keys []domain.MatchKey) (string, []any, error) {
	conds := make([]string, 0, len(keys))
	ranks := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		col, ok := matchColumns[k.Field]
		if !ok {
			return "", nil, fmt.Errorf("unsupported match field %s", k.Field)
		}
		args = append(args, k.Value)
		cond := fmt.Sprintf("%s = $%d", col, i+1)
		conds = append(conds, cond)
		ranks = append(ranks, fmt.Sprintf("WHEN %s THEN %d", cond, i))
	}
	query := fmt.Sprintf(
		"SELECT %s FROM recharges WHERE %s ORDER BY CASE %s END, created_at, id LIMIT 1",
		rechargeColumns, strings.Join(conds, " OR "), strings.Join(ranks, " "),
	)
	return query, args, nil
}

// ApplyObservation overwrites status and payload under a row lock. When the
// status is a success synonym it records the credit event; only the first
// such event increments the balance.
func (s *LedgerStore) ApplyObservation(ctx context.Context, id string, obs domain.Observation) (*domain.Recharge, bool, error) {
	payload, err := json.Marshal(nonNilPayload(obs.Payload))
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}

	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := scanRecharge(tx.QueryRow(ctx,
		"SELECT "+rechargeColumns+" FROM recharges WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("lock recharge: %w", err)
	}

	now := s.clock.Now()
	if _, err := tx.Exec(ctx,
		"UPDATE recharges SET status = $1, provider_payload = $2, updated_at = $3 WHERE id = $4",
		obs.Status, payload, now, id,
	); err != nil {
		return nil, false, fmt.Errorf("update recharge: %w", err)
	}
	r.Status = obs.Status
	r.ProviderPayload = nonNilPayload(obs.Payload)
	r.UpdatedAt = now

	credited := false
	if domain.IsSuccessStatus(obs.Status) {
		tag, err := tx.Exec(ctx,
			`INSERT INTO recharge_credits (recharge_id, student_id, amount_cents, created_at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (recharge_id) DO NOTHING`,
			r.ID, r.StudentID, r.AmountCents, now,
		)
		if err != nil {
			return nil, false, fmt.Errorf("record credit: %w", err)
		}
		if tag.RowsAffected() == 1 {
			if _, err := incrementBalance(ctx, tx, r.StudentID, r.AmountCents); err != nil {
				return nil, false, err
			}
			if _, err := tx.Exec(ctx, "UPDATE recharges SET credited_at = $1 WHERE id = $2", now, id); err != nil {
				return nil, false, fmt.Errorf("stamp credit: %w", err)
			}
			r.CreditedAt = &now
			credited = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("tx commit failed: %w", err)
	}
	return r, credited, nil
}

// IncrementBalance adds delta to a student's balance atomically. It reports
// false, without error, when the student does not exist.
func (s *LedgerStore) IncrementBalance(ctx context.Context, studentID string, delta int64) (bool, error) {
	return incrementBalance(ctx, s.Db, studentID, delta)
}

func incrementBalance(ctx context.Context, db execer, studentID string, delta int64) (bool, error) {
	tag, err := db.Exec(ctx,
		"UPDATE students SET balance_cents = balance_cents + $1 WHERE student_id = $2",
		delta, studentID,
	)
	if err != nil {
		return false, fmt.Errorf("increment balance: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *LedgerStore) ListRechargesByStudent(ctx context.Context, studentID string, limit int) ([]*domain.Recharge, error) {
	query := "SELECT " + rechargeColumns + " FROM recharges WHERE student_id = $1 ORDER BY created_at DESC"
	args := []any{studentID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.Db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Recharge, 0)
	for rows.Next() {
		r, err := scanRecharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *LedgerStore) CreateStudent(ctx context.Context, st *domain.Student) error {
	parents, err := json.Marshal(nonNilParents(st.Parents))
	if err != nil {
		return fmt.Errorf("encode parents: %w", err)
	}
	err = s.Db.QueryRow(ctx,
		`INSERT INTO students (student_id, name, room, parents, password_hash)
		 VALUES ($1, $2, $3, $4, $5) RETURNING balance_cents, created_at`,
		st.StudentID, st.Name, st.Room, parents, st.PasswordHash,
	).Scan(&st.BalanceCents, &st.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

const studentColumns = `student_id, name, room, balance_cents, parents, password_hash, created_at`

func (s *LedgerStore) GetStudent(ctx context.Context, studentID string) (*domain.Student, error) {
	st, err := scanStudent(s.Db.QueryRow(ctx,
		"SELECT "+studentColumns+" FROM students WHERE student_id = $1", studentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

func (s *LedgerStore) ListStudents(ctx context.Context) ([]*domain.Student, error) {
	rows, err := s.Db.Query(ctx, "SELECT "+studentColumns+" FROM students ORDER BY student_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Student, 0)
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *LedgerStore) ListCallsByStudent(ctx context.Context, studentID string, limit int) ([]domain.CallRecord, error) {
	query := `SELECT student_id, parent_phone, started_at, duration_seconds, direction
	          FROM call_history WHERE student_id = $1 ORDER BY started_at DESC`
	args := []any{studentID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.Db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calls := make([]domain.CallRecord, 0)
	for rows.Next() {
		var c domain.CallRecord
		if err := rows.Scan(&c.StudentID, &c.ParentPhone, &c.StartedAt, &c.DurationSeconds, &c.Direction); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func (s *LedgerStore) GetAdmin(ctx context.Context, username string) (*domain.AdminUser, error) {
	var a domain.AdminUser
	err := s.Db.QueryRow(ctx,
		"SELECT username, password_hash FROM admin_users WHERE username = $1", username,
	).Scan(&a.Username, &a.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// EnsureAdmin creates the account if missing and reports whether it did.
func (s *LedgerStore) EnsureAdmin(ctx context.Context, username, passwordHash string) (bool, error) {
	tag, err := s.Db.Exec(ctx,
		"INSERT INTO admin_users (username, password_hash) VALUES ($1, $2) ON CONFLICT (username) DO NOTHING",
		username, passwordHash,
	)
	if err != nil {
		return false, fmt.Errorf("ensure admin: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanRecharge(row pgx.Row) (*domain.Recharge, error) {
	var (
		r       domain.Recharge
		payload []byte
	)
	err := row.Scan(&r.ID, &r.StudentID, &r.AmountCents, &r.Status, &r.ProviderTxn, &r.Slug,
		&payload, &r.CreditedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &r.ProviderPayload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &r, nil
}

func scanStudent(row pgx.Row) (*domain.Student, error) {
	var (
		st      domain.Student
		parents []byte
	)
	err := row.Scan(&st.StudentID, &st.Name, &st.Room, &st.BalanceCents, &parents, &st.PasswordHash, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(parents, &st.Parents); err != nil {
		return nil, fmt.Errorf("decode parents: %w", err)
	}
	return &st, nil
}

func nonNilPayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

func nonNilParents(p []domain.Parent) []domain.Parent {
	if p == nil {
		return []domain.Parent{}
	}
	return p
}
