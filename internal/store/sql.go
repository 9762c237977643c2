package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"termsched/internal/model"
)

// SQL is a database/sql backed Store. It runs on PostgreSQL through pgx and
// on an embedded SQLite file through modernc.org/sqlite; queries are written
// with ? placeholders and rebound per driver.
type SQL struct {
	db     *sql.DB
	driver string
}

// Open connects with driver "pgx" or "sqlite" and pings the database.
func Open(ctx context.Context, driver, dsn string) (*SQL, error) {
	switch driver {
	case "pgx":
	case "sqlite":
		if !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
			dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dsn)
		}
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &SQL{db: db, driver: driver}, nil
}

func NewPostgres(ctx context.Context, dsn string) (*SQL, error) {
	return Open(ctx, "pgx", dsn)
}

func NewSQLite(ctx context.Context, path string) (*SQL, error) {
	return Open(ctx, "sqlite", path)
}

func (s *SQL) Driver() string { return s.driver }

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQL) rebind(q string) string {
	if s.driver != "pgx" {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(v string) (time.Time, error) {
	t, err := time.Parse(tsLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const opColumns = `id, transport_id, modality, eta, status, current_status, truck_status, queue_priority, transfer_plan, delay_json, requeue_json, version`

func scanOperation(r rowScanner) (model.Operation, error) {
	var op model.Operation
	var eta, plan string
	var delay, requeue sql.NullString
	if err := r.Scan(&op.ID, &op.TransportID, &op.Modality, &eta, &op.Status, &op.CurrentStatus, &op.TruckStatus,
		&op.QueuePriority, &plan, &delay, &requeue, &op.Version); err != nil {
		return op, err
	}
	var err error
	if op.ETA, err = parseTS(eta); err != nil {
		return op, err
	}
	if err := json.Unmarshal([]byte(plan), &op.TransferPlan); err != nil {
		return op, fmt.Errorf("decode transfer plan of %s: %w", op.ID, err)
	}
	if delay.Valid && delay.String != "" {
		op.Delay = &model.Delay{}
		if err := json.Unmarshal([]byte(delay.String), op.Delay); err != nil {
			return op, fmt.Errorf("decode delay of %s: %w", op.ID, err)
		}
	}
	if requeue.Valid && requeue.String != "" {
		op.RequeueDetails = &model.RequeueDetails{}
		if err := json.Unmarshal([]byte(requeue.String), op.RequeueDetails); err != nil {
			return op, fmt.Errorf("decode requeue details of %s: %w", op.ID, err)
		}
	}
	return op, nil
}

// operationArgs returns the column values after id, in opColumns order, minus version.
func operationArgs(op model.Operation) ([]any, error) {
	plan := op.TransferPlan
	if plan == nil {
		plan = []model.TransferLine{}
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	var delay, requeue any
	if op.Delay != nil {
		b, err := json.Marshal(op.Delay)
		if err != nil {
			return nil, err
		}
		delay = string(b)
	}
	if op.RequeueDetails != nil {
		b, err := json.Marshal(op.RequeueDetails)
		if err != nil {
			return nil, err
		}
		requeue = string(b)
	}
	return []any{op.TransportID, string(op.Modality), ts(op.ETA), string(op.Status), string(op.CurrentStatus),
		string(op.TruckStatus), op.QueuePriority, string(planJSON), delay, requeue}, nil
}

func (s *SQL) GetOperation(ctx context.Context, id string) (model.Operation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+opColumns+` FROM operations WHERE id = ?`), id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Operation{}, ErrNotFound
	}
	if err != nil {
		return model.Operation{}, err
	}
	return op, nil
}

func (s *SQL) ListOperations(ctx context.Context, filter model.OperationFilter) ([]model.Operation, error) {
	q := `SELECT ` + opColumns + ` FROM operations`
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Modality != "" {
		where = append(where, "modality = ?")
		args = append(args, string(filter.Modality))
	}
	if !filter.From.IsZero() {
		where = append(where, "eta >= ?")
		args = append(args, ts(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "eta < ?")
		args = append(args, ts(filter.To))
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY queue_priority, id"

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *SQL) PutOperation(ctx context.Context, op model.Operation) (model.Operation, error) {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.QueuePriority == 0 && !op.ETA.IsZero() {
		op.QueuePriority = op.ETA.UnixMilli()
	}
	args, err := operationArgs(op)
	if err != nil {
		return model.Operation{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Operation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT version FROM operations WHERE id = ?`), op.ID).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		op.Version = 1
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO operations(`+opColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
			append(append([]any{op.ID}, args...), op.Version)...)
	case err == nil:
		op.Version = version + 1
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE operations SET transport_id=?, modality=?, eta=?, status=?, current_status=?, truck_status=?, queue_priority=?, transfer_plan=?, delay_json=?, requeue_json=?, version=? WHERE id=?`),
			append(args, op.Version, op.ID)...)
	}
	if err != nil {
		return model.Operation{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Operation{}, err
	}
	return op, nil
}

func (s *SQL) CommitReschedule(ctx context.Context, op model.Operation, expectedVersion int, entries []model.AuditEntry) (model.Operation, []model.AuditEntry, error) {
	args, err := operationArgs(op)
	if err != nil {
		return model.Operation{}, nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Operation{}, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	op.Version = expectedVersion + 1
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE operations SET transport_id=?, modality=?, eta=?, status=?, current_status=?, truck_status=?, queue_priority=?, transfer_plan=?, delay_json=?, requeue_json=?, version=? WHERE id=? AND version=?`),
		append(args, op.Version, op.ID, expectedVersion)...)
	if err != nil {
		return model.Operation{}, nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Operation{}, nil, err
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM operations WHERE id = ?`), op.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return model.Operation{}, nil, ErrNotFound
		}
		if err != nil {
			return model.Operation{}, nil, err
		}
		return model.Operation{}, nil, ErrConflict
	}

	var seq int
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(seq), 0) FROM audit_log WHERE operation_id = ?`), op.ID).Scan(&seq); err != nil {
		return model.Operation{}, nil, err
	}
	stored := make([]model.AuditEntry, 0, len(entries))
	for _, e := range entries {
		seq++
		e.Seq = seq
		e.OperationID = op.ID
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO audit_log(id, operation_id, seq, kind, message, username, created_at) VALUES (?,?,?,?,?,?,?)`),
			e.ID, e.OperationID, e.Seq, string(e.Kind), e.Message, e.User, ts(e.Time)); err != nil {
			return model.Operation{}, nil, fmt.Errorf("append audit: %w", err)
		}
		stored = append(stored, e)
	}
	if err := tx.Commit(); err != nil {
		return model.Operation{}, nil, err
	}
	return op, stored, nil
}

func (s *SQL) ListAudit(ctx context.Context, operationID string) ([]model.AuditEntry, error) {
	if _, err := s.GetOperation(ctx, operationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, operation_id, seq, kind, message, username, created_at FROM audit_log WHERE operation_id = ? ORDER BY seq`), operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AuditEntry{}
	for rows.Next() {
		var e model.AuditEntry
		var created string
		if err := rows.Scan(&e.ID, &e.OperationID, &e.Seq, &e.Kind, &e.Message, &e.User, &created); err != nil {
			return nil, err
		}
		if e.Time, err = parseTS(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQL) PutHold(ctx context.Context, h model.Hold) (model.Hold, error) {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO holds(id, resource, start_time, end_time, reason) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	resource=excluded.resource,
	start_time=excluded.start_time,
	end_time=excluded.end_time,
	reason=excluded.reason`), h.ID, h.Resource, ts(h.StartTime), ts(h.EndTime), h.Reason)
	if err != nil {
		return model.Hold{}, err
	}
	return h, nil
}

func (s *SQL) ListHolds(ctx context.Context, from, to time.Time) ([]model.Hold, error) {
	q := `SELECT id, resource, start_time, end_time, reason FROM holds`
	var where []string
	var args []any
	if !to.IsZero() {
		where = append(where, "start_time < ?")
		args = append(args, ts(to))
	}
	if !from.IsZero() {
		where = append(where, "end_time > ?")
		args = append(args, ts(from))
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY start_time, id"
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Hold{}
	for rows.Next() {
		var h model.Hold
		var start, end string
		if err := rows.Scan(&h.ID, &h.Resource, &start, &end, &h.Reason); err != nil {
			return nil, err
		}
		if h.StartTime, err = parseTS(start); err != nil {
			return nil, err
		}
		if h.EndTime, err = parseTS(end); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQL) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	if sub.Events == nil {
		sub.Events = []string{}
	}
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return model.Subscription{}, err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO subscriptions(id, url, events, secret, created_at) VALUES (?,?,?,?,?)`),
		sub.ID, sub.URL, string(events), sub.Secret, ts(time.Now()))
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (s *SQL) scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var sub model.Subscription
		var events string
		if err := rows.Scan(&sub.ID, &sub.URL, &events, &sub.Secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(events), &sub.Events); err != nil {
			return nil, fmt.Errorf("decode events of subscription %s: %w", sub.ID, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQL) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	all, err := s.scanSubscriptions(rows)
	if err != nil {
		return nil, err
	}
	out := []model.Subscription{}
	for _, sub := range all {
		if subscribed(sub.Events, eventType) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *SQL) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = pageSize(limit)
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, url, events, secret FROM subscriptions WHERE id > ? ORDER BY id LIMIT ?`), cursor, limit)
	if err != nil {
		return nil, "", err
	}
	out, err := s.scanSubscriptions(rows)
	if err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	for i := range out {
		out[i].Secret = ""
	}
	return out, next, nil
}

func (s *SQL) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM subscriptions WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	now := ts(time.Now())
	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key, created_at)
VALUES (?,?,?,?,?,?,'pending',0,?,?,?)
ON CONFLICT (event_type, url, dedup_key) DO NOTHING`), id, subscriptionID, eventType, url, secret, string(payload), now, dk, now)
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var existing string
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM webhook_deliveries WHERE event_type = ? AND url = ? AND dedup_key = ?`), eventType, url, dk).Scan(&existing)
		if err != nil {
			return "", err
		}
		return existing, nil
	}
	return id, nil
}

const deliveryColumns = `id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, last_error, response_code, latency_ms, delivered_at`

func scanDelivery(r rowScanner) (WebhookDelivery, error) {
	var d WebhookDelivery
	var payload, next string
	var delivered sql.NullString
	if err := r.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &payload, &d.Status, &d.Attempts,
		&next, &d.LastError, &d.ResponseCode, &d.LatencyMs, &delivered); err != nil {
		return d, err
	}
	d.Payload = []byte(payload)
	var err error
	if d.NextAttemptAt, err = parseTS(next); err != nil {
		return d, err
	}
	if delivered.Valid {
		t, err := parseTS(delivered.String)
		if err != nil {
			return d, err
		}
		d.DeliveredAt = &t
	}
	return d, nil
}

func (s *SQL) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+deliveryColumns+` FROM webhook_deliveries
WHERE status IN ('pending','retry') AND next_attempt_at <= ? ORDER BY next_attempt_at ASC LIMIT ?`), ts(time.Now()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQL) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=?, response_code=?, latency_ms=? WHERE id=?`),
			ts(time.Now()), responseCode, latencyMs, id)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=?, next_attempt_at=?, response_code=?, latency_ms=? WHERE id=?`),
		lastError, ts(*nextAttemptAt), responseCode, latencyMs, id)
	return err
}

func (s *SQL) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=?, response_code=?, latency_ms=? WHERE id=?`),
		lastError, responseCode, latencyMs, id)
	return err
}

func (s *SQL) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	limit = pageSize(limit)
	q := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id > ?`
	args := []any{cursor}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, d)
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (s *SQL) RetryWebhookDelivery(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE webhook_deliveries SET status='pending', next_attempt_at=? WHERE id=?`), ts(time.Now()), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
