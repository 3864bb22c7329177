package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "rentbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// SQLite implements the recipient store on a single SQLite file.
type SQLite struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*SQLite, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" must not fan out.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &SQLite{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return st, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping is used by the health endpoint.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) FindSubscriptionsByTriggerTime(ctx context.Context, hhmm string) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.user_id, r.reminder_type, r.reminder_time,
		        COALESCE(r.start_date, ''), COALESCE(r.last_reminder_date, ''), r.daily_price,
		        c.name, COALESCE(u.first_name, '')
		   FROM rentals r
		   JOIN cars c ON c.id = r.car_id
		   LEFT JOIN users u ON u.telegram_id = r.user_id
		  WHERE r.is_active = 1 AND r.reminder_time = ?
		  ORDER BY r.id`, hhmm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var (
			sub         Subscription
			cadence     string
			start, last string
		)
		if err := rows.Scan(&sub.ID, &sub.RecipientID, &cadence, &sub.TriggerTime,
			&start, &last, &sub.BaseRate, &sub.CarName, &sub.FirstName); err != nil {
			return nil, err
		}
		sub.Cadence = Cadence(cadence)
		sub.Anchor = s.optDate("rentals.start_date", sub.ID, start)
		sub.LastFired = s.optDate("rentals.last_reminder_date", sub.ID, last)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// optDate parses a nullable date column; garbage is logged and treated as missing.
func (s *SQLite) optDate(col string, id int64, raw string) Date {
	if strings.TrimSpace(raw) == "" {
		return Date{}
	}
	d, err := ParseDate(raw)
	if err != nil {
		s.log.Warn("unparseable date column", logx.String("column", col), logx.Int64("id", id), logx.Err(err))
		return Date{}
	}
	return d
}

func (s *SQLite) MarkFired(ctx context.Context, subscriptionID int64, day Date) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rentals SET last_reminder_date = ? WHERE id = ?`, day.String(), subscriptionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rental %d: %w", subscriptionID, ErrNotFound)
	}
	return nil
}

const rentalColumns = `r.id, r.user_id, c.name, COALESCE(u.first_name, ''), COALESCE(u.username, ''),
	        r.reminder_type, COALESCE(r.start_date, ''), COALESCE(r.end_date, '')
	   FROM rentals r
	   JOIN cars c ON c.id = r.car_id
	   LEFT JOIN users u ON u.telegram_id = r.user_id`

var rentalsEndingSQL = fmt.Sprintf(
	`SELECT `+rentalColumns+`
	  WHERE r.is_active = 1 AND (
	        (COALESCE(r.end_date, '') <> '' AND date(r.end_date) = ?1)
	     OR (COALESCE(r.end_date, '') = '' AND COALESCE(r.start_date, '') <> ''
	         AND date(r.start_date, '+' || CASE r.reminder_type
	                 WHEN '%s' THEN %d WHEN '%s' THEN %d ELSE %d END || ' days') = ?1))
	  ORDER BY r.id`,
	Weekly, Weekly.RentalFallbackDays(), Monthly, Monthly.RentalFallbackDays(), Daily.RentalFallbackDays())

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLite) scanRental(row scanner) (Rental, error) {
	var (
		r          Rental
		cadence    string
		start, end string
	)
	if err := row.Scan(&r.ID, &r.RecipientID, &r.CarName, &r.FirstName, &r.Username, &cadence, &start, &end); err != nil {
		return Rental{}, err
	}
	r.Cadence = Cadence(cadence)
	r.Anchor = s.optDate("rentals.start_date", r.ID, start)
	r.EndDate = s.optDate("rentals.end_date", r.ID, end)
	return r, nil
}

func (s *SQLite) FindRentalsEndingOn(ctx context.Context, day Date) ([]Rental, error) {
	rows, err := s.db.QueryContext(ctx, rentalsEndingSQL, day.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rental
	for rows.Next() {
		r, err := s.scanRental(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RentalByID returns a rental whether or not it is still active.
func (s *SQLite) RentalByID(ctx context.Context, id int64) (Rental, error) {
	r, err := s.scanRental(s.db.QueryRowContext(ctx, `SELECT `+rentalColumns+` WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Rental{}, fmt.Errorf("rental %d: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *SQLite) CarByID(ctx context.Context, id int64) (Car, error) {
	var (
		c         Car
		available int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(description, ''), daily_price, available FROM cars WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.DailyPrice, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return Car{}, fmt.Errorf("car %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Car{}, err
	}
	c.Available = available != 0
	return c, nil
}

func (s *SQLite) FindMaintenanceDueOn(ctx context.Context, day Date) ([]MaintenanceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.car_id, c.name, m.entry_type, m.description
		   FROM car_maintenance m
		   JOIN cars c ON c.id = m.car_id
		  WHERE m.reminder_date = ?
		  ORDER BY c.name, m.id`, day.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MaintenanceEntry
	for rows.Next() {
		e := MaintenanceEntry{ReminderDate: day}
		if err := rows.Scan(&e.ID, &e.CarID, &e.CarName, &e.EntryType, &e.Description); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) ListAdministrators(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT telegram_id FROM admins ORDER BY telegram_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Recipients pages through the roster lazily, chunkSize rows per page,
// ordered by chat id. Each page is a fresh keyset query, so rows added
// behind the cursor during iteration are not revisited.
func (s *SQLite) Recipients(ctx context.Context, chunkSize int) iter.Seq2[[]Recipient, error] {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return func(yield func([]Recipient, error) bool) {
		after := int64(math.MinInt64)
		for {
			page, err := s.recipientsAfter(ctx, after, chunkSize)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page) == 0 {
				return
			}
			if !yield(page, nil) {
				return
			}
			if len(page) < chunkSize {
				return
			}
			after = page[len(page)-1].ChatID
		}
	}
}

func (s *SQLite) recipientsAfter(ctx context.Context, after int64, limit int) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT telegram_id, COALESCE(first_name, ''), COALESCE(username, '')
		   FROM users WHERE telegram_id > ? ORDER BY telegram_id LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Recipient, 0, limit)
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ChatID, &r.FirstName, &r.Username); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendBroadcastLog(ctx context.Context, e BroadcastLog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_logs(admin_id, content_type, text, total_users, sent_count, failed_count, blocked_count, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.ActorID, e.ContentKind, nullStr(e.Text), e.Total, e.Sent, e.Failed, e.Blocked,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLite) RecentBroadcastLogs(ctx context.Context, limit int) ([]BroadcastLog, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, admin_id, content_type, COALESCE(text, ''), total_users, sent_count, failed_count, blocked_count, created_at
		   FROM broadcast_logs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BroadcastLog
	for rows.Next() {
		var (
			e  BroadcastLog
			at string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ContentKind, &e.Text, &e.Total, &e.Sent, &e.Failed, &e.Blocked, &at); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
