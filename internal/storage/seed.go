package storage

import (
	"context"
	"time"
)

// Write helpers used by operator tooling and tests. The conversational
// flows that normally populate these tables live outside this service.

func (s *SQLite) UpsertUser(ctx context.Context, r Recipient) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(telegram_id, username, first_name) VALUES(?,?,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET username=excluded.username, first_name=excluded.first_name`,
		r.ChatID, nullStr(r.Username), nullStr(r.FirstName))
	return err
}

func (s *SQLite) AddAdministrator(ctx context.Context, telegramID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO admins(telegram_id) VALUES(?)`, telegramID)
	return err
}

// AddCar inserts c as an available car; c.ID is ignored.
func (s *SQLite) AddCar(ctx context.Context, c Car) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO cars(name, description, daily_price) VALUES(?,?,?)`,
		c.Name, nullStr(c.Description), c.DailyPrice)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// NewRental describes a rental row to insert.
type NewRental struct {
	RecipientID int64
	CarID       int64
	Start       Date
	End         Date
	DailyPrice  int64
	TriggerTime string
	Cadence     Cadence
	LastFired   Date
	Inactive    bool
}

func (s *SQLite) AddRental(ctx context.Context, r NewRental) (int64, error) {
	active := 1
	if r.Inactive {
		active = 0
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rentals(user_id, car_id, start_date, end_date, daily_price, reminder_time, reminder_type, last_reminder_date, is_active)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.RecipientID, r.CarID, nullStr(r.Start.String()), nullStr(r.End.String()), r.DailyPrice,
		r.TriggerTime, string(r.Cadence), nullStr(r.LastFired.String()), active)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLite) AddMaintenance(ctx context.Context, carID int64, entryType, description string, reminder Date) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO car_maintenance(car_id, entry_type, description, event_date, reminder_date) VALUES(?,?,?,?,?)`,
		carID, entryType, description, DateOf(time.Now()).String(), nullStr(reminder.String()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
