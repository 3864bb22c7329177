package storage

import (
	"context"
	"iter"
)

// Store is the persistence API used by the scheduler, digests and broadcasts.
type Store interface {
	FindSubscriptionsByTriggerTime(ctx context.Context, hhmm string) ([]Subscription, error)
	MarkFired(ctx context.Context, subscriptionID int64, day Date) error

	FindRentalsEndingOn(ctx context.Context, day Date) ([]Rental, error)
	FindMaintenanceDueOn(ctx context.Context, day Date) ([]MaintenanceEntry, error)
	ListAdministrators(ctx context.Context) ([]int64, error)
	RentalByID(ctx context.Context, id int64) (Rental, error)
	CarByID(ctx context.Context, id int64) (Car, error)

	Recipients(ctx context.Context, chunkSize int) iter.Seq2[[]Recipient, error]
	AppendBroadcastLog(ctx context.Context, e BroadcastLog) error
	RecentBroadcastLogs(ctx context.Context, limit int) ([]BroadcastLog, error)

	Ping(ctx context.Context) error
	Close() error
}

var _ Store = (*SQLite)(nil)
