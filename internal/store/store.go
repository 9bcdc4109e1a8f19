package store

import "context"

// Store defines the persistence operations for experiment memberships.
type Store interface {
	// Membership operations
	FindMembership(ctx context.Context, experiment string, participants []Participant) (*Membership, error)
	InsertMembership(ctx context.Context, m Membership) (*Membership, bool, error)
	UpdateMembership(ctx context.Context, m *Membership) error
	ListMemberships(ctx context.Context, experiment string) ([]*Membership, error)

	// Conversion operations
	MarkConverted(ctx context.Context, membershipID int64) error
	AddEvent(ctx context.Context, membershipID int64, name string) error
	GetEvents(ctx context.Context, membershipID int64) ([]*Event, error)
	CountVariants(ctx context.Context, q CountQuery) ([]VariantCounts, error)

	// Winner overrides
	SetWinner(ctx context.Context, experiment, variant string) error
	ClearWinner(ctx context.Context, experiment string) error
	Winners(ctx context.Context) (map[string]string, error)

	// Lifecycle
	Close() error
}
