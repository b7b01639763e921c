package database

// Repository provides the Postgres-backed operations the relay keeps: user
// and API-key management plus webhook subscriptions, both in
// repository_phase3.go. Stream activity itself lives in
// internal/streamrecord, which wraps a *DB directly rather than going
// through this type.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}
