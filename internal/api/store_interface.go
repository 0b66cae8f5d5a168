package api

import "github.com/soaringjerry/pricecrowd/internal/services"

// Store is everything the HTTP layer persists: the registry state plus pending
// login challenges. Both the in-memory store and db.SQLiteStore implement it.
type Store interface {
	services.RegistryStore
	services.ChallengeStore
}

var _ Store = (*MemoryStore)(nil)
