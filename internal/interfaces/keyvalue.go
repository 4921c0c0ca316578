package interfaces

import "context"

// KeyValuePair is one entry in the key/value store, used both for operator
// secrets ({key-name} config substitution) and for small bits of durable
// state that do not warrant their own table.
type KeyValuePair struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// KeyValueStorage is the persistence contract behind the KV service.
// Implemented by internal/storage/sqlite.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	GetPair(ctx context.Context, key string) (*KeyValuePair, error)
	Set(ctx context.Context, key, value, description string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]KeyValuePair, error)
	GetAll(ctx context.Context) (map[string]string, error)
}
