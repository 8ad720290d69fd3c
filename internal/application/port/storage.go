package port

import "context"

// FileStorage keeps rendered artifacts under slash-separated relative keys
// such as "artifacts/<letter>/<file>". Keys that escape the storage root
// are rejected.
type FileStorage interface {
	Save(ctx context.Context, key string, content []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) bool
	// Delete succeeds when the key is already absent
	Delete(ctx context.Context, key string) error
	// GetFullPath maps a key to where it lives on disk, for logs and headers
	GetFullPath(key string) string
}
