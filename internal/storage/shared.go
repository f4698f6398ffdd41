package storage

import "context"

// Shared is implemented by stores whose backing files another process, such
// as remindctl, may write while the daemon holds them open.
type Shared interface {
	// WatchPaths lists the files a foreign write touches.
	WatchPaths() []string
	// Refresh picks up foreign writes and reports whether any were seen.
	// The store's own writes never count.
	Refresh(ctx context.Context) (bool, error)
}
