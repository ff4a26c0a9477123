package database

import (
	"context"
	"time"
)

// Pinger is a backing service that /ready checks.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// CheckAll pings every service with a shared timeout and returns the failures
// by name.
func CheckAll(ctx context.Context, timeout time.Duration, services ...Pinger) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	failed := make(map[string]error)
	for _, s := range services {
		if err := s.Ping(ctx); err != nil {
			failed[s.Name()] = err
		}
	}
	return failed
}
