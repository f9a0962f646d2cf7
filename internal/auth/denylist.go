package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist records revoked API token ids until they would have expired anyway.
type Denylist struct {
	client *redis.Client
	prefix string
}

// NewDenylist constructs a Denylist on client.
func NewDenylist(client *redis.Client) *Denylist {
	return &Denylist{client: client, prefix: "helpdesk:jwt:revoked:"}
}

// Revoke marks jti revoked until expiresAt. Tokens already expired are ignored.
func (d *Denylist) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if jti == "" || ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, d.prefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}

// Revoked reports whether jti was revoked.
func (d *Denylist) Revoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("auth: check token: %w", err)
	}
	return n > 0, nil
}
