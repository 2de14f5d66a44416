// Package accesskeys issues the single-use keys that authorize a device to
// perform one destructive local operation.
package accesskeys

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/clock"
	"semaphore/devicehub/internal/crypto"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

const OperationUninstall = "uninstall"

type Options struct {
	Clock      clock.Clock
	Logger     zerolog.Logger
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

type Issuer struct {
	keys       store.AccessKeys
	clock      clock.Clock
	log        zerolog.Logger
	defaultTTL time.Duration
	maxTTL     time.Duration
}

// Issued carries the plaintext key. It is returned once and never stored.
type Issued struct {
	AccessKey string    `json:"accessKey"`
	ClientID  string    `json:"clientId"`
	Operation string    `json:"operation"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewIssuer(keys store.AccessKeys, opts Options) *Issuer {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.MaxTTL < opts.DefaultTTL {
		opts.MaxTTL = opts.DefaultTTL
	}
	return &Issuer{
		keys:       keys,
		clock:      opts.Clock,
		log:        opts.Logger,
		defaultTTL: opts.DefaultTTL,
		maxTTL:     opts.MaxTTL,
	}
}

// Issue creates a key for clientID and operation valid for ttl, or the
// default lifetime when ttl is zero.
func (i *Issuer) Issue(ctx context.Context, clientID, operation string, ttl time.Duration) (Issued, error) {
	clientID = strings.TrimSpace(clientID)
	operation = strings.TrimSpace(operation)
	if clientID == "" || operation == "" {
		return Issued{}, fmt.Errorf("%w: clientId and operation are required", apperr.ErrValidation)
	}
	if ttl < 0 {
		return Issued{}, fmt.Errorf("%w: duration must be positive", apperr.ErrValidation)
	}
	if ttl == 0 {
		ttl = i.defaultTTL
	}
	if ttl > i.maxTTL {
		return Issued{}, fmt.Errorf("%w: duration exceeds %s", apperr.ErrValidation, i.maxTTL)
	}

	token, err := crypto.NewToken()
	if err != nil {
		return Issued{}, fmt.Errorf("generate access key: %w", err)
	}
	now := i.clock.Now()
	key := model.AccessKey{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		KeyHash:   crypto.HashToken(token),
		Operation: operation,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := i.keys.CreateAccessKey(ctx, key); err != nil {
		return Issued{}, err
	}

	i.log.Info().Str("client_id", clientID).Str("operation", operation).Time("expires_at", key.ExpiresAt).Msg("access key issued")
	return Issued{AccessKey: token, ClientID: clientID, Operation: operation, ExpiresAt: key.ExpiresAt}, nil
}

// Redeem consumes a key. Any mismatch, expiry or reuse is
// ErrInvalidOrExpiredKey.
func (i *Issuer) Redeem(ctx context.Context, clientID, token, operation string) (model.AccessKey, error) {
	if clientID == "" || token == "" || operation == "" {
		return model.AccessKey{}, apperr.ErrInvalidOrExpiredKey
	}
	key, err := i.keys.ConsumeAccessKey(ctx, clientID, crypto.HashToken(token), operation, i.clock.Now())
	if err != nil {
		i.log.Warn().Str("client_id", clientID).Str("operation", operation).Msg("access key rejected")
		return model.AccessKey{}, err
	}
	i.log.Info().Str("client_id", clientID).Str("operation", operation).Msg("access key redeemed")
	return key, nil
}
