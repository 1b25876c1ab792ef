// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/constants"
)

// # Verification Token Repository

// RedisVerificationTokenRepository implements VerificationTokenRepository
// on Redis. Keys carry the purpose tag so a password-reset token can never
// validate as an email-verification token.
type RedisVerificationTokenRepository struct {
	client *redis.Client
}

// NewVerificationTokenRepository creates a Redis-backed token repository.
func NewVerificationTokenRepository(client *redis.Client) *RedisVerificationTokenRepository {
	return &RedisVerificationTokenRepository{client: client}
}

func verificationKey(purpose VerificationPurpose, tokenHash string) string {
	return fmt.Sprintf("%s%s:%s", constants.RedisPrefixVerifyToken, purpose, tokenHash)
}

/*
Set stores a token digest for a userID under a purpose tag with a TTL.

Parameters:
  - context: context.Context
  - purpose: VerificationPurpose
  - tokenHash: string (SHA-256 hex of the raw token)
  - userID: string
  - ttl: time.Duration

Returns:
  - error: Persistence failures
*/
func (repository *RedisVerificationTokenRepository) Set(context context.Context, purpose VerificationPurpose, tokenHash, userID string, ttl time.Duration) error {
	err := repository.client.Set(context, verificationKey(purpose, tokenHash), userID, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis_verification_repo_set_failed: %w", err)
	}
	return nil
}

/*
Consume atomically retrieves and deletes the userID for a token digest.

Description: GETDEL makes read-and-invalidate a single atomic operation,
so a token validates at most once even under concurrent submission.

Parameters:
  - context: context.Context
  - purpose: VerificationPurpose
  - tokenHash: string

Returns:
  - string: UserID
  - error: apperr.NotFound when absent, expired, or already used
*/
func (repository *RedisVerificationTokenRepository) Consume(context context.Context, purpose VerificationPurpose, tokenHash string) (string, error) {
	userID, err := repository.client.GetDel(context, verificationKey(purpose, tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperr.NotFound("Verification token is invalid or expired")
		}
		return "", fmt.Errorf("redis_verification_repo_consume_failed: %w", err)
	}
	return userID, nil
}
