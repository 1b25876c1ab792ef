// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/constants"
)

// # Challenge Repository

// RedisChallengeRepository implements [ChallengeRepository] on Redis.
// Expiry is server-side: an abandoned login leaves nothing behind.
type RedisChallengeRepository struct {
	client *redis.Client
}

// NewRedisChallengeRepository creates a Redis-backed challenge repository.
func NewRedisChallengeRepository(client *redis.Client) *RedisChallengeRepository {
	return &RedisChallengeRepository{client: client}
}

func challengeKey(id string) string {
	return constants.RedisPrefixMfaChallenge + id
}

func attemptsKey(id string) string {
	return constants.RedisPrefixMfaChallenge + id + ":attempts"
}

// Create stores a challenge under its identifier with a TTL.
func (repository *RedisChallengeRepository) Create(context context.Context, challenge *Challenge, ttl time.Duration) error {
	payload, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("redis_mfa_repo_marshal_failed: %w", err)
	}

	if err := repository.client.Set(context, challengeKey(challenge.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis_mfa_repo_create_failed: %w", err)
	}
	return nil
}

// Find returns a live challenge by identifier.
func (repository *RedisChallengeRepository) Find(context context.Context, id string) (*Challenge, error) {
	payload, err := repository.client.Get(context, challengeKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.NotFound("Challenge is invalid or expired")
		}
		return nil, fmt.Errorf("redis_mfa_repo_find_failed: %w", err)
	}

	challenge := &Challenge{}
	if err := json.Unmarshal(payload, challenge); err != nil {
		return nil, fmt.Errorf("redis_mfa_repo_unmarshal_failed: %w", err)
	}

	attempts, err := repository.client.Get(context, attemptsKey(id)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis_mfa_repo_attempts_failed: %w", err)
	}
	challenge.Attempts = attempts

	return challenge, nil
}

// RecordFailure increments the attempt counter. The counter expires with
// the challenge so it cannot outlive it.
func (repository *RedisChallengeRepository) RecordFailure(context context.Context, id string) (int, error) {
	attempts, err := repository.client.Incr(context, attemptsKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis_mfa_repo_record_failure_failed: %w", err)
	}

	if attempts == 1 {
		remaining, err := repository.client.TTL(context, challengeKey(id)).Result()
		if err == nil && remaining > 0 {
			_ = repository.client.Expire(context, attemptsKey(id), remaining).Err()
		}
	}
	return int(attempts), nil
}

// Delete removes a challenge and its attempt counter.
func (repository *RedisChallengeRepository) Delete(context context.Context, id string) error {
	if err := repository.client.Del(context, challengeKey(id), attemptsKey(id)).Err(); err != nil {
		return fmt.Errorf("redis_mfa_repo_delete_failed: %w", err)
	}
	return nil
}
