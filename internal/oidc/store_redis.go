// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package oidc

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

// # Consent Request Repository

// RedisConsentRequestRepository holds paused authorization requests in
// Redis. The TTL bounds how long a consent screen may sit open; GETDEL
// makes consumption single-use.
type RedisConsentRequestRepository struct {
	client *redis.Client
}

// NewConsentRequestRepository creates a Redis-backed consent request
// repository.
func NewConsentRequestRepository(client *redis.Client) *RedisConsentRequestRepository {
	return &RedisConsentRequestRepository{client: client}
}

func consentRequestKey(id string) string {
	return constants.RedisPrefixConsentRequest + id
}

// Set stores a paused authorization request under its id with a TTL.
func (repository *RedisConsentRequestRepository) Set(context context.Context, request *ConsentRequest, ttl time.Duration) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("redis_consent_request_repo_encode_failed: %w", err)
	}

	if err := repository.client.Set(context, consentRequestKey(request.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis_consent_request_repo_set_failed: %w", err)
	}
	return nil
}

/*
Consume atomically retrieves and destroys a paused request.

Description: GETDEL makes read-and-invalidate a single atomic operation,
so one consent submission wins and any concurrent duplicate sees NotFound.

Parameters:
  - context: context.Context
  - id: string

Returns:
  - *ConsentRequest: The paused authorization request
  - error: apperr.NotFound when absent, expired, or already consumed
*/
func (repository *RedisConsentRequestRepository) Consume(context context.Context, id string) (*ConsentRequest, error) {
	payload, err := repository.client.GetDel(context, consentRequestKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.NotFound("Consent request is invalid or expired")
		}
		return nil, fmt.Errorf("redis_consent_request_repo_consume_failed: %w", err)
	}

	request := &ConsentRequest{}
	if err := json.Unmarshal([]byte(payload), request); err != nil {
		return nil, fmt.Errorf("redis_consent_request_repo_decode_failed: %w", err)
	}
	return request, nil
}

// # Device Poll Throttle

// RedisPollThrottle enforces the device-flow polling interval with SET NX:
// the first poll in each interval claims the key, later polls find it held.
type RedisPollThrottle struct {
	client *redis.Client
}

// NewPollThrottle creates a Redis-backed poll throttle.
func NewPollThrottle(client *redis.Client) *RedisPollThrottle {
	return &RedisPollThrottle{client: client}
}

// Acquire reports whether the device may poll now.
func (throttle *RedisPollThrottle) Acquire(context context.Context, deviceCodeID string, interval time.Duration) (bool, error) {
	acquired, err := throttle.client.SetNX(context, constants.RedisPrefixDevicePoll+deviceCodeID, 1, interval).Result()
	if err != nil {
		return false, fmt.Errorf("redis_device_poll_throttle_failed: %w", err)
	}
	return acquired, nil
}
