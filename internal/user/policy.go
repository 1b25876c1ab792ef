// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package user

import (
	"context"
	"time"
	"unicode"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Password Policy

// Policy enforces the realm's password complexity, age, and history rules.
type Policy struct {
	history HistoryRepository
	clock   clock.Clock
}

// NewPolicy constructs a password [Policy].
func NewPolicy(history HistoryRepository, clk clock.Clock) *Policy {
	return &Policy{history: history, clock: clk}
}

/*
Validate checks a candidate password against the realm's complexity rules.

Parameters:
  - currentRealm: *realm.Realm
  - password: string

Returns:
  - error: apperr.PolicyViolation carrying one field error per failed rule
*/
func (policy *Policy) Validate(currentRealm *realm.Realm, password string) error {
	rules := currentRealm.PasswordPolicy

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	var violations []apperr.FieldError
	if len(password) < rules.MinLength {
		violations = append(violations, apperr.FieldError{Field: FieldPassword, Message: "Password is too short"})
	}
	if rules.RequireUppercase && !hasUpper {
		violations = append(violations, apperr.FieldError{Field: FieldPassword, Message: "Password must contain an uppercase letter"})
	}
	if rules.RequireLowercase && !hasLower {
		violations = append(violations, apperr.FieldError{Field: FieldPassword, Message: "Password must contain a lowercase letter"})
	}
	if rules.RequireDigits && !hasDigit {
		violations = append(violations, apperr.FieldError{Field: FieldPassword, Message: "Password must contain a digit"})
	}
	if rules.RequireSpecial && !hasSpecial {
		violations = append(violations, apperr.FieldError{Field: FieldPassword, Message: "Password must contain a special character"})
	}

	if len(violations) > 0 {
		return apperr.PolicyViolation(violations...)
	}
	return nil
}

/*
IsExpired reports whether the user's password has aged out.

Parameters:
  - user: *User
  - currentRealm: *realm.Realm

Returns:
  - bool: true when maxAgeDays > 0 and the password is older than it
*/
func (policy *Policy) IsExpired(user *User, currentRealm *realm.Realm) bool {
	maxAgeDays := currentRealm.PasswordPolicy.MaxAgeDays
	if maxAgeDays <= 0 || user.PasswordChangedAt == nil {
		return false
	}

	deadline := user.PasswordChangedAt.Add(time.Duration(maxAgeDays) * 24 * time.Hour)
	return policy.clock.Now().After(deadline)
}

/*
CheckHistory reports whether the candidate password was recently used.

Description: Verifies the plaintext against each of the last n retired
hashes. Argon2id salts differ per hash, so each must be verified
individually.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string
  - newPassword: string
  - n: int (realm's historyCount; 0 disables the check)

Returns:
  - bool: true when the password matches a retired hash
  - error: Storage failures
*/
func (policy *Policy) CheckHistory(context context.Context, realmID, userID, newPassword string, n int) (bool, error) {
	if n <= 0 {
		return false, nil
	}

	hashes, err := policy.history.LastN(context, realmID, userID, n)
	if err != nil {
		return false, err
	}

	for _, hash := range hashes {
		if sec.CheckPasswordHash(newPassword, hash) {
			return true, nil
		}
	}
	return false, nil
}

/*
RecordHistory appends a retired hash and prunes retention to n entries.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string
  - hash: string
  - n: int

Returns:
  - error: Storage failures
*/
func (policy *Policy) RecordHistory(context context.Context, realmID, userID, hash string, n int) error {
	if n <= 0 {
		return nil
	}

	return policy.history.Append(context, &PasswordHistoryEntry{
		ID:           uuid.New(),
		UserID:       userID,
		RealmID:      realmID,
		PasswordHash: hash,
		CreatedAt:    policy.clock.Now(),
	}, n)
}
