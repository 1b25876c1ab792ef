// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package mfa

import (
	"context"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Service Definition

// Service orchestrates TOTP enrolment, verification, and login challenges.
type Service struct {
	credentials CredentialRepository
	recovery    RecoveryCodeRepository
	challenges  ChallengeRepository
	wrapper     *sec.KeyWrapper
	clock       clock.Clock
}

// NewService wires the MFA service with its repositories and the master-key
// wrapper used to seal TOTP seeds at rest.
func NewService(
	credentials CredentialRepository,
	recovery RecoveryCodeRepository,
	challenges ChallengeRepository,
	wrapper *sec.KeyWrapper,
	clk clock.Clock,
) *Service {
	return &Service{
		credentials: credentials,
		recovery:    recovery,
		challenges:  challenges,
		wrapper:     wrapper,
		clock:       clk,
	}
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    Period,
		Skew:      0, // skew is handled step by step for the replay guard
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// # Enrolment

// Enrolment is handed to the user exactly once at setup time.
type Enrolment struct {
	// Secret is the Base32 seed for manual entry.
	Secret string `json:"secret"`
	// URI is the otpauth:// provisioning URI for QR rendering.
	URI string `json:"uri"`
}

/*
Enroll starts TOTP setup for a user.

The enrolment stays unconfirmed, and therefore inert at login, until the
user proves possession via [Service.Confirm]. Restarting setup replaces an
unconfirmed enrolment.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm (labels the authenticator entry)
  - userID: string
  - username: string

Returns:
  - *Enrolment: Seed and provisioning URI, plaintext, shown once
  - error: Generation or persistence failures
*/
func (service *Service) Enroll(context context.Context, currentRealm *realm.Realm, userID, username string) (*Enrolment, error) {
	if existing, err := service.credentials.FindByUser(context, currentRealm.ID, userID); err == nil && existing.Confirmed {
		return nil, apperr.Conflict("MFA is already configured for this account")
	}

	issuer := currentRealm.DisplayName
	if issuer == "" {
		issuer = currentRealm.Name
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: username,
		SecretSize:  SecretBytes,
		Period:      Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	sealed, err := service.wrapper.Seal([]byte(key.Secret()))
	if err != nil {
		return nil, apperr.Internal(err)
	}

	credential := &Credential{
		ID:           uuid.New(),
		RealmID:      currentRealm.ID,
		UserID:       userID,
		SecretSealed: sealed,
		CreatedAt:    service.clock.Now(),
	}
	if err := service.credentials.Create(context, credential); err != nil {
		return nil, err
	}

	return &Enrolment{Secret: key.Secret(), URI: key.URL()}, nil
}

/*
Confirm completes enrolment with a first valid code and mints the user's
recovery codes.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string
  - code: string

Returns:
  - []string: The recovery codes, plaintext, shown once
  - error: apperr.InvalidCredentials for a wrong code
*/
func (service *Service) Confirm(context context.Context, realmID, userID, code string) ([]string, error) {
	credential, err := service.credentials.FindByUser(context, realmID, userID)
	if err != nil {
		return nil, err
	}

	if err := service.checkTOTP(context, credential, code); err != nil {
		return nil, err
	}
	if err := service.credentials.Confirm(context, credential.ID); err != nil {
		return nil, err
	}

	return service.mintRecoveryCodes(context, userID)
}

// Enrolled reports whether the user has a confirmed second factor.
func (service *Service) Enrolled(context context.Context, realmID, userID string) (bool, error) {
	credential, err := service.credentials.FindByUser(context, realmID, userID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return credential.Confirmed, nil
}

/*
Disable removes the user's second factor and recovery codes. Used by the
account page and by administrators resetting a lost authenticator.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string

Returns:
  - error: Persistence failures
*/
func (service *Service) Disable(context context.Context, realmID, userID string) error {
	if err := service.credentials.Delete(context, realmID, userID); err != nil {
		return err
	}
	return service.recovery.Replace(context, userID, nil)
}

// # Verification

/*
Verify checks a one-time code or a recovery code for a confirmed enrolment.

TOTP codes from the current step and one step either side are accepted.
An accepted step is recorded with a conditional write, so submitting the
same code twice fails the second time. Recovery codes are single-use.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string
  - code: string

Returns:
  - error: apperr.InvalidCredentials for wrong, replayed, or used codes
*/
func (service *Service) Verify(context context.Context, realmID, userID, code string) error {
	credential, err := service.credentials.FindByUser(context, realmID, userID)
	if err != nil {
		return err
	}
	if !credential.Confirmed {
		return apperr.NotFound("MFA credential not found")
	}

	if err := service.checkTOTP(context, credential, code); err == nil {
		return nil
	} else if !apperr.HasCode(err, "INVALID_CREDENTIALS") {
		return err
	}

	// Fall back to a recovery code.
	normalized := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(code))
	if err := service.recovery.Consume(context, userID, sec.HashToken(normalized)); err != nil {
		if apperr.IsNotFound(err) {
			return apperr.InvalidCredentials()
		}
		return err
	}
	return nil
}

// checkTOTP matches the code against the accepted step window and claims
// the matched step.
func (service *Service) checkTOTP(context context.Context, credential *Credential, code string) error {
	secret, err := service.wrapper.Open(credential.SecretSealed)
	if err != nil {
		return apperr.Internal(err)
	}

	now := service.clock.Now()
	for offset := int64(-Skew); offset <= Skew; offset++ {
		at := now.Add(time.Duration(offset*Period) * time.Second)
		expected, err := totp.GenerateCodeCustom(string(secret), at, validateOpts())
		if err != nil {
			return apperr.Internal(err)
		}
		if !sec.ConstantTimeEquals(code, expected) {
			continue
		}

		step := at.Unix() / Period
		claimed, err := service.credentials.AdvanceLastUsedStep(context, credential.ID, step)
		if err != nil {
			return err
		}
		if !claimed {
			return apperr.InvalidCredentials() // replay of an accepted step
		}
		return nil
	}
	return apperr.InvalidCredentials()
}

// mintRecoveryCodes replaces the user's code set and returns the plaintext.
func (service *Service) mintRecoveryCodes(context context.Context, userID string) ([]string, error) {
	plaintext := make([]string, 0, RecoveryCodeCount)
	codes := make([]*RecoveryCode, 0, RecoveryCodeCount)

	for i := 0; i < RecoveryCodeCount; i++ {
		raw, err := sec.GenerateBase32Secret(8)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		code := raw[:RecoveryCodeLength]

		plaintext = append(plaintext, code)
		codes = append(codes, &RecoveryCode{
			ID:       uuid.New(),
			UserID:   userID,
			CodeHash: sec.HashToken(code),
		})
	}

	if err := service.recovery.Replace(context, userID, codes); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// RemainingRecoveryCodes returns how many fallback codes are left.
func (service *Service) RemainingRecoveryCodes(context context.Context, userID string) (int, error) {
	return service.recovery.CountUnused(context, userID)
}

// # Login Challenges

/*
CreateChallenge parks a login that passed the password step and now needs
a one-time code.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string
  - payload: map[string]string (the interrupted authorization parameters)

Returns:
  - *Challenge: The stored challenge, its ID goes into the MFA cookie
  - error: Storage failures
*/
func (service *Service) CreateChallenge(context context.Context, realmID, userID string, payload map[string]string) (*Challenge, error) {
	id, err := sec.GenerateSecureToken(ChallengeIDBytes)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	challenge := &Challenge{
		ID:        id,
		RealmID:   realmID,
		UserID:    userID,
		Payload:   payload,
		CreatedAt: service.clock.Now(),
	}
	if err := service.challenges.Create(context, challenge, ChallengeTTL); err != nil {
		return nil, err
	}
	return challenge, nil
}

/*
CompleteChallenge verifies a code against a pending challenge.

When the challenge belongs to a still-unconfirmed enrolment (a realm that
mandates MFA parks first-time users here during setup), a valid code
confirms the enrolment and the user's freshly minted recovery codes are
returned alongside the challenge.

A wrong code burns one attempt; the challenge is destroyed after
[MaxAttempts] failures or on success. The challenge itself is only removed
AFTER verification succeeds, so a dropped response never strands the user.

Parameters:
  - context: context.Context
  - challengeID: string
  - code: string

Returns:
  - *Challenge: The completed challenge with its parked payload
  - []string: Recovery codes, non-nil only when the code confirmed a
    pending enrolment
  - error: apperr.InvalidCredentials, or apperr.NotFound once destroyed
*/
func (service *Service) CompleteChallenge(context context.Context, challengeID, code string) (*Challenge, []string, error) {
	challenge, err := service.challenges.Find(context, challengeID)
	if err != nil {
		return nil, nil, err
	}

	recoveryCodes, err := service.completeFactor(context, challenge, code)
	if err != nil {
		if !apperr.HasCode(err, "INVALID_CREDENTIALS") {
			return nil, nil, err
		}

		attempts, recordErr := service.challenges.RecordFailure(context, challengeID)
		if recordErr != nil {
			return nil, nil, recordErr
		}
		if attempts >= MaxAttempts {
			_ = service.challenges.Delete(context, challengeID)
		}
		return nil, nil, apperr.InvalidCredentials()
	}

	if err := service.challenges.Delete(context, challengeID); err != nil {
		return nil, nil, err
	}
	return challenge, recoveryCodes, nil
}

// completeFactor verifies against a confirmed enrolment, or confirms a
// pending one with its first valid code.
func (service *Service) completeFactor(context context.Context, challenge *Challenge, code string) ([]string, error) {
	credential, err := service.credentials.FindByUser(context, challenge.RealmID, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if !credential.Confirmed {
		return service.Confirm(context, challenge.RealmID, challenge.UserID, code)
	}
	return nil, service.Verify(context, challenge.RealmID, challenge.UserID, code)
}
