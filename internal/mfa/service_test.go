// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package mfa_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/authme/internal/mfa"
	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/realm"
)

// # Fakes

type fakeCredentialRepo struct {
	mu     sync.Mutex
	byUser map[string]*mfa.Credential // keyed by userID
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{byUser: map[string]*mfa.Credential{}}
}

func (f *fakeCredentialRepo) Create(_ context.Context, credential *mfa.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *credential
	f.byUser[credential.UserID] = &copied
	return nil
}

func (f *fakeCredentialRepo) FindByUser(_ context.Context, realmID, userID string) (*mfa.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	credential, ok := f.byUser[userID]
	if !ok || credential.RealmID != realmID {
		return nil, apperr.NotFound("MFA credential not found")
	}
	copied := *credential
	return &copied, nil
}

func (f *fakeCredentialRepo) Confirm(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, credential := range f.byUser {
		if credential.ID == id {
			credential.Confirmed = true
			return nil
		}
	}
	return apperr.NotFound("MFA credential not found")
}

func (f *fakeCredentialRepo) AdvanceLastUsedStep(_ context.Context, id string, step int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, credential := range f.byUser {
		if credential.ID == id {
			if credential.LastUsedStep >= step {
				return false, nil
			}
			credential.LastUsedStep = step
			return true, nil
		}
	}
	return false, apperr.NotFound("MFA credential not found")
}

func (f *fakeCredentialRepo) Delete(_ context.Context, realmID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	credential, ok := f.byUser[userID]
	if !ok || credential.RealmID != realmID {
		return apperr.NotFound("MFA credential not found")
	}
	delete(f.byUser, userID)
	return nil
}

type fakeRecoveryRepo struct {
	mu     sync.Mutex
	byUser map[string][]*mfa.RecoveryCode
}

func newFakeRecoveryRepo() *fakeRecoveryRepo {
	return &fakeRecoveryRepo{byUser: map[string][]*mfa.RecoveryCode{}}
}

func (f *fakeRecoveryRepo) Replace(_ context.Context, userID string, codes []*mfa.RecoveryCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]*mfa.RecoveryCode, 0, len(codes))
	for _, code := range codes {
		c := *code
		copied = append(copied, &c)
	}
	f.byUser[userID] = copied
	return nil
}

func (f *fakeRecoveryRepo) Consume(_ context.Context, userID, codeHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, code := range f.byUser[userID] {
		if code.CodeHash == codeHash && !code.Used {
			code.Used = true
			return nil
		}
	}
	return apperr.NotFound("Recovery code is invalid or already used")
}

func (f *fakeRecoveryRepo) CountUnused(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, code := range f.byUser[userID] {
		if !code.Used {
			count++
		}
	}
	return count, nil
}

type fakeChallengeRepo struct {
	mu       sync.Mutex
	byID     map[string]*mfa.Challenge
	attempts map[string]int
}

func newFakeChallengeRepo() *fakeChallengeRepo {
	return &fakeChallengeRepo{byID: map[string]*mfa.Challenge{}, attempts: map[string]int{}}
}

func (f *fakeChallengeRepo) Create(_ context.Context, challenge *mfa.Challenge, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *challenge
	f.byID[challenge.ID] = &copied
	return nil
}

func (f *fakeChallengeRepo) Find(_ context.Context, id string) (*mfa.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	challenge, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("Challenge is invalid or expired")
	}
	copied := *challenge
	copied.Attempts = f.attempts[id]
	return &copied, nil
}

func (f *fakeChallengeRepo) RecordFailure(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	return f.attempts[id], nil
}

func (f *fakeChallengeRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	delete(f.attempts, id)
	return nil
}

// # Fixtures

type fixture struct {
	service *mfa.Service
	clock   *clock.Fake
	realm   *realm.Realm
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	wrapper, err := sec.NewKeyWrapper(strings.Repeat("ef", 32))
	require.NoError(t, err)

	fixed := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := mfa.NewService(
		newFakeCredentialRepo(), newFakeRecoveryRepo(), newFakeChallengeRepo(), wrapper, fixed)

	return &fixture{
		service: service,
		clock:   fixed,
		realm:   &realm.Realm{ID: "realm-1", Name: "acme", DisplayName: "Acme Corp"},
	}
}

// codeAt computes the expected TOTP code for the fixture clock's instant.
func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period: mfa.Period, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

// enrolled enrolls and confirms user-1, returning the seed and the recovery
// codes.
func (f *fixture) enrolled(t *testing.T) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrolment, err := f.service.Enroll(ctx, f.realm, "user-1", "alice")
	require.NoError(t, err)

	recovery, err := f.service.Confirm(ctx, f.realm.ID, "user-1", codeAt(t, enrolment.Secret, f.clock.Now()))
	require.NoError(t, err)

	// Confirm consumed the current step; move clear of it so the adjacent
	// step window in later tests never touches the confirmed step.
	f.clock.Advance(2 * mfa.Period * time.Second)
	return enrolment.Secret, recovery
}

// # Enrolment Tests

/*
TestEnroll_ConfirmMintsRecoveryCodes walks the full setup path.
*/
func TestEnroll_ConfirmMintsRecoveryCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enrolment, err := f.service.Enroll(ctx, f.realm, "user-1", "alice")
	require.NoError(t, err)

	assert.NotEmpty(t, enrolment.Secret)
	assert.Contains(t, enrolment.URI, "otpauth://totp/")
	assert.Contains(t, enrolment.URI, "Acme%20Corp")

	// Unconfirmed enrolments are inert at login.
	enrolledYet, err := f.service.Enrolled(ctx, f.realm.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, enrolledYet)

	recovery, err := f.service.Confirm(ctx, f.realm.ID, "user-1", codeAt(t, enrolment.Secret, f.clock.Now()))
	require.NoError(t, err)
	assert.Len(t, recovery, mfa.RecoveryCodeCount)
	for _, code := range recovery {
		assert.Len(t, code, mfa.RecoveryCodeLength)
	}

	enrolledNow, err := f.service.Enrolled(ctx, f.realm.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, enrolledNow)
}

/*
TestEnroll_ConfirmedBlocksReEnrolment prevents silent seed replacement.
*/
func TestEnroll_ConfirmedBlocksReEnrolment(t *testing.T) {
	f := newFixture(t)
	f.enrolled(t)

	_, err := f.service.Enroll(context.Background(), f.realm, "user-1", "alice")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, "CONFLICT"))
}

/*
TestConfirm_WrongCode leaves the enrolment unconfirmed.
*/
func TestConfirm_WrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Enroll(ctx, f.realm, "user-1", "alice")
	require.NoError(t, err)

	_, err = f.service.Confirm(ctx, f.realm.ID, "user-1", "000000")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, "INVALID_CREDENTIALS"))

	enrolledNow, err := f.service.Enrolled(ctx, f.realm.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, enrolledNow)
}

// # Verification Tests

/*
TestVerify_AcceptsAdjacentSteps allows one step of clock drift either way.
*/
func TestVerify_AcceptsAdjacentSteps(t *testing.T) {
	f := newFixture(t)
	secret, _ := f.enrolled(t)
	ctx := context.Background()

	// Code from the previous step (device running slow)
	behind := codeAt(t, secret, f.clock.Now().Add(-mfa.Period*time.Second))
	assert.NoError(t, f.service.Verify(ctx, f.realm.ID, "user-1", behind))

	f.clock.Advance(2 * mfa.Period * time.Second)

	// Code from the next step (device running fast)
	ahead := codeAt(t, secret, f.clock.Now().Add(mfa.Period*time.Second))
	assert.NoError(t, f.service.Verify(ctx, f.realm.ID, "user-1", ahead))
}

/*
TestVerify_ReplayRejected verifies an accepted code cannot be used again.
*/
func TestVerify_ReplayRejected(t *testing.T) {
	f := newFixture(t)
	secret, _ := f.enrolled(t)
	ctx := context.Background()

	code := codeAt(t, secret, f.clock.Now())
	require.NoError(t, f.service.Verify(ctx, f.realm.ID, "user-1", code))

	err := f.service.Verify(ctx, f.realm.ID, "user-1", code)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, "INVALID_CREDENTIALS"))

	// The next step yields a fresh, valid code.
	f.clock.Advance(mfa.Period * time.Second)
	assert.NoError(t, f.service.Verify(ctx, f.realm.ID, "user-1", codeAt(t, secret, f.clock.Now())))
}

/*
TestVerify_RecoveryCodeSingleUse burns a fallback code exactly once.
*/
func TestVerify_RecoveryCodeSingleUse(t *testing.T) {
	f := newFixture(t)
	_, recovery := f.enrolled(t)
	ctx := context.Background()

	require.NoError(t, f.service.Verify(ctx, f.realm.ID, "user-1", recovery[0]))

	remaining, err := f.service.RemainingRecoveryCodes(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, mfa.RecoveryCodeCount-1, remaining)

	err = f.service.Verify(ctx, f.realm.ID, "user-1", recovery[0])
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, "INVALID_CREDENTIALS"))
}

/*
TestDisable_RemovesCredentialAndCodes verifies teardown.
*/
func TestDisable_RemovesCredentialAndCodes(t *testing.T) {
	f := newFixture(t)
	f.enrolled(t)
	ctx := context.Background()

	require.NoError(t, f.service.Disable(ctx, f.realm.ID, "user-1"))

	enrolledNow, err := f.service.Enrolled(ctx, f.realm.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, enrolledNow)

	remaining, err := f.service.RemainingRecoveryCodes(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

// # Challenge Tests

/*
TestChallenge_SuccessReturnsParkedPayload completes the two-step login.
*/
func TestChallenge_SuccessReturnsParkedPayload(t *testing.T) {
	f := newFixture(t)
	secret, _ := f.enrolled(t)
	ctx := context.Background()

	payload := map[string]string{"client_id": "web-app", "state": "xyz"}
	challenge, err := f.service.CreateChallenge(ctx, f.realm.ID, "user-1", payload)
	require.NoError(t, err)
	require.NotEmpty(t, challenge.ID)

	completed, recovery, err := f.service.CompleteChallenge(ctx, challenge.ID, codeAt(t, secret, f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", completed.UserID)
	assert.Equal(t, payload, completed.Payload)
	assert.Empty(t, recovery)

	// The challenge is single-use.
	_, _, err = f.service.CompleteChallenge(ctx, challenge.ID, codeAt(t, secret, f.clock.Now()))
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

/*
TestChallenge_ConfirmsPendingEnrolment covers the mandatory-MFA setup leg:
a challenge parked against an unconfirmed credential is completed by the
first valid code, which also confirms the enrolment and mints recovery
codes.
*/
func TestChallenge_ConfirmsPendingEnrolment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enrolment, err := f.service.Enroll(ctx, f.realm, "user-1", "alice")
	require.NoError(t, err)

	challenge, err := f.service.CreateChallenge(ctx, f.realm.ID, "user-1", nil)
	require.NoError(t, err)

	completed, recovery, err := f.service.CompleteChallenge(ctx, challenge.ID,
		codeAt(t, enrolment.Secret, f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", completed.UserID)
	assert.Len(t, recovery, mfa.RecoveryCodeCount)

	enrolledNow, err := f.service.Enrolled(ctx, f.realm.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, enrolledNow)
}

/*
TestChallenge_AttemptExhaustion destroys the challenge after the limit.
*/
func TestChallenge_AttemptExhaustion(t *testing.T) {
	f := newFixture(t)
	secret, _ := f.enrolled(t)
	ctx := context.Background()

	challenge, err := f.service.CreateChallenge(ctx, f.realm.ID, "user-1", nil)
	require.NoError(t, err)

	for i := 0; i < mfa.MaxAttempts; i++ {
		_, _, err := f.service.CompleteChallenge(ctx, challenge.ID, "000000")
		require.Error(t, err)
		assert.True(t, apperr.HasCode(err, "INVALID_CREDENTIALS"))
	}

	// Destroyed: even the right code is refused now.
	_, _, err = f.service.CompleteChallenge(ctx, challenge.ID, codeAt(t, secret, f.clock.Now()))
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}
