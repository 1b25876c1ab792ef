// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/constants"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/internal/platform/validate"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Contracts & Types

// MailSender is the send-email capability. Delivery is detached: the
// implementation queues the message and never blocks or fails the caller.
type MailSender interface {
	Send(smtp realm.SMTPConfig, to, subject, body string)
}

// Service implements user account lifecycle use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to password handling
// or the reset flow must be reviewed by the security team.
type Service struct {
	users        Repository
	policy       *Policy
	guard        *Guard
	verification VerificationTokenRepository
	mail         MailSender
	clock        clock.Clock
}

// NewService constructs a new user [Service] with necessary dependencies.
func NewService(
	users Repository,
	policy *Policy,
	guard *Guard,
	verification VerificationTokenRepository,
	mail MailSender,
	clk clock.Clock,
) *Service {
	return &Service{
		users:        users,
		policy:       policy,
		guard:        guard,
		verification: verification,
		mail:         mail,
		clock:        clk,
	}
}

// # Account Lifecycle

// CreateInput holds the data required to enroll a new account.
type CreateInput struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Password      string `json:"password"`
	Enabled       *bool  `json:"enabled"`
	EmailVerified bool   `json:"email_verified"`
}

/*
Create validates and persists a new user account within a realm.

Description: Admin-driven enrollment. An initial password is optional; when
present it must satisfy the realm's password policy. If the realm requires
email verification and the account is not pre-verified, a verification
email is queued.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - input: CreateInput

Returns:
  - *User: Created entity
  - error: Conflict (if identity exists), policy, or storage errors
*/
func (service *Service) Create(context context.Context, currentRealm *realm.Realm, input CreateInput) (*User, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)

	validator := &validate.Validator{}
	validator.Required(FieldUsername, input.Username).
		MinLen(FieldUsername, input.Username, 3).
		MaxLen(FieldUsername, input.Username, 255)
	if input.Email != "" {
		validator.Email(FieldEmail, input.Email)
	}
	if err := validator.Err(); err != nil {
		return nil, err
	}

	// Verify username uniqueness within the realm.
	if _, err := service.users.FindByUsername(context, currentRealm.ID, input.Username); err == nil {
		return nil, apperr.Conflict("Username is already taken")
	}

	// Verify email uniqueness within the realm.
	if input.Email != "" {
		if _, err := service.users.FindByEmail(context, currentRealm.ID, input.Email); err == nil {
			return nil, apperr.Conflict("Email is already registered")
		}
	}

	account := &User{
		ID:            uuid.New(),
		RealmID:       currentRealm.ID,
		Username:      input.Username,
		Email:         input.Email,
		EmailVerified: input.EmailVerified,
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		Enabled:       true,
	}
	if input.Enabled != nil {
		account.Enabled = *input.Enabled
	}

	if input.Password != "" {
		if err := service.policy.Validate(currentRealm, input.Password); err != nil {
			return nil, err
		}

		hash, err := sec.HashPassword(input.Password)
		if err != nil {
			return nil, fmt.Errorf("user_service_hash_failed: %w", err)
		}
		account.PasswordHash = hash
		now := service.clock.Now()
		account.PasswordChangedAt = &now
	}

	if err := service.users.Create(context, account); err != nil {
		return nil, fmt.Errorf("user_service_create_failed: %w", err)
	}

	if account.PasswordHash != "" {
		if err := service.policy.RecordHistory(context, currentRealm.ID, account.ID, account.PasswordHash, currentRealm.PasswordPolicy.HistoryCount); err != nil {
			return nil, fmt.Errorf("user_service_record_history_failed: %w", err)
		}
	}

	if currentRealm.RequireEmailVerification && account.Email != "" && !account.EmailVerified {
		service.sendVerificationEmail(context, currentRealm, account)
	}

	return account, nil
}

// RegisterInput holds the data for self-service registration.
type RegisterInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

/*
Register performs self-service enrollment when the realm allows it.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - input: RegisterInput

Returns:
  - *User: Created entity
  - error: Forbidden (registration disabled), conflict, policy, or storage errors
*/
func (service *Service) Register(context context.Context, currentRealm *realm.Realm, input RegisterInput) (*User, error) {
	if !currentRealm.RegistrationAllowed {
		return nil, apperr.Forbidden("Registration is disabled for this realm")
	}

	validator := &validate.Validator{}
	err := validator.
		Required(FieldEmail, input.Email).
		Email(FieldEmail, input.Email).
		Required(FieldPassword, input.Password).
		Err()
	if err != nil {
		return nil, err
	}

	return service.Create(context, currentRealm, CreateInput{
		Username:  input.Username,
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Password:  input.Password,
	})
}

/*
Get returns an account by ID within a realm.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - *User: Hydrated entity
  - error: Not found or storage errors
*/
func (service *Service) Get(context context.Context, realmID, id string) (*User, error) {
	return service.users.FindByID(context, realmID, id)
}

// IsEnabled reports whether the account exists and may sign in. Implements
// the session domain's account gate: a disabled account invalidates its
// live sessions.
func (service *Service) IsEnabled(context context.Context, realmID, id string) (bool, error) {
	account, err := service.users.FindByID(context, realmID, id)
	if err != nil {
		if apperr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return account.Enabled, nil
}

/*
List returns all accounts in a realm.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - []*User: Accounts
  - error: Storage errors
*/
func (service *Service) List(context context.Context, realmID string) ([]*User, error) {
	return service.users.List(context, realmID)
}

// UpdateInput holds mutable profile fields. Pointer fields distinguish
// "not provided" from zero values.
type UpdateInput struct {
	Email         *string `json:"email"`
	EmailVerified *bool   `json:"email_verified"`
	FirstName     *string `json:"first_name"`
	LastName      *string `json:"last_name"`
	Enabled       *bool   `json:"enabled"`
}

/*
Update applies a partial profile change.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - id: string
  - input: UpdateInput

Returns:
  - *User: Updated entity
  - error: Not found, validation, conflict, or storage errors
*/
func (service *Service) Update(context context.Context, currentRealm *realm.Realm, id string, input UpdateInput) (*User, error) {
	account, err := service.users.FindByID(context, currentRealm.ID, id)
	if err != nil {
		return nil, err
	}

	if input.Email != nil && *input.Email != account.Email {
		if *input.Email != "" {
			validator := &validate.Validator{}
			if err := validator.Email(FieldEmail, *input.Email).Err(); err != nil {
				return nil, err
			}
			if existing, err := service.users.FindByEmail(context, currentRealm.ID, *input.Email); err == nil && existing.ID != id {
				return nil, apperr.Conflict("Email is already registered")
			}
		}
		account.Email = *input.Email
		account.EmailVerified = false
	}
	if input.EmailVerified != nil {
		account.EmailVerified = *input.EmailVerified
	}
	if input.FirstName != nil {
		account.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		account.LastName = *input.LastName
	}
	if input.Enabled != nil {
		account.Enabled = *input.Enabled
	}

	if err := service.users.Update(context, account); err != nil {
		return nil, err
	}

	return account, nil
}

/*
Delete permanently removes an account and everything bound to it.

Parameters:
  - context: context.Context
  - realmID: string
  - id: string

Returns:
  - error: Not found or storage errors
*/
func (service *Service) Delete(context context.Context, realmID, id string) error {
	return service.users.Delete(context, realmID, id)
}

// # Password Management

/*
SetPassword replaces an account's password under the realm's policy.

Description: Validates complexity, rejects recent reuse via the history
check, then swaps the hash and records the new one in history.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - userID: string
  - newPassword: string

Returns:
  - error: Policy violation, not found, or storage errors
*/
func (service *Service) SetPassword(context context.Context, currentRealm *realm.Realm, userID, newPassword string) error {
	if err := service.policy.Validate(currentRealm, newPassword); err != nil {
		return err
	}

	historyCount := currentRealm.PasswordPolicy.HistoryCount
	reused, err := service.policy.CheckHistory(context, currentRealm.ID, userID, newPassword, historyCount)
	if err != nil {
		return err
	}
	if reused {
		return apperr.PolicyViolation(apperr.FieldError{
			Field:   FieldPassword,
			Message: "Password was used recently",
		})
	}

	hash, err := sec.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("user_service_hash_failed: %w", err)
	}

	if err := service.users.UpdatePassword(context, userID, hash, service.clock.Now()); err != nil {
		return err
	}

	return service.policy.RecordHistory(context, currentRealm.ID, userID, hash, historyCount)
}

/*
RequestPasswordReset issues a single-use reset token and queues the email.

Description: Always succeeds from the caller's perspective. An unknown email
does nothing, which keeps the endpoint enumeration-safe.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - email: string

Returns:
  - error: Storage failures only (never "user not found")
*/
func (service *Service) RequestPasswordReset(context context.Context, currentRealm *realm.Realm, email string) error {
	account, err := service.users.FindByEmail(context, currentRealm.ID, email)
	if err != nil {
		if apperr.HasCode(err, "NOT_FOUND") {
			return nil
		}
		return err
	}

	rawToken, err := sec.GenerateSecureToken(constants.TokenLength)
	if err != nil {
		return fmt.Errorf("user_service_reset_token_failed: %w", err)
	}

	err = service.verification.Set(context, PurposePasswordReset, sec.HashToken(rawToken), account.ID, constants.VerificationTokenTTL)
	if err != nil {
		return err
	}

	service.mail.Send(currentRealm.SMTP, account.Email,
		"Reset your password",
		fmt.Sprintf("Use this token to reset your %s password: %s", currentRealm.DisplayName, rawToken),
	)

	return nil
}

/*
ResetPassword consumes a reset token and sets the new password.

Description: Consumption is atomic; a token validates at most once. A
successful reset also clears the brute-force counter so a locked-out user
can log in with the new password immediately.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - rawToken: string
  - newPassword: string

Returns:
  - error: Not found (bad/expired token), policy violation, or storage errors
*/
func (service *Service) ResetPassword(context context.Context, currentRealm *realm.Realm, rawToken, newPassword string) error {
	userID, err := service.verification.Consume(context, PurposePasswordReset, sec.HashToken(rawToken))
	if err != nil {
		return err
	}

	// The token was minted in this realm's flow; refuse cross-realm use.
	if _, err := service.users.FindByID(context, currentRealm.ID, userID); err != nil {
		return apperr.NotFound("Verification token is invalid or expired")
	}

	if err := service.SetPassword(context, currentRealm, userID, newPassword); err != nil {
		return err
	}

	return service.guard.Reset(context, currentRealm.ID, userID)
}

// # Email Verification

/*
SendVerificationEmail issues a fresh email-verification token for a user.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - userID: string

Returns:
  - error: Not found or storage errors
*/
func (service *Service) SendVerificationEmail(context context.Context, currentRealm *realm.Realm, userID string) error {
	account, err := service.users.FindByID(context, currentRealm.ID, userID)
	if err != nil {
		return err
	}
	if account.Email == "" {
		return apperr.ValidationError("User has no email address")
	}

	service.sendVerificationEmail(context, currentRealm, account)
	return nil
}

/*
VerifyEmail consumes an email-verification token and marks the email verified.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - rawToken: string

Returns:
  - error: Not found (bad/expired token) or storage errors
*/
func (service *Service) VerifyEmail(context context.Context, currentRealm *realm.Realm, rawToken string) error {
	userID, err := service.verification.Consume(context, PurposeEmailVerification, sec.HashToken(rawToken))
	if err != nil {
		return err
	}

	if _, err := service.users.FindByID(context, currentRealm.ID, userID); err != nil {
		return apperr.NotFound("Verification token is invalid or expired")
	}

	return service.users.MarkEmailVerified(context, userID)
}

// # Lockout Administration

/*
Unlock clears the brute-force state for a user.

Parameters:
  - context: context.Context
  - realmID: string
  - userID: string

Returns:
  - error: Storage failures
*/
func (service *Service) Unlock(context context.Context, realmID, userID string) error {
	return service.guard.Reset(context, realmID, userID)
}

// # Service Accounts

/*
ProvisionServiceAccount creates the passwordless account backing a client's
client_credentials grant. The account is named service-account-{clientID};
if it already exists its ID is returned unchanged, so re-provisioning on
client updates is idempotent.

Parameters:
  - context: context.Context
  - realmID: string
  - clientID: string (the OAuth client_id)

Returns:
  - string: The service account's user ID
  - error: Storage failures
*/
func (service *Service) ProvisionServiceAccount(context context.Context, realmID, clientID string) (string, error) {
	username := "service-account-" + clientID

	existing, err := service.users.FindByUsername(context, realmID, username)
	if err == nil {
		return existing.ID, nil
	}
	if !apperr.IsNotFound(err) {
		return "", err
	}

	now := service.clock.Now()
	account := &User{
		ID:        uuid.New(),
		RealmID:   realmID,
		Username:  username,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := service.users.Create(context, account); err != nil {
		return "", err
	}
	return account.ID, nil
}

// sendVerificationEmail mints a token and queues the message. Token or queue
// failures are swallowed: email delivery must never fail the enclosing
// request.
func (service *Service) sendVerificationEmail(context context.Context, currentRealm *realm.Realm, account *User) {
	rawToken, err := sec.GenerateSecureToken(constants.TokenLength)
	if err != nil {
		return
	}
	if err := service.verification.Set(context, PurposeEmailVerification, sec.HashToken(rawToken), account.ID, constants.VerificationTokenTTL); err != nil {
		return
	}

	service.mail.Send(currentRealm.SMTP, account.Email,
		"Verify your email address",
		fmt.Sprintf("Use this token to verify your email for %s: %s", currentRealm.DisplayName, rawToken),
	)
}
