// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/event"
	"github.com/taibuivan/authme/internal/platform/constants"
	"github.com/taibuivan/authme/internal/realm"
)

// # Collaborator Contracts

// LogoutTokenSigner mints the OIDC back-channel logout token.
type LogoutTokenSigner interface {
	LogoutToken(context context.Context, currentRealm *realm.Realm, recipient *client.Client, userID, sessionID string) (string, error)
}

// EventRecorder is the fire-and-forget audit sink.
type EventRecorder interface {
	Record(event *event.Event)
}

// BackchannelClientSource lists a realm's clients subscribed to logout
// notifications.
type BackchannelClientSource interface {
	ListWithBackchannel(context context.Context, realmID string) ([]*client.Client, error)
}

// # Notifier

// Notifier delivers back-channel logout tokens from a bounded queue.
//
// # Delivery Contract
//
// Fire-and-forget: a full queue drops the notification rather than
// blocking the logout request. Each recipient gets up to
// [constants.BackchannelLogoutAttempts] attempts with exponential
// backoff. Every drop, whether from a full queue or exhausted retries,
// lands in the audit trail as a LOGOUT_DROPPED event.
type Notifier struct {
	clients BackchannelClientSource
	signer  LogoutTokenSigner
	events  EventRecorder
	logger  *slog.Logger

	httpClient *http.Client
	queue      chan logoutEvent
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type logoutEvent struct {
	realm     *realm.Realm
	userID    string
	sessionID string
}

// NewNotifier constructs a notifier with a bounded queue.
func NewNotifier(clients BackchannelClientSource, signer LogoutTokenSigner, events EventRecorder, logger *slog.Logger, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Notifier{
		clients: clients,
		signer:  signer,
		events:  events,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		queue: make(chan logoutEvent, queueSize),
	}
}

// Start launches the delivery workers. The context cancels them.
func (notifier *Notifier) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		notifier.wg.Add(1)
		go notifier.worker(ctx)
	}
}

// Stop closes the queue and waits for in-flight deliveries.
func (notifier *Notifier) Stop() {
	notifier.closeOnce.Do(func() { close(notifier.queue) })
	notifier.wg.Wait()
}

// EnqueueLogout implements [LogoutBroadcaster].
func (notifier *Notifier) EnqueueLogout(currentRealm *realm.Realm, userID, sessionID string) {
	select {
	case notifier.queue <- logoutEvent{realm: currentRealm, userID: userID, sessionID: sessionID}:
	default:
		notifier.logger.Warn("backchannel queue full, dropping logout notification",
			slog.String("realm", currentRealm.Name),
			slog.String("user_id", userID),
		)
		notifier.events.Record(&event.Event{
			RealmID:   currentRealm.ID,
			Kind:      event.KindLogoutDropped,
			UserID:    userID,
			SessionID: sessionID,
			Detail:    map[string]string{"reason": "queue_full"},
		})
	}
}

func (notifier *Notifier) worker(ctx context.Context) {
	defer notifier.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notification, open := <-notifier.queue:
			if !open {
				return
			}
			notifier.fanOut(ctx, notification)
		}
	}
}

// fanOut signs and delivers one logout to every subscribed client.
func (notifier *Notifier) fanOut(ctx context.Context, notification logoutEvent) {
	recipients, err := notifier.clients.ListWithBackchannel(ctx, notification.realm.ID)
	if err != nil {
		notifier.logger.Error("backchannel recipient lookup failed",
			slog.String("realm", notification.realm.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, recipient := range recipients {
		logoutToken, err := notifier.signer.LogoutToken(ctx, notification.realm, recipient, notification.userID, notification.sessionID)
		if err != nil {
			notifier.logger.Error("backchannel logout token signing failed",
				slog.String("realm", notification.realm.Name),
				slog.String("client_id", recipient.ClientID),
				slog.String("error", err.Error()),
			)
			continue
		}
		notifier.deliver(ctx, notification, recipient, logoutToken)
	}
}

// deliver posts the logout token with bounded retry.
func (notifier *Notifier) deliver(ctx context.Context, notification logoutEvent, recipient *client.Client, logoutToken string) {
	form := url.Values{"logout_token": {logoutToken}}.Encode()
	backoff := time.Second

	for attempt := 1; attempt <= constants.BackchannelLogoutAttempts; attempt++ {
		request, err := http.NewRequestWithContext(ctx, http.MethodPost,
			recipient.BackchannelLogoutURI, strings.NewReader(form))
		if err != nil {
			return
		}
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		response, err := notifier.httpClient.Do(request)
		if err == nil {
			_ = response.Body.Close()
			if response.StatusCode < 300 {
				return
			}
		}

		if attempt == constants.BackchannelLogoutAttempts {
			notifier.logger.Warn("backchannel logout delivery failed",
				slog.String("client_id", recipient.ClientID),
				slog.Int("attempts", attempt),
			)
			notifier.events.Record(&event.Event{
				RealmID:   notification.realm.ID,
				Kind:      event.KindLogoutDropped,
				UserID:    notification.userID,
				ClientID:  recipient.ClientID,
				SessionID: notification.sessionID,
				Detail:    map[string]string{"reason": "delivery_failed"},
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}
