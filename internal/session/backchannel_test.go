// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/event"
	"github.com/taibuivan/authme/internal/platform/constants"
	"github.com/taibuivan/authme/internal/realm"
)

// # Test Doubles

type fakeClientSource struct {
	clients []*client.Client
}

func (source *fakeClientSource) ListWithBackchannel(_ context.Context, realmID string) ([]*client.Client, error) {
	matches := make([]*client.Client, 0)
	for _, candidate := range source.clients {
		if candidate.RealmID == realmID {
			matches = append(matches, candidate)
		}
	}
	return matches, nil
}

type staticSigner struct {
	token string
}

func (signer *staticSigner) LogoutToken(_ context.Context, _ *realm.Realm, _ *client.Client, _, _ string) (string, error) {
	return signer.token, nil
}

type logoutSink struct {
	mu     sync.Mutex
	tokens []string
	status []int
}

// handler records each delivery and answers with the next queued status
// code (200 once the queue is exhausted).
func (sink *logoutSink) handler(writer http.ResponseWriter, request *http.Request) {
	_ = request.ParseForm()

	sink.mu.Lock()
	sink.tokens = append(sink.tokens, request.PostFormValue("logout_token"))
	code := http.StatusOK
	if len(sink.status) > 0 {
		code = sink.status[0]
		sink.status = sink.status[1:]
	}
	sink.mu.Unlock()

	writer.WriteHeader(code)
}

func (sink *logoutSink) received() []string {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return append([]string(nil), sink.tokens...)
}

type captureSink struct {
	mu       sync.Mutex
	recorded []*event.Event
}

func (sink *captureSink) Record(recorded *event.Event) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.recorded = append(sink.recorded, recorded)
}

func (sink *captureSink) events() []*event.Event {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return append([]*event.Event(nil), sink.recorded...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// # Tests

func TestNotifier_DeliversLogoutToken(t *testing.T) {
	sink := &logoutSink{}
	server := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer server.Close()

	source := &fakeClientSource{clients: []*client.Client{{
		ID:                   "c-web",
		RealmID:              "realm-1",
		ClientID:             "web-app",
		BackchannelLogoutURI: server.URL,
	}}}
	audit := &captureSink{}
	notifier := NewNotifier(source, &staticSigner{token: "signed-logout-token"}, audit, quietLogger(), 8)

	notifier.Start(context.Background(), 1)
	notifier.EnqueueLogout(&realm.Realm{ID: "realm-1", Name: "acme"}, "user-1", "session-1")
	notifier.Stop()

	received := sink.received()
	require.Len(t, received, 1)
	assert.Equal(t, "signed-logout-token", received[0])
	assert.Empty(t, audit.events())
}

func TestNotifier_RetriesFailedDelivery(t *testing.T) {
	sink := &logoutSink{status: []int{http.StatusBadGateway}}
	server := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer server.Close()

	source := &fakeClientSource{clients: []*client.Client{{
		ID:                   "c-web",
		RealmID:              "realm-1",
		ClientID:             "web-app",
		BackchannelLogoutURI: server.URL,
	}}}
	audit := &captureSink{}
	notifier := NewNotifier(source, &staticSigner{token: "signed-logout-token"}, audit, quietLogger(), 8)

	notifier.Start(context.Background(), 1)
	notifier.EnqueueLogout(&realm.Realm{ID: "realm-1", Name: "acme"}, "user-1", "session-1")
	notifier.Stop()

	// First attempt answered 502, the retry succeeded.
	assert.Len(t, sink.received(), 2)
	assert.Empty(t, audit.events(), "a recovered delivery is not a drop")
}

func TestNotifier_ExhaustedRetriesRecordDrop(t *testing.T) {
	sink := &logoutSink{status: []int{
		http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway,
	}}
	server := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer server.Close()

	source := &fakeClientSource{clients: []*client.Client{{
		ID:                   "c-web",
		RealmID:              "realm-1",
		ClientID:             "web-app",
		BackchannelLogoutURI: server.URL,
	}}}
	audit := &captureSink{}
	notifier := NewNotifier(source, &staticSigner{token: "signed-logout-token"}, audit, quietLogger(), 8)

	notifier.Start(context.Background(), 1)
	notifier.EnqueueLogout(&realm.Realm{ID: "realm-1", Name: "acme"}, "user-1", "session-1")
	notifier.Stop()

	assert.Len(t, sink.received(), constants.BackchannelLogoutAttempts)

	recorded := audit.events()
	require.Len(t, recorded, 1)
	assert.Equal(t, event.KindLogoutDropped, recorded[0].Kind)
	assert.Equal(t, "realm-1", recorded[0].RealmID)
	assert.Equal(t, "user-1", recorded[0].UserID)
	assert.Equal(t, "web-app", recorded[0].ClientID)
	assert.Equal(t, "session-1", recorded[0].SessionID)
	assert.Equal(t, "delivery_failed", recorded[0].Detail["reason"])
}

func TestNotifier_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	sink := &logoutSink{}
	server := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer server.Close()

	source := &fakeClientSource{clients: []*client.Client{{
		ID:                   "c-web",
		RealmID:              "realm-1",
		ClientID:             "web-app",
		BackchannelLogoutURI: server.URL,
	}}}
	audit := &captureSink{}
	notifier := NewNotifier(source, &staticSigner{token: "signed-logout-token"}, audit, quietLogger(), 1)

	// Workers not started: the second enqueue finds the queue full and
	// must return immediately instead of blocking the logout request.
	notifier.EnqueueLogout(&realm.Realm{ID: "realm-1", Name: "acme"}, "user-1", "session-1")
	notifier.EnqueueLogout(&realm.Realm{ID: "realm-1", Name: "acme"}, "user-2", "session-2")

	notifier.Start(context.Background(), 1)
	notifier.Stop()

	assert.Len(t, sink.received(), 1)

	// The dropped notification is on the audit trail.
	recorded := audit.events()
	require.Len(t, recorded, 1)
	assert.Equal(t, event.KindLogoutDropped, recorded[0].Kind)
	assert.Equal(t, "user-2", recorded[0].UserID)
	assert.Equal(t, "queue_full", recorded[0].Detail["reason"])
}
