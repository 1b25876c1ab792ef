// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package mailer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/authme/internal/realm"
)

type captureDeliverer struct {
	mu       sync.Mutex
	messages []Message
}

func (capture *captureDeliverer) Deliver(_ context.Context, message Message) error {
	capture.mu.Lock()
	defer capture.mu.Unlock()
	capture.messages = append(capture.messages, message)
	return nil
}

func (capture *captureDeliverer) delivered() []Message {
	capture.mu.Lock()
	defer capture.mu.Unlock()
	return append([]Message(nil), capture.messages...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_DeliversQueuedMessages(t *testing.T) {
	capture := &captureDeliverer{}
	dispatcher := NewDispatcher(capture, discardLogger(), 8)

	dispatcher.Start(context.Background(), 1)
	dispatcher.Send(realm.SMTPConfig{Host: "mail.example.com"}, "user@example.com", "Verify your email", "click the link")
	dispatcher.Stop()

	messages := capture.delivered()
	require.Len(t, messages, 1)
	assert.Equal(t, "user@example.com", messages[0].To)
	assert.Equal(t, "Verify your email", messages[0].Subject)
}

func TestDispatcher_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	capture := &captureDeliverer{}
	dispatcher := NewDispatcher(capture, discardLogger(), 1)

	// Workers not started: the second send finds the queue full and must
	// return immediately.
	dispatcher.Send(realm.SMTPConfig{}, "first@example.com", "a", "b")
	dispatcher.Send(realm.SMTPConfig{}, "second@example.com", "a", "b")

	dispatcher.Start(context.Background(), 1)
	dispatcher.Stop()

	messages := capture.delivered()
	require.Len(t, messages, 1)
	assert.Equal(t, "first@example.com", messages[0].To)
}

func TestSMTPDeliverer_NoHostIsDisabled(t *testing.T) {
	deliverer := NewSMTPDeliverer()

	err := deliverer.Deliver(context.Background(), Message{To: "user@example.com"})

	assert.NoError(t, err)
}
