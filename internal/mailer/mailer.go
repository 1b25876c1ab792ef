// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package mailer implements detached email delivery for verification and
password-reset messages.

# Delivery Contract

Sending never blocks and never fails the caller: [Dispatcher.Send] places
the message on a bounded queue and returns. Worker goroutines deliver in
the background with the per-realm SMTP settings carried on the message. A
full queue drops the message with a warning; the account flows that queue
mail are all recoverable by re-requesting the email.
*/
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"

	"github.com/taibuivan/authme/internal/realm"
)

// # Contracts & Types

// Message is one outbound email together with the realm SMTP settings it
// must be delivered through.
type Message struct {
	SMTP    realm.SMTPConfig
	To      string
	Subject string
	Body    string
}

// Deliverer performs one synchronous delivery attempt.
type Deliverer interface {
	Deliver(context context.Context, message Message) error
}

// # Dispatcher

// Dispatcher is the queue-backed [user.MailSender] implementation.
type Dispatcher struct {
	deliverer Deliverer
	logger    *slog.Logger

	queue     chan Message
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher constructs a dispatcher with a bounded queue.
func NewDispatcher(deliverer Deliverer, logger *slog.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		deliverer: deliverer,
		logger:    logger,
		queue:     make(chan Message, queueSize),
	}
}

// Start launches the delivery workers. The context cancels them.
func (dispatcher *Dispatcher) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		dispatcher.wg.Add(1)
		go dispatcher.worker(ctx)
	}
}

// Stop closes the queue and waits for in-flight deliveries.
func (dispatcher *Dispatcher) Stop() {
	dispatcher.closeOnce.Do(func() { close(dispatcher.queue) })
	dispatcher.wg.Wait()
}

// Send queues one message. Implements the send-email capability consumed
// by the user service.
func (dispatcher *Dispatcher) Send(smtpConfig realm.SMTPConfig, to, subject, body string) {
	message := Message{SMTP: smtpConfig, To: to, Subject: subject, Body: body}

	select {
	case dispatcher.queue <- message:
	default:
		dispatcher.logger.Warn("mail queue full, dropping message",
			slog.String("to", to),
			slog.String("subject", subject),
		)
	}
}

func (dispatcher *Dispatcher) worker(ctx context.Context) {
	defer dispatcher.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case message, open := <-dispatcher.queue:
			if !open {
				return
			}
			if err := dispatcher.deliverer.Deliver(ctx, message); err != nil {
				dispatcher.logger.Error("mail delivery failed",
					slog.String("to", message.To),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// # SMTP Delivery

// SMTPDeliverer delivers via the realm's configured SMTP relay.
type SMTPDeliverer struct{}

// NewSMTPDeliverer returns the SMTP-backed deliverer.
func NewSMTPDeliverer() *SMTPDeliverer {
	return &SMTPDeliverer{}
}

// Deliver performs one SMTP transaction. A realm without an SMTP host has
// mail silently disabled.
func (*SMTPDeliverer) Deliver(_ context.Context, message Message) error {
	if message.SMTP.Host == "" {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", message.SMTP.Host, message.SMTP.Port)

	var auth smtp.Auth
	if message.SMTP.Username != "" {
		auth = smtp.PlainAuth("", message.SMTP.Username, message.SMTP.Password, message.SMTP.Host)
	}

	payload := strings.Join([]string{
		"From: " + message.SMTP.From,
		"To: " + message.To,
		"Subject: " + message.Subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		message.Body,
	}, "\r\n")

	if err := smtp.SendMail(addr, auth, message.SMTP.From, []string{message.To}, []byte(payload)); err != nil {
		return fmt.Errorf("mailer_smtp_send_failed: %w", err)
	}
	return nil
}

// # Development Delivery

// LogDeliverer writes messages to the log instead of sending them. Used in
// development where no SMTP relay exists.
type LogDeliverer struct {
	logger *slog.Logger
}

// NewLogDeliverer returns a log-only deliverer.
func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

// Deliver logs the message and succeeds.
func (deliverer *LogDeliverer) Deliver(_ context.Context, message Message) error {
	deliverer.logger.Info("mail delivery (log only)",
		slog.String("to", message.To),
		slog.String("subject", message.Subject),
		slog.String("body", message.Body),
	)
	return nil
}
