// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ctxutil_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/authme/internal/platform/ctxutil"
	"github.com/taibuivan/authme/internal/realm"
)

/*
TestContext_RequestID verifies that Request IDs can be injected and retrieved.
*/
func TestContext_RequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "test-request-id"

	// 1. Initially should be empty
	assert.Empty(t, ctxutil.GetRequestID(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithRequestID(ctx, requestID)
	assert.Equal(t, requestID, ctxutil.GetRequestID(ctx))
}

/*
TestContext_Logger verifies that a custom logger can be stored in context.
*/
func TestContext_Logger(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// 1. Initially should return the default logger
	assert.Equal(t, slog.Default(), ctxutil.GetLogger(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithLogger(ctx, logger)
	assert.Equal(t, logger, ctxutil.GetLogger(ctx))
}

/*
TestContext_Realm verifies that a resolved realm can be stored in context.
*/
func TestContext_Realm(t *testing.T) {
	ctx := context.Background()
	tenant := &realm.Realm{ID: "realm-123", Name: "acme", Enabled: true}

	// 1. Initially should be nil
	assert.Nil(t, ctxutil.GetRealm(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithRealm(ctx, tenant)
	retrieved := ctxutil.GetRealm(ctx)

	assert.NotNil(t, retrieved)
	assert.Equal(t, "realm-123", retrieved.ID)
	assert.Equal(t, "acme", retrieved.Name)
}
