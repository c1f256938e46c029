package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/remarkable-relay/internal/userstore"
)

func seedStore(t *testing.T) userstore.Store {
	t.Helper()

	store, err := userstore.NewDirStore(filepath.Join(t.TempDir(), "db"), slog.Default())
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Merge(ctx, "100", userstore.Patch{}.WithToken("secret-token-a").WithHandle("alice"))
	require.NoError(t, err)

	_, err = store.Merge(ctx, "200", userstore.Patch{}.WithToken("secret-token-b").WithHandle("bob").
		WithPending(&userstore.PendingFile{Data: make([]byte, 2048), From: "alice", SharedAt: time.Now()}))
	require.NoError(t, err)

	return store
}

func TestCollectUsers(t *testing.T) {
	store := seedStore(t)

	rows, err := collectUsers(context.Background(), store, slog.Default())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "100", rows[0].Key)
	assert.Equal(t, "alice", rows[0].Handle)
	assert.True(t, rows[0].Registered)
	assert.Zero(t, rows[0].PendingBytes)

	assert.Equal(t, 2048, rows[1].PendingBytes)
	assert.Equal(t, "alice", rows[1].PendingFrom)
}

func TestPrintUsersJSON_NoTokens(t *testing.T) {
	store := seedStore(t)

	rows, err := collectUsers(context.Background(), store, slog.Default())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printUsersJSON(&buf, rows))

	assert.NotContains(t, buf.String(), "secret-token")

	scanner := bufio.NewScanner(&buf)
	lines := 0

	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		assert.Contains(t, row, "session_key")
		lines++
	}

	assert.Equal(t, 2, lines)
}

func TestPrintUsersTable(t *testing.T) {
	rows := []userRow{
		{Key: "100", Handle: "alice", Registered: true},
		{Key: "200", Handle: "bob", Registered: true, PendingBytes: 2048, PendingFrom: "alice"},
		{Key: "300"},
	}

	var buf bytes.Buffer
	printUsersTable(&buf, rows, time.Now())

	out := buf.String()
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "@alice")
	assert.Contains(t, out, "2.0 kB from @alice")
	assert.Contains(t, out, "false")
}
