package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/remarkable-relay/internal/userstore"
)

func newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users in the credential store",
		Long: `List every record in the credential store with its handle,
registration state and any pending transfer. Device tokens are never printed.

Output is a table on a terminal and JSON lines otherwise (or with --json).`,
		Args: cobra.NoArgs,
		RunE: runUsers,
	}
}

// userRow is the printable view of a store record.
type userRow struct {
	Key          string    `json:"session_key"`
	Handle       string    `json:"handle,omitempty"`
	Registered   bool      `json:"registered"`
	PendingBytes int       `json:"pending_bytes,omitempty"`
	PendingFrom  string    `json:"pending_from,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func runUsers(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(os.Stderr)

	store, err := openStore(cmd.Context(), resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := collectUsers(cmd.Context(), store, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON || !isatty.IsTerminal(os.Stdout.Fd()) {
		return printUsersJSON(out, rows)
	}

	printUsersTable(out, rows, time.Now())
	statusf("%d user(s)\n", len(rows))

	return nil
}

// collectUsers loads every record, skipping ones that fail to decode.
func collectUsers(ctx context.Context, store userstore.Store, logger *slog.Logger) ([]userRow, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	rows := make([]userRow, 0, len(keys))

	for _, key := range keys {
		rec, err := store.Get(ctx, key)
		if err != nil {
			logger.Warn("skipping unreadable record",
				slog.String("session_key", key),
				slog.String("error", err.Error()),
			)

			continue
		}

		if rec == nil {
			continue
		}

		row := userRow{
			Key:        key,
			Handle:     rec.Handle,
			Registered: rec.Registered(),
			UpdatedAt:  rec.UpdatedAt,
		}

		if rec.HasPending() {
			row.PendingBytes = len(rec.Pending.Data)
			row.PendingFrom = rec.Pending.From
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func printUsersJSON(w io.Writer, rows []userRow) error {
	enc := json.NewEncoder(w)

	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return fmt.Errorf("encoding user %s: %w", rows[i].Key, err)
		}
	}

	return nil
}

func printUsersTable(w io.Writer, rows []userRow, now time.Time) {
	table := make([][]string, 0, len(rows))

	for _, r := range rows {
		handle := "-"
		if r.Handle != "" {
			handle = "@" + r.Handle
		}

		pending := "-"
		if r.PendingBytes > 0 {
			pending = humanize.Bytes(uint64(r.PendingBytes))
			if r.PendingFrom != "" {
				pending += " from @" + r.PendingFrom
			}
		}

		table = append(table, []string{
			r.Key, handle, strconv.FormatBool(r.Registered), pending, formatTime(r.UpdatedAt, now),
		})
	}

	printTable(w, []string{"SESSION", "HANDLE", "REGISTERED", "PENDING", "UPDATED"}, table)
}
