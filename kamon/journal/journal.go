// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package journal keeps an append-only sqlite record of sync outcomes.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	_ "modernc.org/sqlite"

	"github.com/henkaku/kamonsync/kamon"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// errOutOfRange is returned for token ids or point totals sqlite cannot hold.
var errOutOfRange = errors.New("journal: value out of int64 range")

// Journal stores terminal outcomes of sync cycles.
type Journal struct {
	db *sql.DB
}

var _ kamon.History = (*Journal)(nil)

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends an outcome. Recording the same cycle twice is a no-op.
func (j *Journal) Record(ctx context.Context, out kamon.Outcome) error {
	// sqlite integers are signed 64-bit
	if out.TokenID > math.MaxInt64 || out.Points > math.MaxInt64 {
		return fmt.Errorf("record outcome %s: %w", out.Cycle, errOutOfRange)
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO outcomes(cycle_id,ts,owner,kind,token_id,points,metadata_uri,payload_hash,tx_hash,error)
		VALUES (?,?,?,?,?,?,?,?,?,?) ON CONFLICT(cycle_id) DO NOTHING`,
		out.Cycle,
		out.Time.UTC().Format(time.RFC3339Nano),
		out.Owner.Hex(),
		out.Kind.String(),
		int64(out.TokenID),
		int64(out.Points),
		nullable(out.MetadataURI),
		nullableHash(out.PayloadHash),
		nullableHash(out.TxHash),
		nullable(out.Reason),
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", out.Cycle, err)
	}
	return nil
}

// Recent implements kamon.History.
func (j *Journal) Recent(ctx context.Context, owner *common.Address, limit int) ([]kamon.Outcome, error) {
	query := `SELECT cycle_id,ts,owner,kind,token_id,points,metadata_uri,payload_hash,tx_hash,error FROM outcomes`
	args := []any{}
	if owner != nil {
		query += ` WHERE owner = ?`
		args = append(args, owner.Hex())
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []kamon.Outcome{}
	for rows.Next() {
		var (
			out                            kamon.Outcome
			ts, ownerHex, kind             string
			tokenID, points                int64
			uri, payloadHash, txHash, errs sql.NullString
		)
		if err := rows.Scan(&out.Cycle, &ts, &ownerHex, &kind, &tokenID, &points, &uri, &payloadHash, &txHash, &errs); err != nil {
			return nil, err
		}
		if tokenID < 0 || points < 0 {
			return nil, fmt.Errorf("outcome %s: %w", out.Cycle, errOutOfRange)
		}
		if out.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("outcome %s: bad timestamp: %w", out.Cycle, err)
		}
		if err := out.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, err
		}
		out.Owner = common.HexToAddress(ownerHex)
		out.TokenID = uint64(tokenID)
		out.Points = uint64(points)
		out.MetadataURI = uri.String
		out.PayloadHash = common.HexToHash(payloadHash.String)
		out.TxHash = common.HexToHash(txHash.String)
		out.Reason = errs.String
		outcomes = append(outcomes, out)
	}
	return outcomes, rows.Err()
}

// OutcomeSource is anything publishing sync outcomes.
type OutcomeSource interface {
	SubscribeOutcomes(ch chan<- kamon.Outcome) event.Subscription
}

// Follow records every outcome src publishes until the returned subscription
// is unsubscribed or src shuts down.
func (j *Journal) Follow(src OutcomeSource) event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ch := make(chan kamon.Outcome, 64)
		sub := src.SubscribeOutcomes(ch)
		defer sub.Unsubscribe()

		for {
			select {
			case out := <-ch:
				if err := j.Record(context.Background(), out); err != nil {
					log.Error("Failed to journal sync outcome", "cycle", out.Cycle, "err", err)
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableHash(h common.Hash) any {
	if h == (common.Hash{}) {
		return nil
	}
	return h.Hex()
}

// migrate applies the embedded migrations in filename order.
func migrate(db *sql.DB) error {
	files, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return err
	}
	type migration struct {
		version int
		name    string
	}
	var migrations []migration
	for _, f := range files {
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		migrations = append(migrations, migration{version: v, name: f.Name()})
	}
	sort.Slice(migrations, func(i, k int) bool { return migrations[i].version < migrations[k].version })

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		body, err := migrationsFS.ReadFile("sql/" + m.name)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, m.version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = m.version
	}
	return tx.Commit()
}
