package execstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS execution_receipts (
	execution_id    TEXT PRIMARY KEY,
	handoff_id      TEXT UNIQUE NOT NULL,
	idempotency_key TEXT UNIQUE NOT NULL,
	proposal_id     TEXT NOT NULL,
	actor_id        TEXT NOT NULL,
	town_id         TEXT NOT NULL,
	proposal_type   TEXT NOT NULL,
	status          TEXT NOT NULL,
	reason_code     TEXT NOT NULL,
	payload_json    TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_status_created
	ON execution_receipts (status, created_at DESC);

CREATE TABLE IF NOT EXISTS execution_pending (
	pending_id      TEXT PRIMARY KEY,
	handoff_id      TEXT UNIQUE NOT NULL,
	idempotency_key TEXT UNIQUE NOT NULL,
	proposal_id     TEXT NOT NULL,
	status          TEXT NOT NULL,
	payload_json    TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_updated
	ON execution_pending (updated_at DESC);

CREATE TABLE IF NOT EXISTS execution_event_ledger (
	event_id        TEXT PRIMARY KEY,
	handoff_id      TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	execution_id    TEXT NOT NULL,
	kind            TEXT NOT NULL,
	status          TEXT NOT NULL,
	reason_code     TEXT NOT NULL,
	payload_json    TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_handoff_created
	ON execution_event_ledger (handoff_id, created_at DESC);

CREATE TABLE IF NOT EXISTS world_chronicle_records (
	record_id    TEXT PRIMARY KEY,
	source_id    TEXT UNIQUE NOT NULL,
	entry_type   TEXT NOT NULL,
	town_id      TEXT,
	faction_id   TEXT,
	at           TEXT NOT NULL,
	message      TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chronicle_at
	ON world_chronicle_records (at DESC, record_id DESC);
CREATE INDEX IF NOT EXISTS idx_chronicle_town
	ON world_chronicle_records (town_id, at DESC);
CREATE INDEX IF NOT EXISTS idx_chronicle_faction
	ON world_chronicle_records (faction_id, at DESC);
`

// SQLStore is the SQLite-backed execution store. Mutations run inside
// immediate transactions so concurrent writers serialize at BEGIN.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (and migrates) the SQLite database at path. Pass
// ":memory:" for an ephemeral store.
func OpenSQLStore(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &memstore.FatalError{Op: "open sqlite", Err: err}
	}
	// SQLite serializes writers; a second connection would only add lock
	// contention inside our own process.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, &memstore.FatalError{Op: "migrate sqlite schema", Err: err}
	}
	return &SQLStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// FindReceipt returns the receipt matching the handoff id or idempotency key.
func (s *SQLStore) FindReceipt(handoffID, idempotencyKey string) (*world.ExecutionResult, error) {
	row := s.db.QueryRow(
		`SELECT payload_json FROM execution_receipts
		 WHERE handoff_id = ? OR idempotency_key = ? LIMIT 1`,
		handoffID, idempotencyKey)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &memstore.FatalError{Op: "find receipt", Err: err}
	}
	var res world.ExecutionResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, &memstore.FatalError{Op: "decode receipt", Err: err}
	}
	return &res, nil
}

// FindPendingExecution returns the pending record matching either identity.
func (s *SQLStore) FindPendingExecution(handoffID, idempotencyKey string) (*world.PendingRecord, error) {
	row := s.db.QueryRow(
		`SELECT payload_json FROM execution_pending
		 WHERE handoff_id = ? OR idempotency_key = ? LIMIT 1`,
		handoffID, idempotencyKey)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &memstore.FatalError{Op: "find pending", Err: err}
	}
	var rec world.PendingRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, &memstore.FatalError{Op: "decode pending", Err: err}
	}
	return &rec, nil
}

// ListPendingExecutions returns all pending records, oldest staged first.
func (s *SQLStore) ListPendingExecutions() ([]*world.PendingRecord, error) {
	rows, err := s.db.Query(`SELECT payload_json FROM execution_pending ORDER BY created_at, pending_id`)
	if err != nil {
		return nil, &memstore.FatalError{Op: "list pending", Err: err}
	}
	defer rows.Close()
	out := []*world.PendingRecord{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, &memstore.FatalError{Op: "scan pending", Err: err}
		}
		var rec world.PendingRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// StagePendingExecution inserts or replaces the pending record.
func (s *SQLStore) StagePendingExecution(rec *world.PendingRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("execstore: marshal pending: %w", err)
	}
	at := ledgerAt(rec.HandoffID, "pending", 1)
	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO execution_pending
			 (pending_id, handoff_id, idempotency_key, proposal_id, status, payload_json, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			"pend_"+rec.HandoffID, rec.HandoffID, rec.IdempotencyKey, rec.ProposalID,
			"in_flight", string(payload), at, at)
		return err
	})
}

// MarkPendingExecutionProgress updates the step bookkeeping.
func (s *SQLStore) MarkPendingExecutionProgress(handoffID string, completed int, lastApplied string) error {
	rec, err := s.FindPendingExecution(handoffID, "")
	if err != nil || rec == nil {
		return err
	}
	rec.CompletedCommandCount = completed
	rec.LastAppliedCommand = lastApplied
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("execstore: marshal pending: %w", err)
	}
	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE execution_pending SET payload_json = ?, updated_at = ? WHERE handoff_id = ?`,
			string(payload), ledgerAt(handoffID, "progress", 1), handoffID)
		return err
	})
}

// ClearPendingExecution drops pending rows matching either identity.
func (s *SQLStore) ClearPendingExecution(handoffID, idempotencyKey string) error {
	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`DELETE FROM execution_pending WHERE handoff_id = ? OR idempotency_key = ?`,
			handoffID, idempotencyKey)
		return err
	})
}

// RecordResult writes the receipt and ledger row in one immediate
// transaction, clearing matching pending rows unless told otherwise.
func (s *SQLStore) RecordResult(res *world.ExecutionResult, entry *world.LedgerEntry, opts RecordOptions) error {
	receiptPayload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("execstore: marshal receipt: %w", err)
	}
	ledgerPayload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("execstore: marshal ledger entry: %w", err)
	}
	return s.inTx(func(tx *sql.Tx) error {
		if opts.PersistReceipt {
			_, err := tx.Exec(
				`INSERT OR REPLACE INTO execution_receipts
				 (execution_id, handoff_id, idempotency_key, proposal_id, actor_id, town_id,
				  proposal_type, status, reason_code, payload_json, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				res.ExecutionID, res.HandoffID, res.IdempotencyKey, res.ProposalID,
				res.ActorID, res.TownID, res.ProposalType, res.Status, res.ReasonCode,
				string(receiptPayload), ledgerAt(res.ExecutionID, "receipt", entry.Day))
			if err != nil {
				return err
			}
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO execution_event_ledger
			 (event_id, handoff_id, idempotency_key, execution_id, kind, status, reason_code, payload_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.HandoffID, entry.IdempotencyKey, entry.ExecutionID,
			entry.Kind, entry.Status, entry.ReasonCode, string(ledgerPayload),
			ledgerAt(entry.ExecutionID, entry.Kind, entry.Day)); err != nil {
			return err
		}
		if opts.ClearPending {
			if _, err := tx.Exec(
				`DELETE FROM execution_pending WHERE handoff_id = ? OR idempotency_key = ?`,
				res.HandoffID, res.IdempotencyKey); err != nil {
				return err
			}
		}
		return nil
	})
}

// SyncWorldMemoryFromSnapshot upserts the snapshot's chronicle into the
// chronicle table.
func (s *SQLStore) SyncWorldMemoryFromSnapshot(snap *world.Snapshot) error {
	return s.inTx(func(tx *sql.Tx) error {
		for _, e := range snap.World.Chronicle {
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := tx.Exec(
				`INSERT OR REPLACE INTO world_chronicle_records
				 (record_id, source_id, entry_type, town_id, faction_id, at, message, payload_json, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				"wcr_"+e.ID, e.ID, e.EntryType, e.TownID, e.FactionID, e.At,
				e.Message, string(payload), e.At, e.At); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListChronicleRecords queries the chronicle table, newest first.
func (s *SQLStore) ListChronicleRecords(q ChronicleQuery) ([]ChronicleRecord, error) {
	query := `SELECT record_id, source_id, entry_type, COALESCE(town_id,''), COALESCE(faction_id,''), at, message
	          FROM world_chronicle_records WHERE 1=1`
	args := []any{}
	if q.TownID != "" {
		query += ` AND town_id = ?`
		args = append(args, q.TownID)
	}
	if q.FactionID != "" {
		query += ` AND faction_id = ?`
		args = append(args, q.FactionID)
	}
	query += ` ORDER BY at DESC, record_id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &memstore.FatalError{Op: "list chronicle", Err: err}
	}
	defer rows.Close()
	out := []ChronicleRecord{}
	for rows.Next() {
		var r ChronicleRecord
		if err := rows.Scan(&r.RecordID, &r.SourceID, &r.EntryType, &r.TownID, &r.FactionID, &r.At, &r.Message); err != nil {
			return nil, &memstore.FatalError{Op: "scan chronicle", Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListHistoryRecords joins receipts with their ledger rows, newest first.
func (s *SQLStore) ListHistoryRecords(q HistoryQuery) ([]HistoryRecord, error) {
	query := `SELECT r.execution_id, r.handoff_id, r.idempotency_key, r.proposal_type, r.actor_id,
	                 r.town_id, r.status, r.reason_code, COALESCE(l.kind,''), COALESCE(l.payload_json,'')
	          FROM execution_receipts r
	          LEFT JOIN execution_event_ledger l ON l.execution_id = r.execution_id`
	args := []any{}
	if q.TownID != "" {
		query += ` WHERE r.town_id = ?`
		args = append(args, q.TownID)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &memstore.FatalError{Op: "list history", Err: err}
	}
	defer rows.Close()
	out := []HistoryRecord{}
	for rows.Next() {
		var h HistoryRecord
		var ledgerPayload string
		if err := rows.Scan(&h.ExecutionID, &h.HandoffID, &h.IdempotencyKey, &h.ProposalType,
			&h.ActorID, &h.TownID, &h.Status, &h.ReasonCode, &h.Kind, &ledgerPayload); err != nil {
			return nil, &memstore.FatalError{Op: "scan history", Err: err}
		}
		if ledgerPayload != "" {
			var entry world.LedgerEntry
			if err := json.Unmarshal([]byte(ledgerPayload), &entry); err == nil {
				h.Day = entry.Day
			}
		}
		if h.Kind != "" {
			h.At = ledgerAt(h.ExecutionID, h.Kind, h.Day)
		} else {
			h.At = ledgerAt(h.ExecutionID, "receipt", 1)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortHistoryRecords(out)
	return clipHistory(out, q.Limit), nil
}

// inTx runs fn inside one transaction. The DSN's _txlock=immediate makes the
// BEGIN take the write lock up front.
func (s *SQLStore) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &memstore.FatalError{Op: "begin immediate", Err: err}
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return &memstore.FatalError{Op: "exec statement", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &memstore.FatalError{Op: "commit", Err: err}
	}
	return nil
}
