package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/infra/events"
)

// ─── Events ─────────────────────────────────────────────────────────────────

// RecordEvent appends one event to the journal.
func (d *DB) RecordEvent(e events.Event) error {
	_, err := d.db.Exec(
		`INSERT INTO events (at, type, node_id, actor_id, task_id, message_id, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixNano(), string(e.Type), e.NodeID, e.ActorID, e.TaskID, e.MessageID, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first. An empty typ
// matches every event type.
func (d *DB) RecentEvents(limit int, typ events.Type) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.Query(
		`SELECT at, type, node_id, actor_id, task_id, message_id, detail
		 FROM events WHERE (? = '' OR type = ?)
		 ORDER BY id DESC LIMIT ?`,
		string(typ), string(typ), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEvents returns the number of journaled events of a type.
func (d *DB) CountEvents(typ events.Type) (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM events WHERE type = ?`, string(typ)).Scan(&n)
	return n, err
}

func scanEvent(s scanner) (events.Event, error) {
	var e events.Event
	var at int64
	var typ string
	if err := s.Scan(&at, &typ, &e.NodeID, &e.ActorID, &e.TaskID, &e.MessageID, &e.Detail); err != nil {
		return events.Event{}, err
	}
	e.At = time.Unix(0, at)
	e.Type = events.Type(typ)
	return e, nil
}

// ─── Task Results ───────────────────────────────────────────────────────────

// RecordTaskResult stores (or replaces) the outcome of a task.
func (d *DB) RecordTaskResult(r domain.TaskResult) error {
	results, err := json.Marshal(r.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO task_results (task_id, status, subtasks, failed, duration_ns, results, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
		   status=excluded.status, subtasks=excluded.subtasks, failed=excluded.failed,
		   duration_ns=excluded.duration_ns, results=excluded.results, recorded_at=excluded.recorded_at`,
		r.TaskID, string(r.Status), len(r.Results), r.Failed(), int64(r.Duration), string(results), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record task result: %w", err)
	}
	return nil
}

// TaskResult loads a stored task outcome. Returns nil, nil if not found.
func (d *DB) TaskResult(taskID string) (*domain.TaskResult, error) {
	var r domain.TaskResult
	var status, results string
	var subtasks, failed int
	var dur int64
	err := d.db.QueryRow(
		`SELECT task_id, status, subtasks, failed, duration_ns, results FROM task_results WHERE task_id = ?`,
		taskID,
	).Scan(&r.TaskID, &status, &subtasks, &failed, &dur, &results)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Status = domain.TaskStatus(status)
	r.Duration = time.Duration(dur)
	if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return &r, nil
}

// ─── Journal Loop ───────────────────────────────────────────────────────────

// Run drains a bus subscription into the events table until ctx is done or
// the subscription is closed. Write failures are logged and skipped.
func (d *DB) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if err := d.RecordEvent(e); err != nil {
				log.Printf("[journal] %v", err)
			}
		}
	}
}
