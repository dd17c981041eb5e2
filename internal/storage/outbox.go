package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxPublished  OutboxStatus = "PUBLISHED"
	OutboxFailed     OutboxStatus = "FAILED"
	OutboxInvalid    OutboxStatus = "INVALID"
)

// CanTransitionTo reports whether the dispatcher may move a row from s to next.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	switch s {
	case OutboxPending, OutboxFailed:
		return next == OutboxProcessing
	case OutboxProcessing:
		return next == OutboxPublished || next == OutboxFailed || next == OutboxInvalid || next == OutboxPending
	default:
		return false
	}
}

// PendingEvent is a claimed outbox row ready to publish.
type PendingEvent struct {
	ID          string
	Type        string
	AggregateID string
	Payload     json.RawMessage
	Attempts    int
	CreatedAt   time.Time
}

// Enqueue records an event in the current unit of work. It becomes visible to
// the dispatcher only if the surrounding transaction commits.
func (t *Tx) Enqueue(ctx context.Context, eventType, aggregateID string, payload any, now time.Time) (string, error) {
	const op = "storage.Enqueue"
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return "", fmt.Errorf("%s: event type is required", op)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%s: marshal payload: %w", op, err)
	}
	id := uuid.NewString()
	if err := t.q.InsertOutboxEvent(ctx, InsertOutboxEventParams{
		ID:          id,
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     string(body),
		CreatedAt:   formatTime(now),
	}); err != nil {
		return "", classify(op, "", err)
	}
	return id, nil
}

// ClaimOutbox moves up to limit PENDING or FAILED rows to PROCESSING and
// returns them oldest first.
func (r *SQLiteRepository) ClaimOutbox(ctx context.Context, limit int, now time.Time) ([]PendingEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("storage.ClaimOutbox: limit must be greater than zero")
	}
	var claimed []PendingEvent
	err := r.WithTx(ctx, func(tx *Tx) error {
		rows, err := tx.q.ClaimOutboxEvents(ctx, formatTime(now), int64(limit))
		if err != nil {
			return classify("storage.ClaimOutbox", "", err)
		}
		claimed = make([]PendingEvent, 0, len(rows))
		for _, row := range rows {
			claimed = append(claimed, PendingEvent{
				ID:          row.ID,
				Type:        row.EventType,
				AggregateID: row.AggregateID,
				Payload:     json.RawMessage(row.Payload),
				Attempts:    int(row.Attempts),
				CreatedAt:   parseTime(row.CreatedAt),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(claimed, func(i, j int) bool {
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

// MarkPublished records a successful publish.
func (r *SQLiteRepository) MarkPublished(ctx context.Context, id string, now time.Time) error {
	n, err := r.q.MarkOutboxPublished(ctx, id, formatTime(now))
	if err != nil {
		return classify("storage.MarkPublished", "", err)
	}
	if n == 0 {
		return fmt.Errorf("storage.MarkPublished: event %s is not processing", id)
	}
	return nil
}

// MarkFailed records a failed attempt. The row becomes INVALID once attempts
// reach maxAttempts and is never retried after that.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, cause error, maxAttempts int, now time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	n, err := r.q.MarkOutboxFailed(ctx, MarkOutboxFailedParams{
		ID:          id,
		LastError:   msg,
		MaxAttempts: int64(maxAttempts),
		UpdatedAt:   formatTime(now),
	})
	if err != nil {
		return classify("storage.MarkFailed", "", err)
	}
	if n == 0 {
		return fmt.Errorf("storage.MarkFailed: event %s is not processing", id)
	}
	return nil
}

// ReleaseClaim returns a PROCESSING row to PENDING without counting an
// attempt.
func (r *SQLiteRepository) ReleaseClaim(ctx context.Context, id string, now time.Time) error {
	n, err := r.q.ReleaseOutboxEvent(ctx, id, formatTime(now))
	if err != nil {
		return classify("storage.ReleaseClaim", "", err)
	}
	if n == 0 {
		return fmt.Errorf("storage.ReleaseClaim: event %s is not processing", id)
	}
	return nil
}

// ResetStaleProcessing returns rows stuck in PROCESSING since before cutoff to
// PENDING. Used at dispatcher startup after a crash.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context, cutoff, now time.Time) (int64, error) {
	n, err := r.q.ResetStaleOutboxEvents(ctx, formatTime(now), formatTime(cutoff))
	if err != nil {
		return 0, classify("storage.ResetStaleProcessing", "", err)
	}
	return n, nil
}

// PurgePublished deletes rows published before cutoff.
func (r *SQLiteRepository) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := r.q.DeletePublishedOutboxEvents(ctx, formatTime(cutoff))
	if err != nil {
		return 0, classify("storage.PurgePublished", "", err)
	}
	return n, nil
}

// OutboxEventStatus returns the current status and attempt count of one event.
func (r *SQLiteRepository) OutboxEventStatus(ctx context.Context, id string) (OutboxStatus, int, error) {
	e, err := r.q.GetOutboxEvent(ctx, id)
	if err != nil {
		return "", 0, classify("storage.OutboxEventStatus", "", err)
	}
	return OutboxStatus(e.Status), int(e.Attempts), nil
}

// OutboxCounts groups outbox rows by status.
func (r *SQLiteRepository) OutboxCounts(ctx context.Context) (map[OutboxStatus]int64, error) {
	raw, err := r.q.CountOutboxByStatus(ctx)
	if err != nil {
		return nil, classify("storage.OutboxCounts", "", err)
	}
	counts := make(map[OutboxStatus]int64, len(raw))
	for k, v := range raw {
		counts[OutboxStatus(k)] = v
	}
	return counts, nil
}
