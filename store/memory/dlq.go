package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/id"
)

// PushDLQ implements dlq.Store.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.dlqEntries[e.ID] = cloneEntry(e)
	return nil
}

// GetDLQ implements dlq.Store.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	e, ok := s.dlqEntries[entryID]
	if !ok {
		return nil, fmt.Errorf("dead letter entry %s: %w", entryID, conveyor.ErrDLQNotFound)
	}
	return cloneEntry(e), nil
}

func matchEntry(e *dlq.Entry, opts dlq.ListOpts) bool {
	if opts.TenantID != "" && e.TenantID != opts.TenantID {
		return false
	}
	if opts.JobType != "" && e.JobType != opts.JobType {
		return false
	}
	return true
}

// ListDLQ implements dlq.Store.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	matched := make([]*dlq.Entry, 0)
	for _, e := range s.dlqEntries {
		if matchEntry(e, opts) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(a, b int) bool {
		return matched[a].FailedAt.After(matched[b].FailedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if opts.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*dlq.Entry, len(matched))
	for i, e := range matched {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

// MarkRequeued implements dlq.Store.
func (s *Store) MarkRequeued(ctx context.Context, entryID id.DLQID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	e, ok := s.dlqEntries[entryID]
	if !ok {
		return fmt.Errorf("dead letter entry %s: %w", entryID, conveyor.ErrDLQNotFound)
	}
	if e.RequeuedAt != nil {
		return fmt.Errorf("dead letter entry %s already requeued: %w", entryID, conveyor.ErrInvalidState)
	}
	e.RequeuedAt = &at
	e.Touch()
	return nil
}

// CountDLQ implements dlq.Store.
func (s *Store) CountDLQ(ctx context.Context, opts dlq.ListOpts) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int64
	for _, e := range s.dlqEntries {
		if matchEntry(e, opts) {
			n++
		}
	}
	return n, nil
}

// PurgeDLQ implements dlq.Store.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int64
	for eid, e := range s.dlqEntries {
		if e.FailedAt.Before(before) {
			delete(s.dlqEntries, eid)
			n++
		}
	}
	return n, nil
}
