package turnlog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/voicewire/voicewire/pkg/jsontime"
	"github.com/voicewire/voicewire/pkg/kv"
)

// ErrNotFound is returned when no record exists for a turn ID.
var ErrNotFound = errors.New("turnlog: turn not found")

// Log stores turn records in a key-value store.
//
// All methods are safe for concurrent use to the extent the underlying
// store is.
type Log struct {
	store  kv.Store
	prefix kv.Key
}

// New creates a Log over the given store. The prefix namespaces all keys
// and may be nil.
func New(store kv.Store, prefix kv.Key) *Log {
	return &Log{store: store, prefix: prefix}
}

// Append persists a turn record, updating the session metadata in the
// same atomic batch. If StartedAt is zero it is set to the current time.
func (l *Log) Append(ctx context.Context, rec *Record) error {
	if rec.TurnID == "" {
		return errors.New("turnlog: record missing turn id")
	}
	if rec.SessionID == "" {
		return errors.New("turnlog: record missing session id")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = jsontime.NowEpochMilli()
	}
	ts := rec.StartedAt.Time().UnixNano()

	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("turnlog: encode record: %w", err)
	}
	ref, err := msgpack.Marshal(recordRef{Session: rec.SessionID, TS: ts})
	if err != nil {
		return fmt.Errorf("turnlog: encode ref: %w", err)
	}

	meta, err := l.sessionMeta(ctx, rec.SessionID)
	if err != nil {
		return err
	}
	meta.Turns++
	if meta.FirstAt.IsZero() || rec.StartedAt.Before(meta.FirstAt) {
		meta.FirstAt = rec.StartedAt
	}
	if rec.StartedAt.After(meta.LastAt) {
		meta.LastAt = rec.StartedAt
	}
	metaData, err := msgpack.Marshal(meta)
	if err != nil {
		return fmt.Errorf("turnlog: encode session meta: %w", err)
	}

	return l.store.BatchSet(ctx, []kv.Entry{
		{Key: turnKey(l.prefix, rec.SessionID, ts), Value: data},
		{Key: tidKey(l.prefix, rec.TurnID), Value: ref},
		{Key: sessKey(l.prefix, rec.SessionID), Value: metaData},
	})
}

// Get retrieves a record by turn ID via the reverse index. Returns
// ErrNotFound if the turn was never recorded or has been cleared.
func (l *Log) Get(ctx context.Context, turnID string) (*Record, error) {
	raw, err := l.store.Get(ctx, tidKey(l.prefix, turnID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ref recordRef
	if err := msgpack.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("turnlog: decode ref: %w", err)
	}

	raw, err = l.store.Get(ctx, turnKey(l.prefix, ref.Session, ref.TS))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("turnlog: decode record: %w", err)
	}
	return &rec, nil
}

// Recent returns up to n records, newest first. With a non-empty session
// the scan is bounded to that session's keys; with session "" all
// sessions are scanned and merged by start time.
func (l *Log) Recent(ctx context.Context, session string, n int) ([]*Record, error) {
	if n <= 0 {
		return nil, nil
	}

	if session != "" {
		var out []*Record
		for entry, err := range l.store.ListReverse(ctx, sessionTurnPrefix(l.prefix, session)) {
			if err != nil {
				return nil, err
			}
			var rec Record
			if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
				return nil, fmt.Errorf("turnlog: decode record: %w", err)
			}
			out = append(out, &rec)
			if len(out) >= n {
				break
			}
		}
		return out, nil
	}

	var all []*Record
	for entry, err := range l.store.List(ctx, turnPrefix(l.prefix)) {
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
			return nil, fmt.Errorf("turnlog: decode record: %w", err)
		}
		all = append(all, &rec)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[j].StartedAt.Before(all[i].StartedAt)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// All iterates over records in chronological order. With a non-empty
// session only that session's records are yielded.
func (l *Log) All(ctx context.Context, session string) iter.Seq2[*Record, error] {
	prefix := turnPrefix(l.prefix)
	if session != "" {
		prefix = sessionTurnPrefix(l.prefix, session)
	}
	return func(yield func(*Record, error) bool) {
		for entry, err := range l.store.List(ctx, prefix) {
			if err != nil {
				yield(nil, err)
				return
			}
			var rec Record
			if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
				yield(nil, fmt.Errorf("turnlog: decode record: %w", err))
				return
			}
			if !yield(&rec, nil) {
				return
			}
		}
	}
}

// Sessions lists metadata for every recorded session, most recently
// active first.
func (l *Log) Sessions(ctx context.Context) ([]*SessionMeta, error) {
	var out []*SessionMeta
	for entry, err := range l.store.List(ctx, sessPrefix(l.prefix)) {
		if err != nil {
			return nil, err
		}
		var meta SessionMeta
		if err := msgpack.Unmarshal(entry.Value, &meta); err != nil {
			return nil, fmt.Errorf("turnlog: decode session meta: %w", err)
		}
		out = append(out, &meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].LastAt.Before(out[i].LastAt)
	})
	return out, nil
}

// Clear removes records in one atomic batch. With a non-empty session
// only that session's records, reverse-index entries, and metadata are
// removed; with session "" the whole log is cleared.
func (l *Log) Clear(ctx context.Context, session string) error {
	prefix := turnPrefix(l.prefix)
	if session != "" {
		prefix = sessionTurnPrefix(l.prefix, session)
	}

	var keys []kv.Key
	for entry, err := range l.store.List(ctx, prefix) {
		if err != nil {
			return err
		}
		keys = append(keys, entry.Key)
		var rec Record
		if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
			continue // malformed entry still gets its primary key deleted
		}
		if rec.TurnID != "" {
			keys = append(keys, tidKey(l.prefix, rec.TurnID))
		}
	}

	if session != "" {
		keys = append(keys, sessKey(l.prefix, session))
	} else {
		for entry, err := range l.store.List(ctx, sessPrefix(l.prefix)) {
			if err != nil {
				return err
			}
			keys = append(keys, entry.Key)
		}
	}

	if len(keys) == 0 {
		return nil
	}
	return l.store.BatchDelete(ctx, keys)
}

// sessionMeta loads the metadata for a session, or a fresh zero-count
// meta if none exists yet.
func (l *Log) sessionMeta(ctx context.Context, session string) (*SessionMeta, error) {
	raw, err := l.store.Get(ctx, sessKey(l.prefix, session))
	if errors.Is(err, kv.ErrNotFound) {
		return &SessionMeta{SessionID: session}, nil
	}
	if err != nil {
		return nil, err
	}
	var meta SessionMeta
	if err := msgpack.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("turnlog: decode session meta: %w", err)
	}
	return &meta, nil
}
