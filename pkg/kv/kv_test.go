package kv_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/voicewire/voicewire/pkg/kv"
)

// runStoreTests exercises the Store contract against any backend.
func runStoreTests(t *testing.T, newStore func(t *testing.T) kv.Store) {
	ctx := context.Background()

	t.Run("GetSetDelete", func(t *testing.T) {
		s := newStore(t)

		key := kv.Key{"turns", "sess_4f2a", "000000001"}
		val := []byte("record-1")

		_, err := s.Get(ctx, key)
		if !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		if err := s.Set(ctx, key, val); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != string(val) {
			t.Fatalf("Get = %q, want %q", got, val)
		}

		val2 := []byte("record-1-revised")
		if err := s.Set(ctx, key, val2); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		got, err = s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get after overwrite: %v", err)
		}
		if string(got) != string(val2) {
			t.Fatalf("Get = %q, want %q", got, val2)
		}

		if err := s.Delete(ctx, key); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}

		if err := s.Delete(ctx, kv.Key{"no", "such", "key"}); err != nil {
			t.Fatalf("Delete non-existent: %v", err)
		}
	})

	t.Run("ListPrefix", func(t *testing.T) {
		s := newStore(t)

		entries := []kv.Entry{
			{Key: kv.Key{"turns", "sess_a", "000000001"}, Value: []byte("t1")},
			{Key: kv.Key{"turns", "sess_a", "000000002"}, Value: []byte("t2")},
			{Key: kv.Key{"turns", "sess_b", "000000001"}, Value: []byte("t3")},
			{Key: kv.Key{"sessions", "sess_a"}, Value: []byte("meta")},
		}
		if err := s.BatchSet(ctx, entries); err != nil {
			t.Fatalf("BatchSet: %v", err)
		}

		var got []string
		for entry, err := range s.List(ctx, kv.Key{"turns", "sess_a"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got = append(got, entry.Key.String()+"="+string(entry.Value))
		}
		want := []string{
			"turns:sess_a:000000001=t1",
			"turns:sess_a:000000002=t2",
		}
		if !slices.Equal(got, want) {
			t.Fatalf("List turns:sess_a = %v, want %v", got, want)
		}

		got = nil
		for entry, err := range s.List(ctx, kv.Key{"turns"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got = append(got, entry.Key.String())
		}
		if len(got) != 3 {
			t.Fatalf("List turns: got %d entries, want 3: %v", len(got), got)
		}

		// A prefix must match whole segments only.
		got = nil
		for entry, err := range s.List(ctx, kv.Key{"turns", "sess"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got = append(got, entry.Key.String())
		}
		if len(got) != 0 {
			t.Fatalf("List turns:sess matched partial segment: %v", got)
		}
	})

	t.Run("ListReverse", func(t *testing.T) {
		s := newStore(t)

		entries := []kv.Entry{
			{Key: kv.Key{"turns", "sess_a", "000000001"}, Value: []byte("oldest")},
			{Key: kv.Key{"turns", "sess_a", "000000002"}, Value: []byte("middle")},
			{Key: kv.Key{"turns", "sess_a", "000000003"}, Value: []byte("newest")},
		}
		if err := s.BatchSet(ctx, entries); err != nil {
			t.Fatalf("BatchSet: %v", err)
		}

		var got []string
		for entry, err := range s.ListReverse(ctx, kv.Key{"turns", "sess_a"}) {
			if err != nil {
				t.Fatalf("ListReverse: %v", err)
			}
			got = append(got, string(entry.Value))
		}
		want := []string{"newest", "middle", "oldest"}
		if !slices.Equal(got, want) {
			t.Fatalf("ListReverse = %v, want %v", got, want)
		}
	})

	t.Run("ListEarlyStop", func(t *testing.T) {
		s := newStore(t)

		entries := []kv.Entry{
			{Key: kv.Key{"turns", "sess_a", "000000001"}, Value: []byte("t1")},
			{Key: kv.Key{"turns", "sess_a", "000000002"}, Value: []byte("t2")},
			{Key: kv.Key{"turns", "sess_a", "000000003"}, Value: []byte("t3")},
		}
		if err := s.BatchSet(ctx, entries); err != nil {
			t.Fatalf("BatchSet: %v", err)
		}

		n := 0
		for _, err := range s.List(ctx, kv.Key{"turns"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			n++
			if n == 2 {
				break
			}
		}
		if n != 2 {
			t.Fatalf("stopped after %d entries, want 2", n)
		}
	})

	t.Run("BatchDelete", func(t *testing.T) {
		s := newStore(t)

		entries := []kv.Entry{
			{Key: kv.Key{"turns", "sess_a", "000000001"}, Value: []byte("t1")},
			{Key: kv.Key{"turns", "sess_a", "000000002"}, Value: []byte("t2")},
			{Key: kv.Key{"sessions", "sess_a"}, Value: []byte("meta")},
		}
		if err := s.BatchSet(ctx, entries); err != nil {
			t.Fatalf("BatchSet: %v", err)
		}

		keys := []kv.Key{
			{"turns", "sess_a", "000000001"},
			{"turns", "sess_a", "000000002"},
		}
		if err := s.BatchDelete(ctx, keys); err != nil {
			t.Fatalf("BatchDelete: %v", err)
		}

		for _, k := range keys {
			if _, err := s.Get(ctx, k); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("Get %v after BatchDelete: %v, want ErrNotFound", k, err)
			}
		}
		if _, err := s.Get(ctx, kv.Key{"sessions", "sess_a"}); err != nil {
			t.Fatalf("unrelated key deleted: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) kv.Store {
		s := kv.NewMemory(nil)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestKeyString(t *testing.T) {
	k := kv.Key{"turns", "sess_4f2a", "000000042"}
	if k.String() != "turns:sess_4f2a:000000042" {
		t.Errorf("String() = %q", k.String())
	}
}
