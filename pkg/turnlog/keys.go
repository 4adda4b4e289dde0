package turnlog

import (
	"strconv"

	"github.com/voicewire/voicewire/pkg/kv"
)

// Key layout (relative to the Log prefix):
//
//	{prefix}:turn:{session}:{ts_ns} → msgpack-encoded Record
//	{prefix}:tid:{turn_id}          → msgpack-encoded recordRef (reverse index)
//	{prefix}:sess:{session}         → msgpack-encoded SessionMeta
//
// The nanosecond start timestamp gives records within a session a total
// order, and its decimal form keeps lexicographic ordering equal to
// chronological order. The tid reverse index maps turn ID → (session,
// timestamp), enabling O(1) lookups by ID without scanning.

// turnKey builds the KV key for a turn record.
// Format: {prefix} + "turn" + {session} + "{ts_ns}"
func turnKey(prefix kv.Key, session string, ts int64) kv.Key {
	k := make(kv.Key, len(prefix)+3)
	copy(k, prefix)
	k[len(prefix)] = "turn"
	k[len(prefix)+1] = session
	k[len(prefix)+2] = strconv.FormatInt(ts, 10)
	return k
}

// turnPrefix returns the KV prefix for listing all turn records.
// Format: {prefix} + "turn"
func turnPrefix(prefix kv.Key) kv.Key {
	k := make(kv.Key, len(prefix)+1)
	copy(k, prefix)
	k[len(prefix)] = "turn"
	return k
}

// sessionTurnPrefix returns the KV prefix for listing one session's turns.
// Format: {prefix} + "turn" + {session}
func sessionTurnPrefix(prefix kv.Key, session string) kv.Key {
	k := make(kv.Key, len(prefix)+2)
	copy(k, prefix)
	k[len(prefix)] = "turn"
	k[len(prefix)+1] = session
	return k
}

// tidKey returns the KV key for the turn-ID reverse index.
// Format: {prefix} + "tid" + {turn_id}
func tidKey(prefix kv.Key, turnID string) kv.Key {
	k := make(kv.Key, len(prefix)+2)
	copy(k, prefix)
	k[len(prefix)] = "tid"
	k[len(prefix)+1] = turnID
	return k
}

// sessKey returns the KV key for a session's metadata.
// Format: {prefix} + "sess" + {session}
func sessKey(prefix kv.Key, session string) kv.Key {
	k := make(kv.Key, len(prefix)+2)
	copy(k, prefix)
	k[len(prefix)] = "sess"
	k[len(prefix)+1] = session
	return k
}

// sessPrefix returns the KV prefix for listing all session metadata.
// Format: {prefix} + "sess"
func sessPrefix(prefix kv.Key) kv.Key {
	k := make(kv.Key, len(prefix)+1)
	copy(k, prefix)
	k[len(prefix)] = "sess"
	return k
}
