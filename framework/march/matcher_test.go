package march

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"

	"relay/framework/room"
)

// memQueue is an in-memory stand-in for the shared queue store
type memQueue struct {
	mu     sync.Mutex
	values []string
}

func (q *memQueue) Append(ctx context.Context, value string) error {
	q.mu.Lock()
	q.values = append(q.values, value)
	q.mu.Unlock()
	return nil
}

func (q *memQueue) RangeAll(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.values))
	copy(out, q.values)
	return out, nil
}

func (q *memQueue) RemoveOneByValue(ctx context.Context, value string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, v := range q.values {
		if v == value {
			q.values = append(q.values[:i], q.values[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.values)
}

// allPresence reports every connection as online unless listed offline
type allPresence struct {
	offline map[string]bool
}

func (p *allPresence) IsOnline(connID string) bool {
	return !p.offline[connID]
}

func newTestMatchmaker() (*Matchmaker, *memQueue, *allPresence) {
	q := &memQueue{}
	p := &allPresence{offline: make(map[string]bool)}
	return NewMatchmaker(q, room.NewRoomManager(), p), q, p
}

func enqueue(t *testing.T, q *memQueue, connID string, interests []string) {
	t.Helper()
	buf, err := json.Marshal(queueEntry{ConnID: connID, Interests: interests})
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	if err := q.Append(context.Background(), string(buf)); err != nil {
		t.Fatalf("append entry: %v", err)
	}
}

func TestSearch_EnqueuesWhenEmpty(t *testing.T) {
	m, q, _ := newTestMatchmaker()

	res, err := m.Search(context.Background(), "conn-a", []string{" Anime ", "", "Lofi Hip Hop"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Matched {
		t.Fatalf("expected no match on empty queue")
	}
	if q.len() != 1 {
		t.Fatalf("expected 1 queued entry, got %d", q.len())
	}

	raws, _ := q.RangeAll(context.Background())
	var entry queueEntry
	if err := json.Unmarshal([]byte(raws[0]), &entry); err != nil {
		t.Fatalf("unmarshal queued entry: %v", err)
	}
	want := []string{"anime", "lofi hip hop"}
	if entry.ConnID != "conn-a" || !reflect.DeepEqual(entry.Interests, want) {
		t.Fatalf("queued entry = %+v, want connId=conn-a interests=%v", entry, want)
	}
}

func TestSearch_InterestTieBreak(t *testing.T) {
	m, q, _ := newTestMatchmaker()

	// A has overlap, B was enqueued after A with no interests
	enqueue(t, q, "conn-a", []string{"x"})
	enqueue(t, q, "conn-b", nil)

	res, err := m.Search(context.Background(), "conn-c", []string{"x"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !res.Matched || res.PartnerID != "conn-a" {
		t.Fatalf("expected match with conn-a, got %+v", res)
	}
	if !reflect.DeepEqual(res.CommonInterests, []string{"X"}) {
		t.Fatalf("common interests = %v, want [X]", res.CommonInterests)
	}
	// B stays queued
	if q.len() != 1 {
		t.Fatalf("expected conn-b still queued, queue len %d", q.len())
	}
}

func TestSearch_FallbackMatch(t *testing.T) {
	m, q, _ := newTestMatchmaker()

	enqueue(t, q, "conn-b", nil)

	res, err := m.Search(context.Background(), "conn-a", []string{"x"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !res.Matched || res.PartnerID != "conn-b" {
		t.Fatalf("expected fallback match with conn-b, got %+v", res)
	}
	if len(res.CommonInterests) != 0 {
		t.Fatalf("expected empty common interests, got %v", res.CommonInterests)
	}
	if q.len() != 0 {
		t.Fatalf("expected queue drained, len %d", q.len())
	}
}

func TestSearch_CapitalizesCommonInterests(t *testing.T) {
	m, q, _ := newTestMatchmaker()

	enqueue(t, q, "conn-b", []string{"anime", "lofi hip hop"})

	res, err := m.Search(context.Background(), "conn-a", []string{"anime", "lofi hip hop"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []string{"Anime", "Lofi hip hop"}
	if !reflect.DeepEqual(res.CommonInterests, want) {
		t.Fatalf("common interests = %v, want %v", res.CommonInterests, want)
	}
}

func TestSearch_QueueExclusivity(t *testing.T) {
	m, q, _ := newTestMatchmaker()

	if _, err := m.Search(context.Background(), "conn-a", []string{"x"}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	if _, err := m.Search(context.Background(), "conn-a", []string{"y"}); err != nil {
		t.Fatalf("second search: %v", err)
	}

	raws, _ := q.RangeAll(context.Background())
	if len(raws) != 1 {
		t.Fatalf("expected exactly one queued entry, got %d", len(raws))
	}
	var entry queueEntry
	if err := json.Unmarshal([]byte(raws[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(entry.Interests, []string{"y"}) {
		t.Fatalf("expected latest interests [y], got %v", entry.Interests)
	}
}

func TestSearch_CleansStaleAndMalformedEntries(t *testing.T) {
	m, q, p := newTestMatchmaker()

	_ = q.Append(context.Background(), "{not json")
	enqueue(t, q, "conn-dead", []string{"x"})
	p.offline["conn-dead"] = true

	res, err := m.Search(context.Background(), "conn-a", []string{"x"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Matched {
		t.Fatalf("expected no match, dead and malformed entries must be skipped")
	}

	// both bad entries physically removed, only conn-a's fresh entry remains
	raws, _ := q.RangeAll(context.Background())
	if len(raws) != 1 {
		t.Fatalf("expected 1 surviving entry, got %d: %v", len(raws), raws)
	}
	var entry queueEntry
	if err := json.Unmarshal([]byte(raws[0]), &entry); err != nil {
		t.Fatalf("unmarshal survivor: %v", err)
	}
	if entry.ConnID != "conn-a" {
		t.Fatalf("survivor should be conn-a, got %s", entry.ConnID)
	}
}

func TestRemoveFromQueue_Idempotent(t *testing.T) {
	m, q, _ := newTestMatchmaker()

	enqueue(t, q, "conn-a", []string{"x"})
	enqueue(t, q, "conn-b", []string{"y"})

	if err := m.RemoveFromQueue(context.Background(), "conn-a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m.RemoveFromQueue(context.Background(), "conn-a"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if q.len() != 1 {
		t.Fatalf("expected only conn-b left, queue len %d", q.len())
	}
}

// stealingQueue simulates a racing searcher: removal of a "stolen" raw value
// reports 0 as if the entry was already consumed by the other scan
type stealingQueue struct {
	memQueue
	stolen map[string]bool
}

func (q *stealingQueue) RemoveOneByValue(ctx context.Context, value string) (int64, error) {
	if q.stolen[value] {
		return 0, nil
	}
	return q.memQueue.RemoveOneByValue(ctx, value)
}

func rawEntry(t *testing.T, connID string, interests []string) string {
	t.Helper()
	buf, err := json.Marshal(queueEntry{ConnID: connID, Interests: interests})
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	return string(buf)
}

func TestSearch_LostClaimFallsThroughToNextCandidate(t *testing.T) {
	rawA := rawEntry(t, "conn-a", []string{"x"})
	rawB := rawEntry(t, "conn-b", nil)

	q := &stealingQueue{stolen: map[string]bool{rawA: true}}
	_ = q.Append(context.Background(), rawA)
	_ = q.Append(context.Background(), rawB)

	rooms := room.NewRoomManager()
	m := NewMatchmaker(q, rooms, &allPresence{offline: map[string]bool{}})

	// conn-a would win the interest pass, but its entry is gone by removal
	// time; the searcher must move on and pair with conn-b instead
	res, err := m.Search(context.Background(), "conn-c", []string{"x"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !res.Matched || res.PartnerID != "conn-b" {
		t.Fatalf("expected fall-through match with conn-b, got %+v", res)
	}
	if len(res.CommonInterests) != 0 {
		t.Fatalf("expected empty common interests, got %v", res.CommonInterests)
	}
	if rooms.Count() != 1 {
		t.Fatalf("expected exactly one room, got %d", rooms.Count())
	}
}

func TestSearch_AllClaimsLostEnqueuesSelf(t *testing.T) {
	rawA := rawEntry(t, "conn-a", []string{"x"})
	rawB := rawEntry(t, "conn-b", nil)

	q := &stealingQueue{stolen: map[string]bool{rawA: true, rawB: true}}
	_ = q.Append(context.Background(), rawA)
	_ = q.Append(context.Background(), rawB)

	rooms := room.NewRoomManager()
	m := NewMatchmaker(q, rooms, &allPresence{offline: map[string]bool{}})

	res, err := m.Search(context.Background(), "conn-c", []string{"x"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Matched {
		t.Fatalf("every candidate was consumed elsewhere, expected no match")
	}
	if rooms.Count() != 0 {
		t.Fatalf("no room should exist, got %d", rooms.Count())
	}

	raws, _ := q.RangeAll(context.Background())
	var found bool
	for _, raw := range raws {
		var entry queueEntry
		if json.Unmarshal([]byte(raw), &entry) == nil && entry.ConnID == "conn-c" {
			found = true
		}
	}
	if !found {
		t.Fatalf("searcher should have enqueued itself, queue: %v", raws)
	}
}

// flakyPresence answers online a fixed number of times per connection,
// then reports the connection gone
type flakyPresence struct {
	remaining map[string]int
}

func (p *flakyPresence) IsOnline(connID string) bool {
	n, ok := p.remaining[connID]
	if !ok {
		return true
	}
	if n <= 0 {
		return false
	}
	p.remaining[connID] = n - 1
	return true
}

func TestSearch_CandidateGoneBeforeRoomCreationTearsDown(t *testing.T) {
	q := &memQueue{}
	enqueue(t, q, "conn-b", nil)

	rooms := room.NewRoomManager()
	// conn-b survives the scan's liveness check, then drops before the room
	// exists; the post-create recheck must tear the room down again
	p := &flakyPresence{remaining: map[string]int{"conn-b": 1}}
	m := NewMatchmaker(q, rooms, p)

	res, err := m.Search(context.Background(), "conn-a", nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Matched {
		t.Fatalf("dead candidate must not produce a match, got %+v", res)
	}
	if rooms.Count() != 0 {
		t.Fatalf("torn-down room must not survive, got %d", rooms.Count())
	}

	raws, _ := q.RangeAll(context.Background())
	if len(raws) != 1 {
		t.Fatalf("expected only the searcher queued, got %v", raws)
	}
	var entry queueEntry
	if err := json.Unmarshal([]byte(raws[0]), &entry); err != nil || entry.ConnID != "conn-a" {
		t.Fatalf("queued entry should be conn-a, got %s (%v)", raws[0], err)
	}
}
