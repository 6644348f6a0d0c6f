package room

import "testing"

func TestRoomManager_CreateAndGet(t *testing.T) {
	rm := NewRoomManager()

	roomID := rm.CreateRoom("a", "b")
	if roomID == "" {
		t.Fatalf("expected non-empty room id")
	}

	pair, ok := rm.GetRoom(roomID)
	if !ok {
		t.Fatalf("room %s should exist", roomID)
	}
	if pair != [2]string{"a", "b"} {
		t.Fatalf("unexpected pair: %v", pair)
	}
}

func TestRoomManager_DeleteIsIdempotent(t *testing.T) {
	rm := NewRoomManager()

	roomID := rm.CreateRoom("a", "b")
	rm.DeleteRoom(roomID)
	if _, ok := rm.GetRoom(roomID); ok {
		t.Fatalf("room %s should be gone", roomID)
	}

	// Deleting again (or deleting an unknown id) must not panic or error.
	rm.DeleteRoom(roomID)
	rm.DeleteRoom("no-such-room")
}

func TestRoomManager_RoomsOf(t *testing.T) {
	rm := NewRoomManager()

	r1 := rm.CreateRoom("a", "b")
	rm.CreateRoom("c", "d")

	rooms := rm.RoomsOf("a")
	if len(rooms) != 1 || rooms[0] != r1 {
		t.Fatalf("expected [%s], got %v", r1, rooms)
	}
	if got := rm.RoomsOf("nobody"); len(got) != 0 {
		t.Fatalf("expected no rooms, got %v", got)
	}
	if rm.Count() != 2 {
		t.Fatalf("expected 2 rooms, got %d", rm.Count())
	}
}
