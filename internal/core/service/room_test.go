package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/metrics"
)

func TestJoinEmptyRoom(t *testing.T) {
	gw := newRecordingGateway()
	d := NewRoomDirectory(gw, DefaultMaxRoomMembers, nil)

	ack, err := d.Join(context.Background(), "a", "alice", "lobby")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if ack.ParticipantID != "a" || ack.Identity != "alice" || ack.Room != "lobby" {
		t.Errorf("unexpected ack %+v", ack)
	}
	if len(ack.Members) != 0 {
		t.Errorf("expected no members, got %+v", ack.Members)
	}

	got := gw.take()
	if len(got) != 1 || got[0].to != "a" || got[0].env.Type != domain.MessageJoinAck {
		t.Fatalf("expected a single join-ack to a, got %+v", got)
	}
}

func TestJoinNotifiesMembersAfterAck(t *testing.T) {
	gw := newRecordingGateway()
	d := NewRoomDirectory(gw, DefaultMaxRoomMembers, nil)
	ctx := context.Background()

	if _, err := d.Join(ctx, "a", "alice", "lobby"); err != nil {
		t.Fatal(err)
	}
	gw.take()

	ack, err := d.Join(ctx, "b", "bob", "lobby")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(ack.Members) != 1 || ack.Members[0].ParticipantID != "a" || ack.Members[0].Identity != "alice" {
		t.Errorf("ack members = %+v", ack.Members)
	}

	got := gw.take()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %+v", got)
	}
	if got[0].to != "b" || got[0].env.Type != domain.MessageJoinAck {
		t.Errorf("first delivery should be the ack, got %+v", got[0])
	}
	if got[1].to != "a" || got[1].env.Type != domain.MessagePeerJoined {
		t.Fatalf("second delivery should be peer-joined to a, got %+v", got[1])
	}
	var info domain.PeerInfo
	if err := got[1].env.Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.ParticipantID != "b" || info.Identity != "bob" {
		t.Errorf("peer-joined payload = %+v", info)
	}
}

func TestJoinRoomFull(t *testing.T) {
	gw := newRecordingGateway()
	m := metrics.New()
	d := NewRoomDirectory(gw, DefaultMaxRoomMembers, m)
	ctx := context.Background()

	d.Join(ctx, "a", "alice", "lobby")
	d.Join(ctx, "b", "bob", "lobby")
	gw.take()

	_, err := d.Join(ctx, "c", "carol", "lobby")
	if !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	if got := gw.take(); len(got) != 0 {
		t.Errorf("rejected join should notify nobody, got %+v", got)
	}
	if _, ok := d.RoomOf("c"); ok {
		t.Error("rejected participant should not be in a room")
	}
	if m.Get(metrics.JoinsRejected) != 1 {
		t.Errorf("JoinsRejected = %d", m.Get(metrics.JoinsRejected))
	}
}

func TestJoinUnlimited(t *testing.T) {
	d := NewRoomDirectory(newRecordingGateway(), 0, nil)
	ctx := context.Background()
	for _, id := range []domain.ParticipantID{"a", "b", "c", "d"} {
		if _, err := d.Join(ctx, id, string(id), "hall"); err != nil {
			t.Fatalf("Join %s: %v", id, err)
		}
	}
	if n := len(d.Members("hall")); n != 4 {
		t.Errorf("members = %d, want 4", n)
	}
}

func TestJoinInvalid(t *testing.T) {
	d := NewRoomDirectory(newRecordingGateway(), DefaultMaxRoomMembers, nil)
	tests := []struct {
		name     string
		identity string
		room     domain.RoomName
	}{
		{"no identity", "", "lobby"},
		{"no room", "alice", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Join(context.Background(), "a", tt.identity, tt.room)
			if !errors.Is(err, domain.ErrInvalidJoin) {
				t.Errorf("expected ErrInvalidJoin, got %v", err)
			}
		})
	}
}

func TestRejoinSameRoomOnlyReacknowledges(t *testing.T) {
	gw := newRecordingGateway()
	d := NewRoomDirectory(gw, DefaultMaxRoomMembers, nil)
	ctx := context.Background()

	d.Join(ctx, "a", "alice", "lobby")
	d.Join(ctx, "b", "bob", "lobby")
	gw.take()

	ack, err := d.Join(ctx, "b", "bob", "lobby")
	if err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if len(ack.Members) != 1 {
		t.Errorf("ack members = %+v", ack.Members)
	}
	got := gw.take()
	if len(got) != 1 || got[0].to != "b" || got[0].env.Type != domain.MessageJoinAck {
		t.Fatalf("re-join should only re-ack, got %+v", got)
	}
	if n := len(d.Members("lobby")); n != 2 {
		t.Errorf("members = %d, want 2", n)
	}
}

func TestJoinOtherRoomLeavesFirst(t *testing.T) {
	gw := newRecordingGateway()
	d := NewRoomDirectory(gw, DefaultMaxRoomMembers, nil)
	ctx := context.Background()

	d.Join(ctx, "a", "alice", "one")
	d.Join(ctx, "b", "bob", "one")
	gw.take()

	if _, err := d.Join(ctx, "b", "bob", "two"); err != nil {
		t.Fatal(err)
	}
	left := gw.to("a")
	if len(left) != 1 || left[0].Type != domain.MessagePeerLeft {
		t.Fatalf("a should see bob leave, got %+v", left)
	}
	if room, _ := d.RoomOf("b"); room != "two" {
		t.Errorf("b is in %q", room)
	}
	if members := d.Members("one"); len(members) != 1 || members[0] != "a" {
		t.Errorf("room one members = %v", members)
	}
}

func TestJoinFullRoomKeepsCurrentRoom(t *testing.T) {
	d := NewRoomDirectory(newRecordingGateway(), DefaultMaxRoomMembers, nil)
	ctx := context.Background()

	d.Join(ctx, "a", "alice", "one")
	d.Join(ctx, "b", "bob", "two")
	d.Join(ctx, "c", "carol", "two")

	if _, err := d.Join(ctx, "a", "alice", "two"); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	if room, _ := d.RoomOf("a"); room != "one" {
		t.Errorf("a should still be in room one, is in %q", room)
	}
}

func TestLeave(t *testing.T) {
	gw := newRecordingGateway()
	d := NewRoomDirectory(gw, DefaultMaxRoomMembers, nil)
	ctx := context.Background()

	if err := d.Leave(ctx, "a"); !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom, got %v", err)
	}

	d.Join(ctx, "a", "alice", "lobby")
	d.Join(ctx, "b", "bob", "lobby")
	gw.take()

	if err := d.Leave(ctx, "a"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	got := gw.take()
	if len(got) != 1 || got[0].to != "b" || got[0].env.Type != domain.MessagePeerLeft {
		t.Fatalf("expected peer-left to b, got %+v", got)
	}
	var left domain.PeerLeftPayload
	if err := got[0].env.Decode(&left); err != nil {
		t.Fatal(err)
	}
	if left.ParticipantID != "a" || left.Identity != "alice" {
		t.Errorf("peer-left payload = %+v", left)
	}

	d.Leave(ctx, "b")
	if d.RoomCount() != 0 {
		t.Errorf("empty room should be deleted, rooms = %d", d.RoomCount())
	}
	if err := d.Leave(ctx, "b"); !errors.Is(err, domain.ErrNotInRoom) {
		t.Errorf("second leave: expected ErrNotInRoom, got %v", err)
	}
}

func TestForgetNotifiesRemainingMember(t *testing.T) {
	gw := newRecordingGateway()
	d := NewRoomDirectory(gw, DefaultMaxRoomMembers, nil)
	ctx := context.Background()

	d.Join(ctx, "a", "alice", "lobby")
	d.Join(ctx, "b", "bob", "lobby")
	gw.take()

	d.Forget(ctx, "b")
	got := gw.take()
	if len(got) != 1 || got[0].to != "a" || got[0].env.Type != domain.MessagePeerLeft {
		t.Fatalf("expected peer-left to a, got %+v", got)
	}

	// A new participant can take the free slot.
	if _, err := d.Join(ctx, "c", "carol", "lobby"); err != nil {
		t.Fatalf("Join after Forget: %v", err)
	}
	d.Forget(ctx, "unknown")
}

func TestJoinDeliveryFailureIsNotFatal(t *testing.T) {
	gw := newRecordingGateway()
	d := NewRoomDirectory(gw, DefaultMaxRoomMembers, nil)
	ctx := context.Background()

	d.Join(ctx, "a", "alice", "lobby")
	gw.offline["a"] = true

	if _, err := d.Join(ctx, "b", "bob", "lobby"); err != nil {
		t.Fatalf("Join should succeed when a member is unreachable: %v", err)
	}
}

// holdingGateway parks the first delivery to hold inside Deliver until release is closed.
type holdingGateway struct {
	*recordingGateway
	hold    domain.ParticipantID
	held    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *holdingGateway) Deliver(ctx context.Context, to domain.ParticipantID, env domain.Envelope) error {
	if to == g.hold {
		g.once.Do(func() {
			close(g.held)
			<-g.release
		})
	}
	return g.recordingGateway.Deliver(ctx, to, env)
}

func TestConcurrentJoinAckArrivesFirst(t *testing.T) {
	gw := &holdingGateway{
		recordingGateway: newRecordingGateway(),
		hold:             "a",
		held:             make(chan struct{}),
		release:          make(chan struct{}),
	}
	d := NewRoomDirectory(gw, DefaultMaxRoomMembers, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.Join(ctx, "a", "alice", "r1")
	}()
	<-gw.held
	go func() {
		defer wg.Done()
		d.Join(ctx, "b", "bob", "r1")
	}()
	time.Sleep(20 * time.Millisecond)
	close(gw.release)
	wg.Wait()

	got := types(gw.to("a"))
	if len(got) != 2 || got[0] != domain.MessageJoinAck || got[1] != domain.MessagePeerJoined {
		t.Fatalf("alice received %v, want [join-ack peer-joined]", got)
	}
}

func TestConcurrentDirectoryUse(t *testing.T) {
	gw := newRecordingGateway()
	d := NewRoomDirectory(gw, DefaultMaxRoomMembers, nil)
	ctx := context.Background()
	rooms := []domain.RoomName{"r0", "r1", "r2"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.ParticipantID(fmt.Sprintf("p%d", i))
			for n := 0; n < 50; n++ {
				room := rooms[(i+n)%len(rooms)]
				d.Join(ctx, id, string(id), room)
				switch n % 4 {
				case 1:
					d.Leave(ctx, id)
				case 3:
					d.Forget(ctx, id)
				}
			}
		}(i)
	}
	wg.Wait()

	for _, room := range rooms {
		members := d.Members(room)
		if len(members) > DefaultMaxRoomMembers {
			t.Errorf("%s has %d members", room, len(members))
		}
		seen := make(map[domain.ParticipantID]bool)
		for _, id := range members {
			if seen[id] {
				t.Errorf("%s lists %s twice", room, id)
			}
			seen[id] = true
			if in, ok := d.RoomOf(id); !ok || in != room {
				t.Errorf("%s is listed in %s but directory says %q", id, room, in)
			}
		}
	}

	for i := 0; i < 8; i++ {
		id := domain.ParticipantID(fmt.Sprintf("p%d", i))
		got := gw.to(id)
		if len(got) > 0 && got[0].Type != domain.MessageJoinAck {
			t.Errorf("%s first received %s", id, got[0].Type)
		}
	}
}
