package core

import (
	"testing"
	"time"
)

func TestHubPublishReachesJoinedUser(t *testing.T) {
	hub, ctx := startHub(t)

	bob := joinedClient(t, hub, 2)

	n := hub.Publish(ctx, ChannelName(2), &Event{
		Kind:    EventReceiveMessage,
		Message: &Message{ID: 1, SenderID: 1, ReceiverID: 2, Content: "hi"},
	})
	if n != 1 {
		t.Fatalf("expected delivery to 1 connection, got %d", n)
	}

	ev := mustEvent(t, bob.Events, EventReceiveMessage)
	if ev.Message == nil || ev.Message.Content != "hi" || ev.Message.SenderID != 1 {
		t.Fatalf("unexpected message event: %+v", ev)
	}
}

func TestHubPublishWithoutListenerIsDropped(t *testing.T) {
	hub, ctx := startHub(t)

	n := hub.Publish(ctx, ChannelName(99), &Event{Kind: EventReceiveMessage, Message: &Message{ID: 1}})
	if n != 0 {
		t.Fatalf("expected no delivery, got %d", n)
	}
	if hub.Online(ctx, ChannelName(99)) {
		t.Fatalf("user 99 should not be online")
	}
}

func TestHubJoinOtherUsersChannelIsUnauthorized(t *testing.T) {
	hub, ctx := startHub(t)

	mallory := NewClient(3, "mallory")
	hub.RegisterClient(mallory)
	mallory.Commands <- &Command{Kind: CommandJoin, Channel: ChannelName(2)}

	ev := mustEvent(t, mallory.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", ev)
	}
	if hub.Online(ctx, ChannelName(2)) {
		t.Fatalf("channel 2 must stay empty")
	}
}

func TestHubRejoinDoesNotError(t *testing.T) {
	hub, ctx := startHub(t)

	alice := joinedClient(t, hub, 1)
	alice.Commands <- &Command{Kind: CommandJoin, Channel: ChannelName(1)}
	mustEvent(t, alice.Events, EventJoined)

	if n := hub.Publish(ctx, ChannelName(1), &Event{Kind: EventMessageRead}); n != 1 {
		t.Fatalf("rejoin must not duplicate membership, got %d deliveries", n)
	}
}

func TestHubTwoConnectionsSameUser(t *testing.T) {
	hub, ctx := startHub(t)

	tab1 := joinedClient(t, hub, 5)
	tab2 := joinedClient(t, hub, 5)

	if n := hub.Publish(ctx, ChannelName(5), &Event{Kind: EventReceiveMessage, Message: &Message{ID: 9}}); n != 2 {
		t.Fatalf("expected both tabs to receive, got %d", n)
	}
	mustEvent(t, tab1.Events, EventReceiveMessage)
	mustEvent(t, tab2.Events, EventReceiveMessage)
}

func TestHubUnregisterTearsDownPresence(t *testing.T) {
	hub, ctx := startHub(t)

	alice := joinedClient(t, hub, 1)
	if !hub.Online(ctx, ChannelName(1)) {
		t.Fatalf("alice should be online after join")
	}

	hub.UnregisterClient(alice)

	select {
	case _, ok := <-alice.Events:
		if ok {
			// drain anything queued before close
			for range alice.Events {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events channel was not closed")
	}

	if hub.Online(ctx, ChannelName(1)) {
		t.Fatalf("alice should be offline after disconnect")
	}
	if n := hub.Publish(ctx, ChannelName(1), &Event{Kind: EventReceiveMessage}); n != 0 {
		t.Fatalf("publish after disconnect should be dropped, got %d", n)
	}
}

func TestHubLeaveWithoutJoinProducesError(t *testing.T) {
	hub, _ := startHub(t)

	alice := NewClient(1, "alice")
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandLeave}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeNotJoined {
		t.Fatalf("expected not_joined error, got %+v", ev)
	}
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	hub, ctx := startHub(t)

	alice := joinedClient(t, hub, 1)
	alice.Commands <- &Command{Kind: CommandLeave}
	mustEvent(t, alice.Events, EventLeft)

	if n := hub.Publish(ctx, ChannelName(1), &Event{Kind: EventReceiveMessage}); n != 0 {
		t.Fatalf("expected no delivery after leave, got %d", n)
	}
}
