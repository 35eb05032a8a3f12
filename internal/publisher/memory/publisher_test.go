package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type notification struct {
	RunID        string `json:"run_id"`
	RestaurantID int64  `json:"restaurant_id"`
}

func TestPublishKeepsSnapshotNotifications(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	for i, id := range []int64{41, 42} {
		msgID, err := pub.Publish(ctx, "restaurant-details", notification{RunID: "run-7", RestaurantID: id})
		if err != nil {
			t.Fatalf("publish %d: %v", id, err)
		}
		if want := fmt.Sprintf("memory-%d", i+1); msgID != want {
			t.Fatalf("message id = %s, want %s", msgID, want)
		}
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if got := string(msgs[1].Data); got != `{"run_id":"run-7","restaurant_id":42}` {
		t.Fatalf("second payload = %s", got)
	}
	msgs[0].Topic = "elsewhere"
	if pub.Messages()[0].Topic != "restaurant-details" {
		t.Fatal("Messages must not expose the internal slice")
	}
}

func TestPublishFailure(t *testing.T) {
	t.Parallel()

	pub := New()
	down := errors.New("broker down")
	pub.FailWith(down)
	if _, err := pub.Publish(context.Background(), "restaurant-details", 1); !errors.Is(err, down) {
		t.Fatalf("err = %v, want broker down", err)
	}
	if n := len(pub.Messages()); n != 0 {
		t.Fatalf("failed publish was recorded (%d messages)", n)
	}

	pub.FailWith(nil)
	if _, err := pub.Publish(context.Background(), "restaurant-details", 1); err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	if _, err := New().Publish(context.Background(), "t", make(chan int)); err == nil {
		t.Fatal("expected an encoding error")
	}
}
