package bus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(8)
	for i, id := range []string{"m1", "m2", "m3"} {
		if err := q.Enqueue(&InboundMessage{ID: id, Content: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"m1", "m2", "m3"} {
		msg, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if msg.ID != want {
			t.Errorf("dequeued %s, want %s", msg.ID, want)
		}
	}
}

func TestQueueFullAndStatus(t *testing.T) {
	q := NewQueue(1)
	if err := q.Enqueue(&InboundMessage{ID: "m1"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(&InboundMessage{ID: "m2"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second enqueue = %v, want ErrQueueFull", err)
	}

	if s, _, ok := q.Status("m1"); !ok || s != StatusQueued {
		t.Errorf("status = %q, want queued", s)
	}
	msg, ok := q.TryDequeue()
	if !ok || msg.ID != "m1" {
		t.Fatal("TryDequeue failed")
	}
	if s, _, _ := q.Status("m1"); s != StatusDelivered {
		t.Errorf("status = %q, want delivered", s)
	}
	q.MarkFailed("m1", "sandbox exited 1")
	if s, reason, _ := q.Status("m1"); s != StatusFailed || reason != "sandbox exited 1" {
		t.Errorf("failed status not recorded: %q %q", s, reason)
	}
}

func TestStatusTrackingBounded(t *testing.T) {
	q := NewQueue(1)
	for i := 0; i <= maxTracked; i++ {
		q.MarkFailed(fmt.Sprintf("m%d", i), "sandbox exited 1")
	}

	if _, _, ok := q.Status("m0"); ok {
		t.Error("oldest entry survived past the cap")
	}
	if s, _, ok := q.Status(fmt.Sprintf("m%d", maxTracked)); !ok || s != StatusFailed {
		t.Errorf("newest entry missing: %q %v", s, ok)
	}
	if len(q.status) != maxTracked || len(q.order) != maxTracked {
		t.Errorf("tracked = %d/%d, want %d", len(q.status), len(q.order), maxTracked)
	}

	// Updating an already tracked id must not evict anything.
	q.MarkFailed(fmt.Sprintf("m%d", maxTracked), "again")
	if len(q.status) != maxTracked {
		t.Errorf("update evicted: tracked = %d", len(q.status))
	}
}

func TestDequeueCancellation(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("dequeue on empty queue = %v, want deadline exceeded", err)
	}
}

func TestValidateAttachments(t *testing.T) {
	ok := make([]Attachment, 3)
	for i := range ok {
		ok[i] = Attachment{Name: "f", Size: 1024}
	}
	if err := ValidateAttachments(ok); err != nil {
		t.Errorf("small attachments rejected: %v", err)
	}

	many := make([]Attachment, MaxAttachments+1)
	if err := ValidateAttachments(many); err == nil {
		t.Error("count bound not enforced")
	}

	big := []Attachment{{Name: "f", Size: MaxAttachmentBytes + 1}}
	if err := ValidateAttachments(big); err == nil {
		t.Error("size bound not enforced")
	}
}
