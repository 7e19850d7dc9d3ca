package identity

import (
	"testing"
	"time"

	"github.com/hitoshi/expensetracker/internal/model"
)

func TestMailbox_DeliversInOrder(t *testing.T) {
	got := make(chan string, 10)
	mb := newMailbox(func(s *model.Session) {
		if s == nil {
			got <- "nil"
			return
		}
		got <- s.UserID
	})
	defer mb.close()

	mb.post(&model.Session{UserID: "a"})
	mb.post(nil)
	mb.post(&model.Session{UserID: "b"})

	want := []string{"a", "nil", "b"}
	for i, w := range want {
		select {
		case v := <-got:
			if v != w {
				t.Errorf("delivery %d = %q, want %q", i, v, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("delivery %d timed out", i)
		}
	}
}

func TestMailbox_PostDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	mb := newMailbox(func(s *model.Session) { <-release })
	defer func() {
		close(release)
		mb.close()
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			mb.post(nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("post blocked on a slow listener")
	}
}

func TestMailbox_CloseStopsDelivery(t *testing.T) {
	got := make(chan struct{}, 10)
	mb := newMailbox(func(s *model.Session) { got <- struct{}{} })

	mb.close()
	mb.close()
	mb.post(nil)

	select {
	case <-got:
		t.Error("listener called after close")
	case <-time.After(50 * time.Millisecond):
	}
}
