package distributed_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raysh454/fatt/internal/distributed"
)

func TestRegistry_ReRegistrationReplaces(t *testing.T) {
	t.Parallel()
	r := distributed.NewRegistry()
	first := &distributed.ConnectedWorker{ID: "w1", RemoteAddr: "10.0.0.1:1"}
	second := &distributed.ConnectedWorker{ID: "w1", RemoteAddr: "10.0.0.2:1"}

	if old := r.Register(first); old != nil {
		t.Fatalf("expected no previous entry, got %+v", old)
	}
	if old := r.Register(second); old != first {
		t.Fatalf("expected first entry to be replaced, got %+v", old)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one entry, got %d", r.Len())
	}
	got, _ := r.Get("w1")
	if got.RemoteAddr != "10.0.0.2:1" {
		t.Errorf("expected replacement entry, got %+v", got)
	}

	if r.Remove("w1", first) {
		t.Error("stale entry must not remove its replacement")
	}
	if r.UpdateStatus(first, distributed.Status{ActiveScans: 5}, time.Now()) {
		t.Error("stale entry must not update status")
	}
	if !r.Remove("w1", second) || r.Len() != 0 {
		t.Error("expected current entry removed")
	}
}

func TestRegistry_ListSortedAndStatus(t *testing.T) {
	t.Parallel()
	r := distributed.NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.Register(&distributed.ConnectedWorker{ID: id})
	}
	list := r.List()
	if len(list) != 3 || list[0].ID != "a" || list[2].ID != "c" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestRegistry_ChangedFiresOnRegister(t *testing.T) {
	t.Parallel()
	r := distributed.NewRegistry()
	ch := r.Changed()
	r.Register(&distributed.ConnectedWorker{ID: "x"})
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Changed did not fire")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	t.Parallel()
	r := distributed.NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := &distributed.ConnectedWorker{ID: fmt.Sprintf("w%d", i%10)}
			r.Register(w)
			r.UpdateStatus(w, distributed.Status{CompletedScans: int64(i)}, time.Now())
			_ = r.List()
			if i%2 == 0 {
				r.Remove(w.ID, w)
			}
		}(i)
	}
	wg.Wait()
	if r.Len() > 10 {
		t.Fatalf("expected at most 10 ids, got %d", r.Len())
	}
}
