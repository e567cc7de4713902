package live

import (
	"sync"
	"testing"
)

func TestDispatcher_RunsInOrder(t *testing.T) {
	var d dispatcher
	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		d.post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	d.sync()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d callbacks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d]=%d, want %d", i, v, i)
		}
	}
}

func TestDispatcher_CallbackMayPost(t *testing.T) {
	var d dispatcher
	done := make(chan struct{})
	d.post(func() {
		d.post(func() { close(done) })
	})
	<-done
}
