package distrib

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBarrierReleasesAllWorkers(t *testing.T) {
	const size = 4
	group, err := NewLocalGroup(size, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, size)
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Two consecutive rounds to exercise barrier reuse.
			for round := 0; round < 2; round++ {
				if err := group.Barrier().Wait(); err != nil {
					errs[i] = err
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %v: %v", i, err)
		}
	}
}

func TestBarrierTimesOutWithMissingWorker(t *testing.T) {
	group, err := NewLocalGroup(2, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	if err := group.Barrier().Wait(); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestAllReduceSums(t *testing.T) {
	const size = 3
	group, err := NewLocalGroup(size, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	vecs := make([][]float64, size)
	var wg sync.WaitGroup
	errs := make([]error, size)
	for i := 0; i < size; i++ {
		vecs[i] = []float64{float64(i), 1, -float64(i)}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = group.AllReducer().AllReduce(vecs[i])
		}(i)
	}
	wg.Wait()

	want := []float64{3, 3, -3}
	for i := 0; i < size; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %v: %v", i, errs[i])
		}
		for j := range want {
			if vecs[i][j] != want[j] {
				t.Errorf("worker %v element %v \n\twant(%v)\n\thave(%v)",
					i, j, want[j], vecs[i][j])
			}
		}
	}
}

func TestAllReduceSingleWorkerIsIdentity(t *testing.T) {
	group, err := NewLocalGroup(1, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	x := []float64{1.5, -2.25}
	if err := group.AllReducer().AllReduce(x); err != nil {
		t.Fatal(err)
	}
	if x[0] != 1.5 || x[1] != -2.25 {
		t.Errorf("single worker reduce changed values: %v", x)
	}
}

func TestKVStoreWaitBlocksUntilSet(t *testing.T) {
	store := NewLocalKVStore(time.Second)

	done := make(chan error, 1)
	go func() {
		if err := store.Wait("files"); err != nil {
			done <- err
			return
		}
		_, err := store.Get("files")
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	if err := store.Set("files", "a;b;c"); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	value, err := store.Get("files")
	if err != nil {
		t.Fatal(err)
	}
	if value != "a;b;c" {
		t.Errorf("wrong value \n\twant(%v)\n\thave(%v)", "a;b;c", value)
	}

	// A Wait after the Set returns immediately.
	if err := store.Wait("files"); err != nil {
		t.Errorf("wait on a published key: %v", err)
	}
}

func TestKVStoreTimesOut(t *testing.T) {
	store := NewLocalKVStore(20 * time.Millisecond)
	if err := store.Wait("missing"); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestKVStoreGetMissingKey(t *testing.T) {
	store := NewLocalKVStore(time.Second)
	if _, err := store.Get("missing"); err == nil {
		t.Error("expected an error for a missing key")
	}
}
