package presence

import (
	"sync"
	"testing"
)

func TestPersonLocksSerializeSamePerson(t *testing.T) {
	locks := newPersonLocks()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.acquire("p1")
			counter++
			locks.release("p1")
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
	if len(locks.locks) != 0 {
		t.Errorf("lock map leaked %d entries", len(locks.locks))
	}
}

func TestPersonLocksIndependentPeople(t *testing.T) {
	locks := newPersonLocks()
	locks.acquire("p1")

	done := make(chan struct{})
	go func() {
		locks.acquire("p2")
		locks.release("p2")
		close(done)
	}()
	<-done // p2 must not block behind p1

	locks.release("p1")
}
