package eventq

import (
	"testing"
	"time"
)

func TestOffer(t *testing.T) {
	ch := make(chan int, 1)
	if !Offer(ch, 1) {
		t.Fatal("first Offer() = false, want true")
	}
	if Offer(ch, 2) {
		t.Fatal("Offer() on full channel = true, want false")
	}
	close(ch)
	if Offer(ch, 3) {
		t.Fatal("Offer() on closed channel = true, want false")
	}
}

func TestOfferDropOldest(t *testing.T) {
	ch := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		if dropped := OfferDropOldest(ch, i); dropped != 0 {
			t.Fatalf("OfferDropOldest(%d) dropped %d, want 0", i, dropped)
		}
	}
	if dropped := OfferDropOldest(ch, 4); dropped != 1 {
		t.Fatalf("OfferDropOldest(4) dropped %d, want 1", dropped)
	}
	if dropped := OfferDropOldest(ch, 5); dropped != 1 {
		t.Fatalf("OfferDropOldest(5) dropped %d, want 1", dropped)
	}

	var got []int
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drained %v, want %v", got, want)
		}
	}
}

func TestOfferDropOldestUnbuffered(t *testing.T) {
	ch := make(chan int)
	if dropped := OfferDropOldest(ch, 1); dropped != 1 {
		t.Fatalf("OfferDropOldest on unbuffered channel dropped %d, want 1", dropped)
	}
}

func TestOfferDropOldestClosed(t *testing.T) {
	ch := make(chan int, 2)
	ch <- 1
	ch <- 2
	close(ch)

	done := make(chan int, 1)
	go func() { done <- OfferDropOldest(ch, 3) }()
	select {
	case dropped := <-done:
		if dropped != 3 {
			t.Fatalf("OfferDropOldest on closed channel dropped %d, want 3", dropped)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OfferDropOldest on closed channel did not return")
	}
}
