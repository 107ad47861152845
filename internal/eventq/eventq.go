// Package eventq holds non-blocking channel send helpers used by fan-out code
// that must never stall its producer.
package eventq

// Offer performs a non-blocking send.
// It returns true when the value was sent and false when the channel is full
// or already closed.
func Offer[T any](ch chan<- T, value T) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}

// OfferDropOldest sends value on a buffered channel, evicting the oldest
// queued values until it fits. It returns how many values were evicted,
// counting value itself when it could not be queued at all (unbuffered or
// closed channel).
//
// ch must be owned by the caller on the sending side and no other goroutine
// may send on it concurrently; receivers may run concurrently.
func OfferDropOldest[T any](ch chan T, value T) (dropped int) {
	for {
		if Offer(ch, value) {
			return dropped
		}
		if cap(ch) == 0 {
			return dropped + 1
		}
		select {
		case _, ok := <-ch:
			if !ok {
				return dropped + 1
			}
			dropped++
		default:
		}
	}
}
