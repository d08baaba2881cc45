package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it on the event stream of a session that is being thrown away so the
// producer never blocks on a full channel.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
