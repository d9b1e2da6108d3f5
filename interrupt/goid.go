package interrupt

import "runtime"

// goid returns the runtime's ID for the calling goroutine, parsed from the
// first stack trace line. The runtime does not expose goroutine identity
// directly, and the controller needs it to tell the dispatching goroutine
// apart from the thread it conceptually interrupted.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack output starts with "goroutine <id> [".
	var id int64
	for _, ch := range buf[len("goroutine "):n] {
		if ch < '0' || ch > '9' {
			break
		}
		id = id*10 + int64(ch-'0')
	}
	return id
}
