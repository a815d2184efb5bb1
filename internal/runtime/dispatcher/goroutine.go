package dispatcher

import "runtime"

// goroutineID parses the current goroutine id from the runtime stack header
// ("goroutine NNN [running]:"). It is only used to detect reentrant calls from
// the dispatch loop.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
