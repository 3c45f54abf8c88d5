// Package safebuf provides allocation-free byte helpers for the trace
// record path.
//
// The record path runs between a caller's decision to replace its process
// image and the system call that does it, so everything it touches must work
// out of caller-provided buffers. The decimal conversions here are
// open-coded rather than delegated to strconv: AppendUint stages digits in a
// fixed 32-byte frame, and ParseUint consumes the longest leading digit run
// and stops at the first non-digit instead of returning an error.
package safebuf

// UintBufLen is the capacity needed to format any uint64 in decimal.
const UintBufLen = 32

// AppendUint appends the decimal representation of v to dst and returns the
// extended slice. No leading zeros are produced except for the value 0.
func AppendUint(dst []byte, v uint64) []byte {
	var tmp [UintBufLen]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = '0' + byte(v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return append(dst, tmp[i:]...)
}

// ParseUint consumes the longest leading run of ASCII digits in b and
// returns its value along with the unconsumed remainder. A non-digit ends
// the run; an empty run yields 0 with rest == b. Overflow is not detected;
// callers guarantee the field fits in a uint64.
func ParseUint(b []byte) (v uint64, rest []byte) {
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		v = v*10 + uint64(b[i]-'0')
		i++
	}
	return v, b[i:]
}

// JoinLen returns the total byte length of parts.
func JoinLen(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	return total
}

// Join appends each part to dst in order and returns the extended slice.
// Callers size dst with JoinLen so the whole message lands in one buffer
// and can be written with a single system call.
func Join(dst []byte, parts ...string) []byte {
	for _, p := range parts {
		dst = append(dst, p...)
	}
	return dst
}
