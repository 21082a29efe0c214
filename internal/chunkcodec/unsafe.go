package chunkcodec

import "unsafe"

// bytesToString reinterprets b as a string without copying. The result must
// not outlive b, and b must not be mutated while the string is alive; both
// hold here because callers only ever call this over an immutable mapped
// chunk (internal/mmapfile opens chunk files read-only).
func bytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
