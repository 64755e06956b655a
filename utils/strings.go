package utils

import (
	"unsafe"
)

// BytesToString converts without copying. The caller must not retain the
// result past the lifetime of b.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return *(*string)(unsafe.Pointer(&b))
}
