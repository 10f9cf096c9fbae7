package store

import (
	"reflect"
	"unsafe"
)

// UnsafeStringToBytes converts a string to []byte without a memcopy.
// The result must not be mutated.
func UnsafeStringToBytes(s string) []byte {
	ln := len(s)
	/* #nosec */
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  ln,
		Cap:  ln,
		Data: (*(*reflect.StringHeader)(unsafe.Pointer(&s))).Data,
	}))
}

// UnsafeBytesToString converts a []byte to string without a memcopy.
// The input must not be mutated afterwards.
func UnsafeBytesToString(b []byte) string {
	/* #nosec */
	return *(*string)(unsafe.Pointer(&reflect.StringHeader{Data: uintptr(unsafe.Pointer(&b[0])), Len: len(b)}))
}
