package memzero

import (
	"bytes"
	"testing"
)

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Zero(b)
	if !bytes.Equal(b, make([]byte, 4)) {
		t.Fatalf("not wiped: %v", b)
	}
	Zero(nil)
}

func TestAll(t *testing.T) {
	a, b := []byte{9, 9}, []byte{7}
	var arr [3]byte
	arr[1] = 5
	All(a, nil, b, arr[:])
	if a[0]|a[1]|b[0]|arr[1] != 0 {
		t.Fatalf("not wiped: %v %v %v", a, b, arr)
	}
}
