package common

import (
	"encoding/hex"
	"strconv"
	"testing"
)

func TestMakeRandHexString_LengthAndHex(t *testing.T) {
	const n = 16
	s, err := MakeRandHexString(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != n*2 {
		t.Fatalf("expected hex length %d, got %d", n*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		t.Fatalf("string is not valid hex: %v", err)
	}
}

func TestMakeNumericCode_DigitsOnly(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := MakeNumericCode(4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != 4 {
			t.Fatalf("expected 4 digits, got %q", code)
		}
		if _, err := strconv.Atoi(code); err != nil {
			t.Fatalf("code is not numeric: %q", code)
		}
	}
}

func TestGenerateRandByteArray_Basic(t *testing.T) {
	const n = 24
	buf := GenerateRandByteArray(n)
	if len(buf) != n {
		t.Fatalf("expected length %d, got %d", n, len(buf))
	}
}

func TestWipeByteArray_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
}

func TestWipeByteArray_NilSafe(t *testing.T) {
	WipeByteArray(nil)
}
