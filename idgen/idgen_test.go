package idgen

import "testing"

func TestCode_LengthAndAlphabet(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := Code(DefaultLength)
		if !Valid(c, DefaultLength) {
			t.Fatalf("generated invalid code %q", c)
		}
	}
	if got := len(Code(0)); got != DefaultLength {
		t.Errorf("Expected default length for n<=0, got %d", got)
	}
}

func TestCode_VariesBetweenCalls(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		seen[Code(8)] = struct{}{}
	}
	if len(seen) < 45 {
		t.Errorf("Expected mostly distinct codes, got %d distinct of 50", len(seen))
	}
}

func TestValid(t *testing.T) {
	if Valid("abc123", 6) {
		t.Error("lower case must not be valid")
	}
	if Valid("ABCDE0", 6) {
		t.Error("ambiguous 0 must not be valid")
	}
	if Valid("ABCDE", 6) {
		t.Error("short code must not be valid")
	}
}
