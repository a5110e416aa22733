package utils

import "testing"

func TestCircuitIDFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewCircuitID()
		if !ValidateCircuitID(id) {
			t.Fatalf("generated circuit id %q does not validate", id)
		}
	}

	invalid := []string{"", "abcde", "abcdefghijk", "abcde_fghij", "abcd!-fghij", "abcdef-ghij"}
	for _, id := range invalid {
		if ValidateCircuitID(id) {
			t.Errorf("circuit id %q should not validate", id)
		}
	}
}

func TestEventIDsMonotonic(t *testing.T) {
	a := NextEventID()
	b := NextEventID()
	if b <= a {
		t.Fatalf("event ids must increase: %d then %d", a, b)
	}
}
