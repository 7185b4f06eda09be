package secmem

import (
	"fmt"
	"strings"
	"testing"
)

func TestConstantTimeEquals(t *testing.T) {
	cases := []struct {
		secret    string
		candidate string
		want      bool
	}{
		{"", "", true},
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"abc", "ab", false},
		{"abc", "abcd", false},
		{"\x00\x00", "\x00\x00", true},
		{strings.Repeat("f", 64), strings.Repeat("f", 64), true},
		{strings.Repeat("f", 64), strings.Repeat("f", 63) + "e", false},
	}
	for _, c := range cases {
		s := FromString(c.secret)
		if got := s.ConstantTimeEquals(c.candidate); got != c.want {
			t.Errorf("ConstantTimeEquals(%q, %q) = %v, want %v", c.secret, c.candidate, got, c.want)
		}
	}
}

func TestFromBytesTakesOwnership(t *testing.T) {
	raw := []byte("tok-value")
	s := FromBytes(raw)

	if !s.ConstantTimeEquals("tok-value") {
		t.Fatal("wrapped bytes did not compare equal")
	}

	s.Wipe()
	for i, b := range raw {
		if b != 0 {
			t.Fatalf("raw[%d] = %q after Wipe, want zero", i, b)
		}
	}
}

func TestWipedSecretMatchesNothing(t *testing.T) {
	s := FromString("abc")
	s.Wipe()

	if s.ConstantTimeEquals("abc") {
		t.Error("wiped secret still compares equal to its old value")
	}
	if s.ConstantTimeEquals("") {
		t.Error("wiped secret compares equal to the empty string")
	}
	if s.Len() != 0 {
		t.Errorf("Len after Wipe = %d, want 0", s.Len())
	}
}

func TestNilSecretIsInert(t *testing.T) {
	var s *Secret
	if s.ConstantTimeEquals("") {
		t.Error("nil secret compared equal")
	}
	if s.Len() != 0 {
		t.Errorf("nil Len = %d, want 0", s.Len())
	}
	s.Wipe() // must not panic
}

func TestFormattingNeverLeaksValue(t *testing.T) {
	s := FromString("hunter2")

	for _, rendered := range []string{
		fmt.Sprintf("%v", s),
		fmt.Sprintf("%s", s),
		fmt.Sprintf("%#v", s),
		fmt.Sprint(s),
	} {
		if strings.Contains(rendered, "hunter2") {
			t.Fatalf("secret value leaked through formatting: %q", rendered)
		}
		if !strings.Contains(rendered, "redacted") {
			t.Fatalf("formatting did not redact: %q", rendered)
		}
	}
}

func TestDoubleWipeIsSafe(t *testing.T) {
	s := FromString("x")
	s.Wipe()
	s.Wipe()
}
