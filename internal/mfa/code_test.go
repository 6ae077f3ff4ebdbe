package mfa

import (
	"errors"
	"testing"
)

func TestNormalizeCode(t *testing.T) {
	valid := map[string]string{
		"123456":    "123456",
		"123 456":   "123456",
		" 12-34-56": "123456",
	}
	for in, want := range valid {
		got, err := NormalizeCode(in)
		if err != nil {
			t.Errorf("NormalizeCode(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", in, got, want)
		}
	}

	for _, in := range []string{"", "12345", "1234567", "12a456", "１２３４５６"} {
		if _, err := NormalizeCode(in); !errors.Is(err, ErrMalformedCode) {
			t.Errorf("NormalizeCode(%q) err = %v, want ErrMalformedCode", in, err)
		}
	}
}

func TestMaskCode(t *testing.T) {
	if got := MaskCode("123456"); got != "****56" {
		t.Errorf("MaskCode = %q", got)
	}
	if got := MaskCode("1"); got != "*" {
		t.Errorf("MaskCode short = %q", got)
	}
}
