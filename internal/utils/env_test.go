package utils

import "testing"

func TestGetEnv(t *testing.T) {
	if got := GetEnv("PHENOSCOPE_TEST_UNSET", "fallback", nil); got != "fallback" {
		t.Fatalf("unset: got %q, want %q", got, "fallback")
	}
	t.Setenv("PHENOSCOPE_TEST_STR", "value")
	if got := GetEnv("PHENOSCOPE_TEST_STR", "fallback", nil); got != "value" {
		t.Fatalf("set: got %q, want %q", got, "value")
	}
}

func TestGetEnvAsInt(t *testing.T) {
	if got := GetEnvAsInt("PHENOSCOPE_TEST_UNSET", 7, nil); got != 7 {
		t.Fatalf("unset: got %d, want 7", got)
	}
	t.Setenv("PHENOSCOPE_TEST_INT", "42")
	if got := GetEnvAsInt("PHENOSCOPE_TEST_INT", 7, nil); got != 42 {
		t.Fatalf("set: got %d, want 42", got)
	}
	t.Setenv("PHENOSCOPE_TEST_INT", "not-a-number")
	if got := GetEnvAsInt("PHENOSCOPE_TEST_INT", 7, nil); got != 7 {
		t.Fatalf("unparsable: got %d, want 7", got)
	}
}
