package main

import "testing"

func TestGetenvFloatStrict(t *testing.T) {
	const key = "AGENTGATE_TEST_FLOAT"

	if _, ok, err := getenvFloatStrict(key); ok || err != nil {
		t.Fatalf("unset: ok=%v err=%v", ok, err)
	}

	t.Setenv(key, "")
	if _, ok, err := getenvFloatStrict(key); !ok || err == nil {
		t.Fatalf("empty: ok=%v err=%v, want set error", ok, err)
	}

	t.Setenv(key, "not-a-number")
	if _, ok, err := getenvFloatStrict(key); !ok || err == nil {
		t.Fatalf("garbage: ok=%v err=%v, want set error", ok, err)
	}

	t.Setenv(key, "12.5")
	f, ok, err := getenvFloatStrict(key)
	if !ok || err != nil || f != 12.5 {
		t.Fatalf("valid: f=%v ok=%v err=%v", f, ok, err)
	}
}
