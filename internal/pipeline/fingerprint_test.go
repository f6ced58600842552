package pipeline

import "testing"

func TestSessionFingerprintDeterministic(t *testing.T) {
	body := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "please help me debug this failing test"},
		},
	}
	a := SessionFingerprint("claude-3-5-sonnet", body)
	b := SessionFingerprint("claude-3-5-sonnet", body)
	if a != b {
		t.Fatalf("expected deterministic fingerprint, got %q and %q", a, b)
	}
	if len(a) != len("sid-")+16 {
		t.Fatalf("expected a 16-hex-char fingerprint with sid- prefix, got %q", a)
	}
}

func TestSessionFingerprintIgnoresShortAndSystemReminderMessages(t *testing.T) {
	short := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "hi"},
		},
	}
	reminder := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "<system-reminder>some long injected context here</system-reminder>"},
		},
	}
	empty := map[string]any{"messages": []any{}}

	a := SessionFingerprint("m", short)
	b := SessionFingerprint("m", reminder)
	c := SessionFingerprint("m", empty)
	if a != b || b != c {
		t.Fatalf("expected all three to fall back to the empty-message fingerprint, got %q %q %q", a, b, c)
	}
}

func TestSessionFingerprintVariesByModelAndMessage(t *testing.T) {
	body1 := map[string]any{"messages": []any{map[string]any{"role": "user", "content": "please fix the memory leak in the parser"}}}
	body2 := map[string]any{"messages": []any{map[string]any{"role": "user", "content": "please fix the race condition in the scheduler"}}}

	if SessionFingerprint("m1", body1) == SessionFingerprint("m2", body1) {
		t.Fatal("expected different models to produce different fingerprints")
	}
	if SessionFingerprint("m1", body1) == SessionFingerprint("m1", body2) {
		t.Fatal("expected different messages to produce different fingerprints")
	}
}
