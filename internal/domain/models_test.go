package domain

import "testing"

func TestNormalizeQuestionsCapsTimeLimit(t *testing.T) {
	out := NormalizeQuestions([]Question{
		{Text: "huge", Options: []string{"a"}, CorrectOption: "a", TimeLimitSeconds: 20_000_000},
		{Text: "default", Options: []string{"a"}, CorrectOption: "a"},
		{Text: "kept", Options: []string{"a"}, CorrectOption: "a", TimeLimitSeconds: 45},
	})
	if out[0].TimeLimitSeconds != MaxTimeLimitSeconds {
		t.Fatalf("expected limit capped to %d, got %d", MaxTimeLimitSeconds, out[0].TimeLimitSeconds)
	}
	if out[1].TimeLimitSeconds != DefaultTimeLimitSeconds {
		t.Fatalf("expected default limit, got %d", out[1].TimeLimitSeconds)
	}
	if out[2].TimeLimitSeconds != 45 {
		t.Fatalf("expected limit kept, got %d", out[2].TimeLimitSeconds)
	}
}

func TestValidRoomCode(t *testing.T) {
	valid := []string{"ABCD", "room-1", "quiz_42", "a"}
	for _, code := range valid {
		if !ValidRoomCode(code) {
			t.Fatalf("expected %q to be valid", code)
		}
	}
	invalid := []string{"", " ABCD", "ABCD ", "a.b", "a*", "a>", "a b", "ä", "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456"}
	for _, code := range invalid {
		if ValidRoomCode(code) {
			t.Fatalf("expected %q to be rejected", code)
		}
	}
}
