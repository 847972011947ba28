package providers

import (
	"errors"
	"strings"
	"testing"
)

func TestID_Valid(t *testing.T) {
	for _, id := range All() {
		if !id.Valid() {
			t.Errorf("%s should be valid", id)
		}
	}

	if ID("grok").Valid() {
		t.Error("grok should be invalid")
	}
	if ID("").Valid() {
		t.Error("empty id should be invalid")
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	first := All()
	if len(first) != 5 {
		t.Fatalf("All() returned %d providers, want 5", len(first))
	}

	original := first[0]
	first[0] = ID("mangled")

	if got := All()[0]; got != original {
		t.Errorf("All()[0] = %s after mutating a previous result, want %s", got, original)
	}
}

func TestID_Display(t *testing.T) {
	tests := []struct {
		id   ID
		want string
	}{
		{Claude, "Claude"},
		{OpenAI, "OpenAI"},
		{Gemini, "Gemini"},
		{Kimi, "Kimi"},
		{Groq, "Groq"},
	}

	for _, tt := range tests {
		if got := tt.id.Display(); got != tt.want {
			t.Errorf("Display(%s) = %s, want %s", tt.id, got, tt.want)
		}
	}
}

func TestProviderError_Error(t *testing.T) {
	t.Run("with status code", func(t *testing.T) {
		err := &ProviderError{Provider: Groq, StatusCode: 429, Message: "Groq API error: 429 - slow down"}

		if !strings.Contains(err.Error(), "429") {
			t.Errorf("Error() = %q, want status code included", err.Error())
		}
		if !strings.Contains(err.Error(), "groq") {
			t.Errorf("Error() = %q, want provider included", err.Error())
		}
	})

	t.Run("without status code", func(t *testing.T) {
		err := &ProviderError{Provider: Gemini, Message: "connection refused"}

		if !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("Error() = %q, want message included", err.Error())
		}
	})
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &ProviderError{Provider: Kimi, Message: "wrapped", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestNewNotConfiguredError(t *testing.T) {
	err := NewNotConfiguredError(OpenAI)

	if !errors.Is(err, ErrNotConfigured) {
		t.Error("errors.Is(err, ErrNotConfigured) should be true")
	}
	if !strings.Contains(err.Error(), "OpenAI") {
		t.Errorf("Error() = %q, want provider display name", err.Error())
	}
	if err.Code != "not_initialized" {
		t.Errorf("Code = %s, want not_initialized", err.Code)
	}
}
