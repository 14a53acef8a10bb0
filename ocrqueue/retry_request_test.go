package ocrqueue

import "testing"

func TestRetryRequest_ValidLanguage(t *testing.T) {
	r := RetryRequest{Language: "eng"}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestRetryRequest_InvalidLanguageCode(t *testing.T) {
	r := RetryRequest{Language: "en"}
	if err := r.Validate(); err == nil {
		t.Fatal("expected a 2-letter code to be rejected")
	}
}

func TestRetryRequest_TooManyLanguages(t *testing.T) {
	r := RetryRequest{Languages: []string{"eng", "spa", "fra", "deu", "ita"}}
	if err := r.Validate(); err == nil {
		t.Fatal("expected more than 4 languages to be rejected")
	}
}

func TestRetryRequest_ResolveLanguagesPrefersPlural(t *testing.T) {
	r := RetryRequest{Language: "eng", Languages: []string{"spa"}}
	got := r.ResolveLanguages()
	if len(got) != 1 || got[0] != "spa" {
		t.Fatalf("expected languages to take precedence, got %v", got)
	}
}

func TestRetryRequest_ResolveLanguagesFallsBackToSingular(t *testing.T) {
	r := RetryRequest{Language: "eng"}
	got := r.ResolveLanguages()
	if len(got) != 1 || got[0] != "eng" {
		t.Fatalf("expected [eng], got %v", got)
	}
}
