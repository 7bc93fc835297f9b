package utils

import (
	"regexp"
	"testing"
)

func TestGenerateNumericCode(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{4}$`)
	for i := 0; i < 50; i++ {
		code, err := GenerateNumericCode(4)
		if err != nil {
			t.Fatalf("GenerateNumericCode() error: %v", err)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("code %q is not 4 digits", code)
		}
	}
	if _, err := GenerateNumericCode(0); err == nil {
		t.Error("length 0 accepted")
	}
}

func TestHashAndCompareSecret(t *testing.T) {
	hash, err := HashSecret("0427")
	if err != nil {
		t.Fatalf("HashSecret() error: %v", err)
	}
	if !CompareSecret(hash, "0427") {
		t.Error("matching secret rejected")
	}
	if CompareSecret(hash, "0428") {
		t.Error("wrong secret accepted")
	}
	if CompareSecret("", "0427") {
		t.Error("empty hash accepted")
	}
}
