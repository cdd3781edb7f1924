package transfer

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		data     string
		expected string
	}{
		{"hello world", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	}

	for _, tt := range tests {
		sum, err := Checksum(strings.NewReader(tt.data))
		if err != nil {
			t.Fatalf("Checksum(%q) failed: %v", tt.data, err)
		}
		if sum != tt.expected {
			t.Errorf("Checksum(%q): Expected %s, got %s", tt.data, tt.expected, sum)
		}
	}
}

func TestSeekChecksumRewinds(t *testing.T) {
	r := bytes.NewReader([]byte("xxhello world"))
	if _, err := r.Seek(2, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}

	sum, err := SeekChecksum(r, 11)
	if err != nil {
		t.Fatalf("SeekChecksum failed: %v", err)
	}
	if sum != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("Unexpected checksum %s", sum)
	}

	rest, _ := io.ReadAll(r)
	if string(rest) != "hello world" {
		t.Errorf("Expected reader rewound to offset 2, got %q", rest)
	}
}

func TestVerifyChecksum(t *testing.T) {
	good := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

	if err := VerifyChecksum([]byte("hello world"), good); err != nil {
		t.Errorf("Expected match, got %v", err)
	}
	if err := VerifyChecksum([]byte("anything"), ""); err != nil {
		t.Errorf("Expected empty checksum to be accepted, got %v", err)
	}
	if err := VerifyChecksum([]byte("hello there"), good); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Expected ErrChecksumMismatch, got %v", err)
	}
}
