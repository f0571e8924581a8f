package types

import (
	"strings"
	"testing"
)

func TestAssetID(t *testing.T) {
	t.Run("RoundtripTemplate", func(t *testing.T) {
		id := NewAssetID(TemplateID(1))
		if !id.Valid() {
			t.Fatalf("Expected generated asset id to be valid, got %q", id)
		}
		tpl, err := id.TemplateID()
		if err != nil {
			t.Fatalf("Failed to extract template id: %v", err)
		}
		if tpl != TemplateID(1) {
			t.Errorf("Expected template 1, got %s", tpl)
		}
	})

	t.Run("Length", func(t *testing.T) {
		id := NewAssetID(TemplateID(42))
		if len(id) != 64 {
			t.Errorf("Expected 64 characters, got %d", len(id))
		}
		if id[24] != '.' {
			t.Errorf("Expected separator at position 24, got %q", id[24])
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		cases := []AssetID{
			"",
			"short",
			AssetID(strings.Repeat("a", 64)),                       // no separator
			AssetID("zz" + string(NewAssetID(TemplateID(1)))[2:]),  // bad hex template
			AssetID(string(NewAssetID(TemplateID(1))) + "toolong"), // wrong length
		}
		for _, c := range cases {
			if c.Valid() {
				t.Errorf("Expected %q to be invalid", c)
			}
		}
	})
}

func TestTokenID(t *testing.T) {
	asset := NewAssetID(TemplateID(1))

	t.Run("Roundtrip", func(t *testing.T) {
		token := NewTokenID(asset)
		if !token.Valid() {
			t.Fatalf("Expected generated token id to be valid, got %q", token)
		}
		if token.AssetID() != asset {
			t.Errorf("Expected owning asset %s, got %s", asset, token.AssetID())
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		if TokenID("").Valid() {
			t.Error("Expected empty token id to be invalid")
		}
		if TokenID(asset).Valid() {
			t.Error("Expected bare asset id to be an invalid token id")
		}
		if TokenID(string(asset) + ".short").Valid() {
			t.Error("Expected truncated suffix to be invalid")
		}
	})
}

func TestInstructionStatusTerminal(t *testing.T) {
	terminal := []InstructionStatus{StatusCommit, StatusInvalid}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}
	open := []InstructionStatus{StatusScheduled, StatusProcessing, StatusPending}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
}

func TestParseInstructionStatus(t *testing.T) {
	s, err := ParseInstructionStatus("Pending")
	if err != nil {
		t.Fatalf("Failed to parse status: %v", err)
	}
	if s != StatusPending {
		t.Errorf("Expected Pending, got %s", s)
	}
	if _, err := ParseInstructionStatus("Waiting"); err == nil {
		t.Error("Expected error for unknown status")
	}
}
