package codec

import "testing"

func TestPlainRoundTrip(t *testing.T) {
	var c Plain
	if wire := c.Encode("hello"); wire != "hello" {
		t.Errorf("Encode = %q, want passthrough", wire)
	}
	if got := c.Decode("hello"); got != "hello" {
		t.Errorf("Decode = %q, want %q", got, "hello")
	}
}

func TestXORRoundTrip(t *testing.T) {
	c, err := NewXOR("test-key")
	if err != nil {
		t.Fatal(err)
	}
	tests := []string{"hi", "", "a longer message with spaces", "unicode: héllo 世界"}
	for _, plain := range tests {
		wire := c.Encode(plain)
		if plain != "" && wire == plain {
			t.Errorf("Encode(%q) produced identical wire content", plain)
		}
		if got := c.Decode(wire); got != plain {
			t.Errorf("round trip = %q, want %q", got, plain)
		}
	}
}

func TestXORDecodeNonBase64Passthrough(t *testing.T) {
	c, err := NewXOR("k")
	if err != nil {
		t.Fatal(err)
	}
	// Legacy unencoded content comes back unchanged.
	if got := c.Decode("not base64!!"); got != "not base64!!" {
		t.Errorf("Decode = %q, want passthrough", got)
	}
}

func TestXOREmptyKey(t *testing.T) {
	if _, err := NewXOR(""); err == nil {
		t.Error("NewXOR(\"\") expected error")
	}
}
