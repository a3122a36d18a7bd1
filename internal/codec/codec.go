// Package codec is the content encode/decode boundary. Message bodies
// cross it exactly once in each direction: outbound before the network
// send, inbound before the store write. The engine never inspects wire
// content.
package codec

import (
	"encoding/base64"
	"fmt"
)

// Codec transforms between plaintext and wire content.
type Codec interface {
	Encode(plaintext string) string
	Decode(wire string) string
}

// Plain passes content through unchanged.
type Plain struct{}

func (Plain) Encode(plaintext string) string { return plaintext }
func (Plain) Decode(wire string) string      { return wire }

// XOR is the legacy base64-wrapped XOR scheme. It is an obfuscation
// layer, not cryptography; real encryption slots in behind the same
// interface.
type XOR struct {
	key []byte
}

// NewXOR creates an XOR codec with the given key.
func NewXOR(key string) (*XOR, error) {
	if key == "" {
		return nil, fmt.Errorf("xor codec: empty key")
	}
	return &XOR{key: []byte(key)}, nil
}

func (c *XOR) Encode(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString(c.apply([]byte(plaintext)))
}

// Decode reverses Encode. Content that is not valid base64 is returned
// unchanged: older clients sent bodies unencoded and those messages
// still exist in server history.
func (c *XOR) Decode(wire string) string {
	if wire == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return wire
	}
	return string(c.apply(raw))
}

func (c *XOR) apply(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out
}
