/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package memoize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalKey returns a deterministic serialization of args.
// Object keys are sorted at every nesting level, so maps and structs with the same content are
// serialized identically regardless of map iteration order.
func CanonicalKey(args any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("serialize arguments: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err = dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("decode serialized arguments: %w", err)
	}
	// encoding/json writes map keys in sorted order.
	if data, err = json.Marshal(generic); err != nil {
		return "", fmt.Errorf("serialize arguments: %w", err)
	}
	return string(data), nil
}

// HashedCanonicalKey returns the first 16 hex characters of SHA-256 of CanonicalKey(args).
// It keeps keys short when arguments are large.
func HashedCanonicalKey(args any) (string, error) {
	canonical, err := CanonicalKey(args)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:8]), nil
}

// MakeKey builds the store key for the given prefix and argument key.
func MakeKey(prefix, argsKey string) string {
	return prefix + "_" + argsKey
}
