package gatt

import (
	"fmt"
	"strings"
)

// Bluetooth SIG base UUID (0000xxxx-0000-1000-8000-00805f9b34fb) split around the 16-bit slot.
const (
	sigBasePrefix = "0000"
	sigBaseSuffix = "00001000800000805f9b34fb"
)

// NormalizeUUID converts a UUID string to the canonical registry form: lowercase, no dashes,
// braces or 0x prefix. 128-bit UUIDs built on the Bluetooth SIG base and 32-bit forms with a
// zero upper half are reduced to their 16-bit short form ("0000180d" -> "180d").
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.NewReplacer("-", "", "{", "", "}", "").Replace(u)

	if len(u) == 32 && strings.HasPrefix(u, sigBasePrefix) && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	if len(u) == 8 && strings.HasPrefix(u, sigBasePrefix) {
		return u[4:]
	}
	return u
}

// NormalizeUUIDs normalizes every UUID in the slice.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, 0, len(uuids))
	for _, u := range uuids {
		result = append(result, NormalizeUUID(u))
	}
	return result
}

// ExpandUUID returns the dashed 128-bit form of a UUID. 16-bit and 32-bit short forms are placed
// on the Bluetooth SIG base.
func ExpandUUID(uuid string) (string, error) {
	u := NormalizeUUID(uuid)
	switch len(u) {
	case 4:
		u = sigBasePrefix + u + sigBaseSuffix
	case 8:
		u += sigBaseSuffix
	case 32:
	default:
		return "", fmt.Errorf("invalid UUID %q: expected 16-bit, 32-bit or 128-bit form", uuid)
	}
	for _, r := range u {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return "", fmt.Errorf("invalid UUID %q: non-hex character %q", uuid, r)
		}
	}
	return u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:32], nil
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
