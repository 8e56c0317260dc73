package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit lowercase", input: "180d", expected: "180d"},
		{name: "16-bit uppercase", input: "180D", expected: "180d"},
		{name: "0x prefix", input: "0x2A37", expected: "2a37"},
		{name: "0X prefix", input: "0X2a37", expected: "2a37"},
		{name: "surrounding whitespace", input: "  2a19 ", expected: "2a19"},
		{name: "SIG base with dashes", input: "0000180d-0000-1000-8000-00805f9b34fb", expected: "180d"},
		{name: "SIG base with braces", input: "{0000180F-0000-1000-8000-00805F9B34FB}", expected: "180f"},
		{name: "SIG base without dashes", input: "00002a3700001000800000805f9b34fb", expected: "2a37"},
		{name: "32-bit short form", input: "0000180D", expected: "180d"},
		{name: "32-bit short form with 0x", input: "0x00002a37", expected: "2a37"},
		{name: "32-bit with upper half kept", input: "12341234", expected: "12341234"},
		{name: "custom 128-bit keeps full form", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001b5a3f393e0a9e50e24dcca9e"},
		{name: "wrong SIG suffix", input: "0000180d-1234-1000-8000-00805f9b34fb", expected: "0000180d123410008000" + "00805f9b34fb"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	assert.Equal(t, []string{"180a", "180d"}, NormalizeUUIDs([]string{"180A", "0000180d-0000-1000-8000-00805f9b34fb"}))
	assert.Empty(t, NormalizeUUIDs(nil))
}

func TestExpandUUID(t *testing.T) {
	got, err := ExpandUUID("180d")
	require.NoError(t, err)
	assert.Equal(t, "0000180d-0000-1000-8000-00805f9b34fb", got)

	got, err = ExpandUUID("6e400001b5a3f393e0a9e50e24dcca9e")
	require.NoError(t, err)
	assert.Equal(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", got)

	got, err = ExpandUUID("0000180d")
	require.NoError(t, err)
	assert.Equal(t, "0000180d-0000-1000-8000-00805f9b34fb", got)

	got, err = ExpandUUID("12341234")
	require.NoError(t, err)
	assert.Equal(t, "12341234-0000-1000-8000-00805f9b34fb", got)

	_, err = ExpandUUID("18")
	assert.Error(t, err)

	_, err = ExpandUUID("zz0d")
	assert.Error(t, err)
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "6e400001", ShortenUUID("6e400001b5a3f393e0a9e50e24dcca9e"))
	assert.Equal(t, "180d", ShortenUUID("180d"))
}
