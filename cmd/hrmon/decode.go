package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/hrmon/internal/gatt"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <characteristic-uuid> <hex-payload>",
	Short: "Decode a characteristic payload offline",
	Long: `Decodes a raw characteristic value with the same decoders the monitor uses.

The payload is hex; spaces, colons and a 0x prefix are ignored.

Examples:
  hrmon decode 2a37 00:48        # 8-bit heart rate -> 72 bpm
  hrmon decode 2a37 01012c       # 16-bit heart rate, MSB first -> 300 bpm
  hrmon decode 2a37 01012c --le  # same bytes little-endian -> 11265 bpm
  hrmon decode 2a19 55           # battery -> 85 %`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

var decodeLittleEndian bool

func init() {
	decodeCmd.Flags().BoolVar(&decodeLittleEndian, "le", false, "Read 16-bit heart rate values little-endian")
}

func runDecode(cmd *cobra.Command, args []string) error {
	role := gatt.Classify(args[0])
	if role == gatt.RoleUnknown {
		return fmt.Errorf("%w: %s", ErrUnknownCharacteristic, args[0])
	}

	payload, err := parseHex(args[1])
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	reading, err := gatt.Decoder{HeartRateLittleEndian: decodeLittleEndian}.Decode(role, payload)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", gatt.KnownName(role.UUID()), reading)
	return nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return data, nil
}
