// Package friendcode implements the deterministic identity-code algorithm
// the legacy network used to display profile ids to players. The code is a
// pure function of (profile id, game id): it is never stored on its own and
// can always be recomputed.
package friendcode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// crc8Poly is the CRC-8 generator polynomial used by the legacy algorithm
// (x^8 + x^2 + x + 1, no reflection, zero init).
const crc8Poly = 0x07

// crc8 computes the non-reflected CRC-8 checksum over data.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crc8Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Compute derives the dashed display code for a profile id and 4-character
// game id. The checksum input is the little-endian profile id followed by
// the byte-reversed game id; the low 7 checksum bits are widened above the
// 32-bit profile id and the result is printed as three groups of four
// decimal digits.
//
// Compute(88, "ADAJ") == "3693-6718-7544", bit-exact with the legacy servers.
func Compute(profileID uint32, gameID string) string {
	var input [4]byte
	binary.LittleEndian.PutUint32(input[:], profileID)

	reversed := make([]byte, len(gameID))
	for i := 0; i < len(gameID); i++ {
		reversed[i] = gameID[len(gameID)-1-i]
	}

	check := crc8(append(input[:], reversed...))
	code := uint64(check&0x7f)<<32 | uint64(profileID)

	digits := fmt.Sprintf("%012d", code)
	return strings.Join([]string{digits[0:4], digits[4:8], digits[8:12]}, "-")
}

// Validate reports whether code is the display code for the given profile id
// and game id. Comparison ignores dashes and surrounding whitespace so codes
// typed by players ("369367187544") still validate.
func Validate(code string, profileID uint32, gameID string) bool {
	normalize := func(s string) string {
		return strings.ReplaceAll(strings.TrimSpace(s), "-", "")
	}
	return normalize(code) == normalize(Compute(profileID, gameID))
}
