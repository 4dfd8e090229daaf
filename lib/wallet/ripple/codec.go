package ripple

import (
	"crypto/sha256"
	"math/big"
	"strings"
)

// The XRP ledger uses its own base58 dictionary for address and seed encoding.
const alphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

const (
	versionAccount    byte = 0x00 // "r..." classic addresses
	versionFamilySeed byte = 0x21 // "s..." secp256k1 family seeds
	accountIDLen           = 20
	familySeedLen          = 16
	checksumLen            = 4
)

var radix = big.NewInt(58)

func decodeBase58(s string) []byte {
	if s == "" {
		return nil
	}

	num := new(big.Int)

	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(alphabet, s[i])
		if idx < 0 {
			return nil
		}

		num.Mul(num, radix)
		num.Add(num, big.NewInt(int64(idx)))
	}

	buf := num.Bytes()

	// leading zero bytes are encoded as the first dictionary character
	var zeros int
	for zeros = 0; zeros < len(s) && s[zeros] == alphabet[0]; zeros++ {
	}

	return append(make([]byte, zeros), buf...)
}

func encodeBase58(b []byte) string {
	num := new(big.Int).SetBytes(b)
	mod := new(big.Int)

	var out []byte

	for num.Sign() > 0 {
		num.DivMod(num, radix, mod)
		out = append(out, alphabet[mod.Int64()])
	}

	for _, v := range b {
		if v != 0 {
			break
		}

		out = append(out, alphabet[0])
	}

	// digits were produced least-significant first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return string(out)
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])

	return second[:checksumLen]
}

// decodeChecked decodes a base58check string, verifying version byte, payload
// length and the double-sha256 checksum. It returns nil on any failure.
func decodeChecked(s string, version byte, payloadLen int) []byte {
	raw := decodeBase58(s)
	if len(raw) != 1+payloadLen+checksumLen || raw[0] != version {
		return nil
	}

	body := raw[:1+payloadLen]

	sum := checksum(body)
	for i := 0; i < checksumLen; i++ {
		if raw[1+payloadLen+i] != sum[i] {
			return nil
		}
	}

	return raw[1 : 1+payloadLen]
}

func encodeChecked(payload []byte, version byte) string {
	body := append([]byte{version}, payload...)

	return encodeBase58(append(body, checksum(body)...))
}

// isValidAccount reports whether s is a well-formed classic XRP address.
func isValidAccount(s string) bool {
	return decodeChecked(s, versionAccount, accountIDLen) != nil
}

// isValidSeed reports whether s is a well-formed family seed ("s...").
func isValidSeed(s string) bool {
	return decodeChecked(s, versionFamilySeed, familySeedLen) != nil
}
