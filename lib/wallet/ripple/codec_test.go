package ripple

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidAccount(t *testing.T) {
	cases := []struct {
		address string
		valid   bool
	}{
		{"rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", true},
		{"rrrrrrrrrrrrrrrrrrrrrhoLvTp", true}, // ACCOUNT_ZERO
		{"rrrrrrrrrrrrrrrrrrrrBZbvji", true},  // ACCOUNT_ONE
		{"rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTj", false}, // corrupted checksum
		{"sHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", false},
		{"rHb9CJAWyB4rj91VRWn96DkukG4bwdtyT0", false}, // 0 is not in the dictionary
		{"", false},
		{"not an address", false},
	}

	for _, c := range cases {
		assert.Equal(t, c.valid, isValidAccount(c.address), c.address)
	}
}

func TestIsValidSeed(t *testing.T) {
	assert.True(t, isValidSeed("snoPBrXtMeMyMHUVTgbuqAfg1SUTb"))
	assert.False(t, isValidSeed("snoPBrXtMeMyMHUVTgbuqAfg1SUTa"))
	assert.False(t, isValidSeed("rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"))
	assert.False(t, isValidSeed(""))
}

func TestEncodeDecodeChecked(t *testing.T) {
	payload := []byte{
		0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09,
		0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13,
	}

	encoded := encodeChecked(payload, versionAccount)

	assert.True(t, isValidAccount(encoded))
	assert.Equal(t, payload, decodeChecked(encoded, versionAccount, accountIDLen))
	assert.Nil(t, decodeChecked(encoded, versionFamilySeed, familySeedLen))
}

func TestBase58RoundTrip(t *testing.T) {
	for _, b := range [][]byte{
		{0x00},
		{0x00, 0x00, 0x01},
		{0xff, 0xfe, 0xfd},
		{0x21, 0xde, 0xad, 0xbe, 0xef},
	} {
		assert.Equal(t, b, decodeBase58(encodeBase58(b)))
	}

	assert.Nil(t, decodeBase58(""))
	assert.Nil(t, decodeBase58("0OIl")) // characters outside the dictionary
}
