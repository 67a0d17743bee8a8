package matter

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Passcode bounds. The protocol reserves a small set of trivially
// guessable passcodes which must never be used.
const (
	minPasscode = 1
	maxPasscode = 99999998

	// discriminator is a 12-bit value.
	maxDiscriminator = 0x0FFF
)

// invalidPasscodes are forbidden setup passcodes.
var invalidPasscodes = map[uint32]struct{}{
	0:        {},
	11111111: {},
	22222222: {},
	33333333: {},
	44444444: {},
	55555555: {},
	66666666: {},
	77777777: {},
	88888888: {},
	99999999: {},
	12345678: {},
	87654321: {},
}

// Pairing holds the commissioning parameters for one bridge run.
//
// The passcode and discriminator are generated fresh each run; the
// manual code is derived from them and handed to controllers.
type Pairing struct {
	// Passcode is the 8-digit setup passcode.
	Passcode uint32

	// Discriminator is the 12-bit value advertised during discovery.
	Discriminator uint16

	// ManualCode is the 11-digit manual pairing code, check digit
	// included.
	ManualCode string
}

// GeneratePairing produces random commissioning parameters.
//
// The passcode is drawn from crypto/rand and rejected if it falls in
// the forbidden set; the discriminator is a random 12-bit value.
func GeneratePairing() (Pairing, error) {
	passcode, err := randomPasscode()
	if err != nil {
		return Pairing{}, err
	}

	discriminator, err := randomUint32()
	if err != nil {
		return Pairing{}, fmt.Errorf("matter: generating discriminator: %w", err)
	}

	p := Pairing{
		Passcode:      passcode,
		Discriminator: uint16(discriminator & maxDiscriminator),
	}
	p.ManualCode = ManualPairingCode(p.Passcode, p.Discriminator)
	return p, nil
}

// randomPasscode draws passcodes until one lands in the valid range
// outside the forbidden set.
func randomPasscode() (uint32, error) {
	for {
		n, err := randomUint32()
		if err != nil {
			return 0, fmt.Errorf("matter: generating passcode: %w", err)
		}

		passcode := minPasscode + n%(maxPasscode-minPasscode+1)
		if _, forbidden := invalidPasscodes[passcode]; forbidden {
			continue
		}
		return passcode, nil
	}
}

func randomUint32() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ManualPairingCode computes the 11-digit manual pairing code for a
// passcode and discriminator (short form, no vendor/product id).
//
// Layout: 1 digit packing the top discriminator bits, 5 digits packing
// the remaining discriminator bits with the low passcode bits, 4 digits
// for the high passcode bits, and a Verhoeff check digit.
func ManualPairingCode(passcode uint32, discriminator uint16) string {
	chunk1 := (uint32(discriminator) >> 10) & 0x03
	chunk2 := ((uint32(discriminator) & 0x300) << 6) | (passcode & 0x3FFF)
	chunk3 := (passcode >> 14) & 0x1FFF

	digits := fmt.Sprintf("%01d%05d%04d", chunk1, chunk2, chunk3)
	return digits + string(rune('0'+verhoeffCheckDigit(digits)))
}

// QR payload packing.
const (
	qrVersion      = 0
	qrCapOnNetwork = 0x04 // device is reachable on the IP network
	qrPayloadBytes = 11
)

const base38Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-."

// QRPayload computes the onboarding payload string carried by the
// commissioning QR code: "MT:" followed by the base38 encoding of the
// packed identity and pairing fields. The discovery capability is
// on-network, matching a bridge commissioned over IP.
func QRPayload(vendorID, productID uint16, p Pairing) string {
	var buf [qrPayloadBytes]byte
	offset := 0
	for _, f := range []struct {
		value uint32
		bits  int
	}{
		{qrVersion, 3},
		{uint32(vendorID), 16},
		{uint32(productID), 16},
		{0, 2}, // standard commissioning flow
		{qrCapOnNetwork, 8},
		{uint32(p.Discriminator), 12},
		{p.Passcode, 27},
		{0, 4}, // padding to a whole byte count
	} {
		packBits(buf[:], offset, f.value, f.bits)
		offset += f.bits
	}
	return "MT:" + base38Encode(buf[:])
}

// packBits writes the low bits of value into buf starting at bit
// offset, least significant bit first.
func packBits(buf []byte, offset int, value uint32, bits int) {
	for i := 0; i < bits; i++ {
		if value&(1<<i) != 0 {
			pos := offset + i
			buf[pos/8] |= 1 << (pos % 8)
		}
	}
}

// base38Encode encodes bytes in three-byte little-endian groups of five
// characters. A trailing two-byte group yields four characters, a
// single byte two.
func base38Encode(data []byte) string {
	out := make([]byte, 0, (len(data)*5+2)/3)
	for i := 0; i < len(data); i += 3 {
		end := i + 3
		if end > len(data) {
			end = len(data)
		}

		n := uint32(0)
		for j, b := range data[i:end] {
			n |= uint32(b) << (8 * j)
		}

		var chars int
		switch end - i {
		case 3:
			chars = 5
		case 2:
			chars = 4
		default:
			chars = 2
		}
		for j := 0; j < chars; j++ {
			out = append(out, base38Alphabet[n%38])
			n /= 38
		}
	}
	return string(out)
}

// Verhoeff check digit tables.
var (
	verhoeffD = [10][10]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
		{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
		{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
		{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
		{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
		{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
		{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
		{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
		{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
	}
	verhoeffP = [8][10]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
		{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
		{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
		{9, 4, 5, 3, 1, 2, 6, 8, 7, 0},
		{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
		{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
		{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
	}
	verhoeffInv = [10]int{0, 4, 3, 2, 1, 5, 6, 7, 8, 9}
)

// verhoeffCheckDigit computes the Verhoeff check digit for a string of
// decimal digits.
func verhoeffCheckDigit(digits string) int {
	c := 0
	// Process right to left, starting at position 1 (position 0 is the
	// check digit itself)
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		c = verhoeffD[c][verhoeffP[(i+1)%8][d]]
	}
	return verhoeffInv[c]
}
