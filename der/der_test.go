package der

import (
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntegerLeadingZeroRule(t *testing.T) {
	// 0x80 has its high bit set, so DER must prepend a zero byte.
	encoded, err := Integer([]byte{0x80})
	require.NoError(t, err)

	var decoded int64
	_, err = asn1.Unmarshal(encoded, &decoded)
	require.NoError(t, err)
	require.Equal(t, int64(0x80), decoded)
}

func TestIntegerNoLeadingZeroWhenNotNeeded(t *testing.T) {
	encoded, err := Integer([]byte{0x7f})
	require.NoError(t, err)

	var decoded int64
	_, err = asn1.Unmarshal(encoded, &decoded)
	require.NoError(t, err)
	require.Equal(t, int64(0x7f), decoded)
}

func TestLengthLongForm(t *testing.T) {
	content := make([]byte, 200)
	encoded, err := UTF8String(string(content))
	require.NoError(t, err)

	var decoded string
	_, err = asn1.UnmarshalWithParams(encoded, &decoded, "utf8")
	require.NoError(t, err)
	require.Equal(t, string(content), decoded)
}

func TestObjectIdentifierRoundTrip(t *testing.T) {
	encoded, err := ObjectIdentifier(oidECDSAWithSHA256)
	require.NoError(t, err)

	var decoded asn1.ObjectIdentifier
	_, err = asn1.Unmarshal(encoded, &decoded)
	require.NoError(t, err)
	require.Equal(t, asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}, decoded)
}

func TestObjectIdentifierMultiByteArc(t *testing.T) {
	// prime256v1's last arc (7) is small, so exercise a >127 arc directly.
	encoded, err := ObjectIdentifier([]uint32{1, 2, 999999})
	require.NoError(t, err)

	var decoded asn1.ObjectIdentifier
	_, err = asn1.Unmarshal(encoded, &decoded)
	require.NoError(t, err)
	require.Equal(t, asn1.ObjectIdentifier{1, 2, 999999}, decoded)
}

func TestUTCTimeFormat(t *testing.T) {
	encoded, err := UTCTime("260130120000Z")
	require.NoError(t, err)

	var decoded asn1.RawValue
	_, err = asn1.Unmarshal(encoded, &decoded)
	require.NoError(t, err)
	require.Equal(t, asn1.TagUTCTime, decoded.Tag)
	require.Equal(t, "260130120000Z", string(decoded.Bytes))
}

func TestUTCTimeRejectsWrongLength(t *testing.T) {
	_, err := UTCTime("not-a-time")
	require.Error(t, err)
}

func TestBitStringUnusedBits(t *testing.T) {
	encoded, err := BitString([]byte{0xf0}, 4)
	require.NoError(t, err)

	var decoded asn1.BitString
	_, err = asn1.Unmarshal(encoded, &decoded)
	require.NoError(t, err)
	require.Equal(t, 4, decoded.BitLength)
	require.Equal(t, []byte{0xf0}, decoded.Bytes)
}

func TestSequenceNesting(t *testing.T) {
	inner, err := Integer([]byte{0x01})
	require.NoError(t, err)
	outer, err := Sequence(inner, inner)
	require.NoError(t, err)

	var decoded struct {
		A, B int
	}
	_, err = asn1.Unmarshal(outer, &decoded)
	require.NoError(t, err)
	require.Equal(t, 1, decoded.A)
	require.Equal(t, 1, decoded.B)
}

func TestNull(t *testing.T) {
	encoded, err := Null()
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x00}, encoded)
}
