package fdframe

import "testing"

func TestCRCSize(t *testing.T) {
	cases := map[CRCType]int{CRCNone: 0, CRC8: 1, CRC16: 2, CRC32: 4}
	for crcType, want := range cases {
		if got := crcType.Size(); got != want {
			t.Errorf("%v.Size() = %d, want %d", crcType, got, want)
		}
	}
}

func TestCRCVerifyRoundtrip(t *testing.T) {
	data := []byte{0x07, 0x2F, 0x01, 0x02, 0x03}
	for _, crcType := range []CRCType{CRCNone, CRC8, CRC16, CRC32} {
		framed := crcType.Encode(append([]byte(nil), data...), data)
		if !crcType.Verify(framed) {
			t.Errorf("%v: Verify failed on freshly-encoded frame", crcType)
		}
		if len(framed) != len(data)+crcType.Size() {
			t.Errorf("%v: encoded length = %d, want %d", crcType, len(framed), len(data)+crcType.Size())
		}
	}
}

func TestCRCDetectsCorruption(t *testing.T) {
	data := []byte{0x07, 0x2F, 0x01, 0x02, 0x03}
	for _, crcType := range []CRCType{CRC8, CRC16, CRC32} {
		framed := crcType.Encode(append([]byte(nil), data...), data)
		framed[0] ^= 0xFF
		if crcType.Verify(framed) {
			t.Errorf("%v: Verify passed on corrupted frame", crcType)
		}
	}
}

func TestCRCNoneAlwaysVerifies(t *testing.T) {
	if !CRCNone.Verify([]byte{0x01, 0x02, 0x03}) {
		t.Errorf("CRCNone.Verify should always succeed")
	}
	if !CRCNone.Verify(nil) {
		t.Errorf("CRCNone.Verify(nil) should succeed")
	}
}

func TestCRCVerifyTooShort(t *testing.T) {
	if CRC16.Verify([]byte{0x01}) {
		t.Errorf("CRC16.Verify on a too-short buffer should fail")
	}
}
