package fdframe

import "testing"

func TestEncodeAddress(t *testing.T) {
	cases := []struct {
		peer    uint8
		command bool
		want    byte
	}{
		{0, false, 0x01},
		{0, true, 0x03},
		{1, false, 0x05},
		{1, true, 0x07},
		{62, false, 0xF9},
	}
	for _, c := range cases {
		got := EncodeAddress(c.peer, c.command)
		if got != c.want {
			t.Errorf("EncodeAddress(%d, %v) = 0x%02X, want 0x%02X", c.peer, c.command, got, c.want)
		}
		if !HasExtension(got) {
			t.Errorf("EncodeAddress(%d, %v) = 0x%02X has no extension bit", c.peer, c.command, got)
		}
		if IsCommand(got) != c.command {
			t.Errorf("IsCommand(0x%02X) = %v, want %v", got, IsCommand(got), c.command)
		}
	}
}

func TestStripCR(t *testing.T) {
	addr := EncodeAddress(5, true)
	if StripCR(addr) != EncodeAddress(5, false) {
		t.Errorf("StripCR(0x%02X) = 0x%02X, want 0x%02X", addr, StripCR(addr), EncodeAddress(5, false))
	}
}

func TestFrameClassification(t *testing.T) {
	i := MakeIFrame(3, 5)
	s := MakeSFrame(SFrameREJ, 2)
	u := MakeUFrame(UFrameSABM)

	if !IsIFrame(i) || IsSFrame(i) || IsUFrame(i) {
		t.Errorf("MakeIFrame control 0x%02X misclassified", i)
	}
	if !IsSFrame(s) || IsIFrame(s) || IsUFrame(s) {
		t.Errorf("MakeSFrame control 0x%02X misclassified", s)
	}
	if !IsUFrame(u) || IsIFrame(u) || IsSFrame(u) {
		t.Errorf("MakeUFrame control 0x%02X misclassified", u)
	}
}

func TestIFrameSequenceRoundtrip(t *testing.T) {
	for ns := uint8(0); ns < 8; ns++ {
		for nr := uint8(0); nr < 8; nr++ {
			ctrl := MakeIFrame(ns, nr)
			if got := NS(ctrl); got != ns {
				t.Errorf("NS(MakeIFrame(%d,%d)) = %d, want %d", ns, nr, got, ns)
			}
			if got := NR(ctrl); got != nr {
				t.Errorf("NR(MakeIFrame(%d,%d)) = %d, want %d", ns, nr, got, nr)
			}
		}
	}
}

func TestSFrameSubtype(t *testing.T) {
	rr := MakeSFrame(SFrameRR, 4)
	rej := MakeSFrame(SFrameREJ, 4)
	if SSubtype(rr) != SFrameRR {
		t.Errorf("SSubtype(RR) = 0x%02X, want SFrameRR", SSubtype(rr))
	}
	if SSubtype(rej) != SFrameREJ {
		t.Errorf("SSubtype(REJ) = 0x%02X, want SFrameREJ", SSubtype(rej))
	}
	if NR(rr) != 4 || NR(rej) != 4 {
		t.Errorf("S-frame N(R) not preserved: rr=%d rej=%d", NR(rr), NR(rej))
	}
}

func TestUFrameSubtype(t *testing.T) {
	for _, subtype := range []byte{UFrameSABM, UFrameSNRM, UFrameUA, UFrameDISC, UFrameFRMR, UFrameRSET} {
		ctrl := MakeUFrame(subtype)
		if got := USubtype(ctrl); got != subtype {
			t.Errorf("USubtype(MakeUFrame(0x%02X)) = 0x%02X, want 0x%02X", subtype, got, subtype)
		}
		if !IsUFrame(ctrl) {
			t.Errorf("MakeUFrame(0x%02X) = 0x%02X not classified as U-frame", subtype, ctrl)
		}
	}
}

func TestWithPF(t *testing.T) {
	ctrl := MakeIFrame(1, 1)
	if HasPF(ctrl) {
		t.Fatalf("fresh I-frame control unexpectedly has PF set")
	}
	withPF := WithPF(ctrl, true)
	if !HasPF(withPF) {
		t.Errorf("WithPF(ctrl, true) did not set PF")
	}
	cleared := WithPF(withPF, false)
	if HasPF(cleared) {
		t.Errorf("WithPF(ctrl, false) did not clear PF")
	}
	// Setting PF must not disturb N(S)/N(R).
	if NS(withPF) != NS(ctrl) || NR(withPF) != NR(ctrl) {
		t.Errorf("WithPF disturbed sequence fields: NS=%d NR=%d, want NS=%d NR=%d",
			NS(withPF), NR(withPF), NS(ctrl), NR(ctrl))
	}
}
