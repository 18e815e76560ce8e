package webrtc

import (
	"bytes"
	"testing"
)

// FU-A fragments of an IDR slice (type 5) with NRI=3.
var (
	fuaStart = []byte{0x7C, 0x85, 0x01, 0x02}
	fuaMid   = []byte{0x7C, 0x05, 0x03, 0x04}
	fuaEnd   = []byte{0x7C, 0x45, 0x05, 0x06}
)

func stapA(nalus ...[]byte) []byte {
	payload := []byte{0x18}
	for _, n := range nalus {
		payload = append(payload, byte(len(n)>>8), byte(len(n)))
		payload = append(payload, n...)
	}
	return payload
}

func TestDepacketize_SinglePacket(t *testing.T) {
	sps := []byte{0x67, 0xAA, 0xBB}
	pps := []byte{0x68, 0xCC}

	tests := []struct {
		name    string
		payload []byte
		want    [][]byte
	}{
		{"single NAL", []byte{0x65, 0x01, 0x02, 0x03}, [][]byte{{0x65, 0x01, 0x02, 0x03}}},
		{"STAP-A", stapA(sps, pps), [][]byte{sps, pps}},
		{"STAP-A truncated", append(stapA(sps), 0x00, 0x09, 0x68), [][]byte{sps}},
		{"STAP-A zero size", []byte{0x18, 0x00, 0x00}, nil},
		{"nil payload", nil, nil},
		{"empty payload", []byte{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewH264Depacketizer().Depacketize(100, tt.payload)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d NALUs, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("NALU %d: expected %x, got %x", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestDepacketize_FUAReassembly(t *testing.T) {
	d := NewH264Depacketizer()

	if got := d.Depacketize(100, fuaStart); got != nil {
		t.Fatalf("expected nil on start fragment, got %d NALUs", len(got))
	}
	if got := d.Depacketize(101, fuaMid); got != nil {
		t.Fatalf("expected nil on middle fragment, got %d NALUs", len(got))
	}
	got := d.Depacketize(102, fuaEnd)
	if len(got) != 1 {
		t.Fatalf("expected 1 NALU on end fragment, got %d", len(got))
	}

	// NRI from the indicator, type from the FU header.
	want := []byte{0x65, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	if !bytes.Equal(got[0], want) {
		t.Errorf("expected %x, got %x", want, got[0])
	}
}

func TestDepacketize_FUASequenceWraps(t *testing.T) {
	d := NewH264Depacketizer()

	d.Depacketize(65535, fuaStart)
	if got := d.Depacketize(0, fuaEnd); len(got) != 1 {
		t.Fatalf("expected reassembly across the sequence wrap, got %d NALUs", len(got))
	}
}

func TestDepacketize_FUADropsOnSequenceGap(t *testing.T) {
	d := NewH264Depacketizer()

	d.Depacketize(100, fuaStart)
	if got := d.Depacketize(102, fuaMid); got != nil {
		t.Fatalf("expected nil after sequence gap, got %d NALUs", len(got))
	}
	if got := d.Depacketize(103, fuaEnd); got != nil {
		t.Fatalf("expected the broken unit dropped, got %d NALUs", len(got))
	}

	// The next unit starts clean.
	d.Depacketize(104, fuaStart)
	if got := d.Depacketize(105, fuaEnd); len(got) != 1 {
		t.Fatalf("expected recovery on the next start fragment, got %d NALUs", len(got))
	}
}

func TestDepacketize_RestartDiscardsPartialUnit(t *testing.T) {
	d := NewH264Depacketizer()

	d.Depacketize(10, fuaStart)
	d.Depacketize(11, []byte{0x7C, 0x81, 0xEE})
	got := d.Depacketize(12, []byte{0x7C, 0x41, 0xFF})
	if len(got) != 1 {
		t.Fatalf("expected 1 NALU, got %d", len(got))
	}
	if want := []byte{0x61, 0xEE, 0xFF}; !bytes.Equal(got[0], want) {
		t.Errorf("expected only the restarted unit %x, got %x", want, got[0])
	}
}

func TestDepacketize_InstancesDoNotShareState(t *testing.T) {
	d1 := NewH264Depacketizer()
	d2 := NewH264Depacketizer()

	d1.Depacketize(100, fuaStart)

	if got := d2.Depacketize(101, fuaEnd); got != nil {
		t.Fatalf("expected no NALU for an orphan end fragment, got %d", len(got))
	}
	if got := d1.Depacketize(101, fuaEnd); len(got) != 1 {
		t.Fatalf("expected d1 to complete its unit, got %d NALUs", len(got))
	}
}
