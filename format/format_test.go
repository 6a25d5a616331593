package format

import (
	"math"
	"testing"

	"github.com/tapmix/tapmix/platform"
)

func canonical() platform.StreamFormat { return platform.Canonical(48000) }

func fmtFor(channels int, interleaved bool, kind platform.SampleKind) platform.StreamFormat {
	return platform.StreamFormat{
		SampleRate:  48000,
		Channels:    channels,
		Interleaved: interleaved,
		Kind:        kind,
	}
}

func TestCanonicalRoundTripIsBitIdentical(t *testing.T) {
	const frames = 480
	in := make([]float32, frames*2)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) / 17))
	}

	c := New(canonical(), canonical(), frames)
	if !c.Passthrough() {
		t.Fatal("canonical converter must report passthrough")
	}
	canon, ok := c.Import(in, frames)
	if !ok {
		t.Fatal("Import failed for canonical input")
	}
	out := make([]float32, frames*2)
	if !c.Export(canon, out, frames) {
		t.Fatal("Export failed for canonical input")
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: %v != %v, not bit-identical", i, out[i], in[i])
		}
	}
}

func TestImportGridFloat(t *testing.T) {
	const frames = 64
	tests := []struct {
		name        string
		channels    int
		interleaved bool
	}{
		{"stereo interleaved", 2, true},
		{"stereo planar", 2, false},
		{"mono interleaved", 1, true},
		{"mono planar", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cap := fmtFor(tt.channels, tt.interleaved, platform.SampleFloat32)
			c := New(cap, canonical(), frames)

			in := make([]float32, frames*tt.channels)
			for i := 0; i < frames; i++ {
				l := float32(i) / frames
				r := -l
				if tt.channels == 1 {
					if tt.interleaved {
						in[i] = l
					} else {
						in[i] = l
					}
					continue
				}
				if tt.interleaved {
					in[i*2] = l
					in[i*2+1] = r
				} else {
					in[i] = l
					in[frames+i] = r
				}
			}

			canon, ok := c.Import(in, frames)
			if !ok {
				t.Fatal("Import failed")
			}
			for i := 0; i < frames; i++ {
				wantL := float32(i) / frames
				wantR := -wantL
				if tt.channels == 1 {
					wantR = wantL // mono duplicates into both channels
				}
				if canon[i*2] != wantL || canon[i*2+1] != wantR {
					t.Fatalf("frame %d: got (%v,%v), want (%v,%v)",
						i, canon[i*2], canon[i*2+1], wantL, wantR)
				}
			}
		})
	}
}

func TestExportMonoTakesFirstChannel(t *testing.T) {
	const frames = 32
	c := New(canonical(), fmtFor(1, true, platform.SampleFloat32), frames)
	canon := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		canon[i*2] = 0.5
		canon[i*2+1] = -0.5
	}
	out := make([]float32, frames)
	if !c.Export(canon, out, frames) {
		t.Fatal("Export failed")
	}
	for i, v := range out {
		if v != 0.5 {
			t.Fatalf("frame %d: got %v, want left channel 0.5", i, v)
		}
	}
}

func TestInt16RoundTrip(t *testing.T) {
	const frames = 48
	tests := []struct {
		name        string
		channels    int
		interleaved bool
	}{
		{"stereo interleaved", 2, true},
		{"stereo planar", 2, false},
		{"mono interleaved", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cap := fmtFor(tt.channels, tt.interleaved, platform.SampleInt16)
			c := New(cap, cap, frames)

			in := make([]int16, frames*tt.channels)
			for i := range in {
				in[i] = int16(i*100 - 2000)
			}
			canon, ok := c.ImportInt16(in, frames)
			if !ok {
				t.Fatal("ImportInt16 failed")
			}
			out := make([]int16, frames*tt.channels)
			if !c.ExportInt16(canon, out, frames) {
				t.Fatal("ExportInt16 failed")
			}
			for i := 0; i < frames; i++ {
				var got, want int16
				if tt.interleaved {
					got, want = out[i*tt.channels], in[i*tt.channels]
				} else {
					got, want = out[i], in[i]
				}
				if got != want {
					t.Fatalf("frame %d: %d != %d after round trip", i, got, want)
				}
			}
		})
	}
}

func TestExportInt16Clamps(t *testing.T) {
	c := New(canonical(), fmtFor(2, true, platform.SampleInt16), 4)
	canon := []float32{1.7, -1.7, 0.99, -0.99, 0, 0, 0, 0}
	out := make([]int16, 8)
	if !c.ExportInt16(canon, out, 4) {
		t.Fatal("ExportInt16 failed")
	}
	if out[0] != 32767 {
		t.Errorf("positive overdrive: got %d, want 32767", out[0])
	}
	if out[1] != -32768 {
		t.Errorf("negative overdrive: got %d, want -32768", out[1])
	}
}

func TestFailureFallsBackToPassthrough(t *testing.T) {
	const frames = 16
	tests := []struct {
		name   string
		cap    platform.StreamFormat
		frames int
	}{
		{"too many frames", fmtFor(1, true, platform.SampleFloat32), frames + 1},
		{"zero frames", fmtFor(1, true, platform.SampleFloat32), 0},
		{"unsupported channels", fmtFor(6, true, platform.SampleFloat32), frames},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.cap, canonical(), frames)
			in := make([]float32, 128)
			for i := range in {
				in[i] = 0.25
			}
			got, ok := c.Import(in, tt.frames)
			if ok {
				t.Fatal("conversion unexpectedly succeeded")
			}
			// failure must hand back the original buffer untouched
			if len(got) != len(in) {
				t.Fatalf("fallback returned %d samples, want original %d", len(got), len(in))
			}
			for i := range got {
				if got[i] != in[i] {
					t.Fatalf("sample %d modified on failed conversion", i)
				}
			}
		})
	}
}
