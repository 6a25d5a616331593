package tap

import (
	"sync/atomic"

	"github.com/tapmix/tapmix/platform"
)

// peakDecay smooths the displayed peak between callbacks.
const peakDecay = 0.95

// Diagnostics carries the health counters of one pipeline. The render
// callback is the only writer; orchestration and the UI read snapshots.
// Counters are monotonic and reset only when the pipeline is recreated.
type Diagnostics struct {
	callbacks    atomic.Int64
	inputHadData atomic.Int64
	outputFrames atomic.Int64
	emptyInput   atomic.Int64

	inputPeak  AtomicFloat32
	outputPeak AtomicFloat32

	// flag copies for the snapshot, written by orchestration
	volume AtomicFloat32
	muted  atomic.Bool

	format platform.StreamFormat // immutable after creation
}

// Snapshot is a point-in-time copy of a pipeline's diagnostics.
type Snapshot struct {
	Callbacks    int64
	InputHadData int64
	OutputFrames int64
	EmptyInput   int64
	InputPeak    float32
	OutputPeak   float32
	Volume       float32
	Muted        bool
	Format       platform.StreamFormat
}

func newDiagnostics(format platform.StreamFormat) *Diagnostics {
	return &Diagnostics{format: format}
}

// Snapshot returns a consistent-enough copy for health classification.
// Fields are read individually; staleness between them is tolerated.
func (d *Diagnostics) Snapshot() Snapshot {
	return Snapshot{
		Callbacks:    d.callbacks.Load(),
		InputHadData: d.inputHadData.Load(),
		OutputFrames: d.outputFrames.Load(),
		EmptyInput:   d.emptyInput.Load(),
		InputPeak:    d.inputPeak.Load(),
		OutputPeak:   d.outputPeak.Load(),
		Volume:       d.volume.Load(),
		Muted:        d.muted.Load(),
		Format:       d.format,
	}
}

// noteCallback records one callback invocation. RT side only.
func (d *Diagnostics) noteCallback(inPeak float32) {
	d.callbacks.Add(1)
	if inPeak > 0 {
		d.inputHadData.Add(1)
	} else {
		d.emptyInput.Add(1)
	}
	d.updatePeak(&d.inputPeak, inPeak)
}

// noteOutput records rendered frames and the output peak. RT side only.
func (d *Diagnostics) noteOutput(frames int, outPeak float32) {
	if frames > 0 {
		d.outputFrames.Add(int64(frames))
	}
	d.updatePeak(&d.outputPeak, outPeak)
}

func (d *Diagnostics) updatePeak(cell *AtomicFloat32, peak float32) {
	prev := cell.Load()
	if peak >= prev {
		cell.Store(peak)
		return
	}
	cell.Store(prev * peakDecay)
}
