// Package wavdump records a controller's post-DSP output to a WAV file.
// It exists to diagnose silent-path reports: when a tap's health counters
// advance but nobody hears anything, a dump shows whether samples actually
// carry signal. Uncompressed on purpose; a lossy codec would hide exactly
// the artifacts being hunted.
package wavdump

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const flushInterval = 100 * time.Millisecond

// Recorder accumulates canonical stereo float32 samples and writes them out
// as 16-bit PCM WAV on a background goroutine. Push is called from the
// render callback: it uses TryLock and drops the buffer on contention, so
// the callback never blocks on the writer.
type Recorder struct {
	mu      sync.Mutex
	pending []float32
	dropped atomic.Int64

	f    *os.File
	enc  *wav.Encoder
	rate int

	done chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Create opens a recorder writing to path at the given sample rate.
func Create(path string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}
	r := &Recorder{
		f:       f,
		enc:     wav.NewEncoder(f, sampleRate, 16, 2, 1),
		rate:    sampleRate,
		pending: make([]float32, 0, sampleRate), // half a second of stereo
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r, nil
}

// Push appends interleaved stereo samples. Never blocks and never grows
// the buffer: a held lock or a full buffer counts the call as dropped, so
// the render callback cannot allocate behind a stalled writer.
func (r *Recorder) Push(samples []float32) {
	if !r.mu.TryLock() {
		r.dropped.Add(1)
		return
	}
	if len(r.pending)+len(samples) > cap(r.pending) {
		r.mu.Unlock()
		r.dropped.Add(1)
		return
	}
	r.pending = append(r.pending, samples...)
	r.mu.Unlock()
}

// Dropped returns how many Push calls were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.done:
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	batch := make([]int, len(r.pending))
	for i, v := range r.pending {
		s := v * 32767
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		batch[i] = int(s)
	}
	r.pending = r.pending[:0]
	r.mu.Unlock()

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: r.rate},
		Data:           batch,
		SourceBitDepth: 16,
	}
	_ = r.enc.Write(buf)
}

// Close flushes everything and finalizes the WAV header.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		if err := r.enc.Close(); err != nil {
			r.closeErr = fmt.Errorf("finalize dump: %w", err)
		}
		if err := r.f.Close(); err != nil && r.closeErr == nil {
			r.closeErr = fmt.Errorf("close dump file: %w", err)
		}
	})
	return r.closeErr
}
