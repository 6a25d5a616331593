package platform

import "fmt"

// ObjectID is a transient numeric handle to an OS audio object. It is only
// valid for the lifetime of the audio service; durable identity is carried
// by device UIDs and app persist keys.
type ObjectID uint32

// UnknownObject is the zero ObjectID, never a valid object.
const UnknownObject ObjectID = 0

// Transport describes how an output device is attached.
type Transport int

const (
	TransportUnknown Transport = iota
	TransportBuiltIn
	TransportUSB
	TransportBluetooth
	TransportAirPlay
	TransportVirtual
)

// Wireless reports whether the transport has a non-deterministic connection
// handshake. Wireless destinations get a longer crossfade warm-up.
func (t Transport) Wireless() bool {
	return t == TransportBluetooth || t == TransportAirPlay
}

func (t Transport) String() string {
	switch t {
	case TransportBuiltIn:
		return "built-in"
	case TransportUSB:
		return "usb"
	case TransportBluetooth:
		return "bluetooth"
	case TransportAirPlay:
		return "airplay"
	case TransportVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// App identifies an audio-producing application. Controllers hold copies,
// never live references; the process monitor refreshes the set.
type App struct {
	PID        int
	ObjectID   ObjectID
	Name       string
	Icon       []byte
	PersistKey string // stable across launches; the persistence key
}

// Device is an output device. UID is the durable identity used for persisted
// routing; ObjectID is not stable across reconnects.
type Device struct {
	ObjectID  ObjectID
	UID       string
	Name      string
	Icon      []byte
	Transport Transport
}

// SampleKind enumerates the sample encodings the converter understands.
type SampleKind int

const (
	SampleFloat32 SampleKind = iota
	SampleInt16
)

func (k SampleKind) String() string {
	switch k {
	case SampleFloat32:
		return "f32"
	case SampleInt16:
		return "i16"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// StreamFormat describes a device or tap stream layout.
type StreamFormat struct {
	SampleRate  float64
	Channels    int
	Interleaved bool
	Kind        SampleKind
}

// Canonical is the fixed internal processing format all DSP assumes.
func Canonical(rate float64) StreamFormat {
	return StreamFormat{SampleRate: rate, Channels: 2, Interleaved: true, Kind: SampleFloat32}
}

// IsCanonical reports whether f already matches the processing format.
func (f StreamFormat) IsCanonical() bool {
	return f.Channels == 2 && f.Interleaved && f.Kind == SampleFloat32
}

func (f StreamFormat) String() string {
	layout := "planar"
	if f.Interleaved {
		layout = "interleaved"
	}
	return fmt.Sprintf("%gHz %dch %s %s", f.SampleRate, f.Channels, layout, f.Kind)
}
