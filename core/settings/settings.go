package settings

import (
	"encoding/binary"
	"errors"
	"time"
)

// ValidityTag marks a settings record written by this program. Any other
// value means the store holds garbage and cold-start defaults apply.
const ValidityTag = 0xb37c

// Temperature bucketing constants. Buckets discretize the ambient
// temperature; each holds its own calibrated beat duration.
const (
	BucketCount = 64
	TempMin     = 8.0
	TempStep    = 0.5
)

// RecordLen is the size of the binary settings record.
const RecordLen = 2 + 4 + 4 + 4 + 8 + BucketCount*(8+4)

var ErrShortRecord = errors.New("short settings record")

// Bucket holds the calibrated beat duration for one temperature interval.
type Bucket struct {
	USPB    int64 // microseconds per beat
	Samples int32
}

// Settings is the persisted state of the calibration engine. It is written
// only when a calibration pass finishes and when a manual adjustment is
// committed.
type Settings struct {
	Tag uint16

	// RTCBias corrects the reference oscillator, in tenths of a second per
	// day. Positive makes the displayed clock run faster.
	RTCBias int32

	// SpeedAdj is the committed manual speed correction applied on top of
	// the calibrated beat duration, in tenths of a second per day. Same
	// sign convention as RTCBias.
	SpeedAdj int32

	// PeakScale is the beat-detection sensitivity; opaque to the engine,
	// tuned by the oscillator collaborator during SCALE.
	PeakScale int32

	// USPB is the scalar beat duration estimate in microseconds, used by
	// the non-compensated variant.
	USPB int64

	Buckets [BucketCount]Bucket
}

// Default returns cold-start settings: a valid tag and everything else zero.
func Default() Settings {
	return Settings{Tag: ValidityTag}
}

func (s *Settings) Valid() bool {
	return s.Tag == ValidityTag
}

// BucketIndex maps a temperature to its bucket, clamping at the range ends.
func BucketIndex(tempC float64) int {
	i := int((tempC - TempMin) / TempStep)
	if i < 0 {
		return 0
	}
	if i >= BucketCount {
		return BucketCount - 1
	}
	return i
}

// BucketCenter is the temperature at the middle of bucket i.
func BucketCenter(i int) float64 {
	return TempMin + (float64(i)+0.5)*TempStep
}

// BeatDuration returns the scalar beat duration as a time.Duration.
func (s *Settings) BeatDuration() time.Duration {
	return time.Duration(s.USPB) * time.Microsecond
}

func (s *Settings) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordLen)
	b := buf
	binary.LittleEndian.PutUint16(b, s.Tag)
	b = b[2:]
	binary.LittleEndian.PutUint32(b, uint32(s.RTCBias))
	b = b[4:]
	binary.LittleEndian.PutUint32(b, uint32(s.SpeedAdj))
	b = b[4:]
	binary.LittleEndian.PutUint32(b, uint32(s.PeakScale))
	b = b[4:]
	binary.LittleEndian.PutUint64(b, uint64(s.USPB))
	b = b[8:]
	for i := range s.Buckets {
		binary.LittleEndian.PutUint64(b, uint64(s.Buckets[i].USPB))
		b = b[8:]
		binary.LittleEndian.PutUint32(b, uint32(s.Buckets[i].Samples))
		b = b[4:]
	}
	return buf, nil
}

func (s *Settings) UnmarshalBinary(data []byte) error {
	if len(data) < RecordLen {
		return ErrShortRecord
	}
	s.Tag = binary.LittleEndian.Uint16(data)
	data = data[2:]
	s.RTCBias = int32(binary.LittleEndian.Uint32(data))
	data = data[4:]
	s.SpeedAdj = int32(binary.LittleEndian.Uint32(data))
	data = data[4:]
	s.PeakScale = int32(binary.LittleEndian.Uint32(data))
	data = data[4:]
	s.USPB = int64(binary.LittleEndian.Uint64(data))
	data = data[8:]
	for i := range s.Buckets {
		s.Buckets[i].USPB = int64(binary.LittleEndian.Uint64(data))
		data = data[8:]
		s.Buckets[i].Samples = int32(binary.LittleEndian.Uint32(data))
		data = data[4:]
	}
	return nil
}
