package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// codecVersion is the current encoding format version.
// Bump on any layout change; decode rejects unknown versions.
const codecVersion = 1

// maxVectorLen bounds decoded vector lengths to reject corrupt length
// prefixes before allocating.
const maxVectorLen = 1 << 24

// ErrTruncated is returned when encoded data ends mid-field.
var ErrTruncated = errors.New("encoded data truncated")

// EncodeGlobalModel serializes a global model.
// Layout (all integers little-endian):
//
//	u16 codec version
//	u64 model version | u64 num samples
//	u32 count + f64 bits per weight
//	u32 count + participant entries, sorted by ID
//
// Participant entry: u32 len + ID bytes, u64 samples, f64 participation,
// u64 rewards issued. Sorting makes the encoding canonical: equal models
// encode to identical bytes.
func EncodeGlobalModel(m *GlobalModel) []byte {
	w := newWriter()

	w.u16(codecVersion)
	w.u64(m.Version)
	w.u64(m.NumSamples)
	w.floatVec(m.Weights)

	ids := m.ParticipantIDs()
	w.u32(uint32(len(ids)))

	for _, id := range ids {
		p := m.Participants[id]
		w.str(p.ID)
		w.u64(p.Samples)
		w.f64(p.Participation)
		w.u64(p.RewardsIssued)
	}

	return w.buf
}

// DecodeGlobalModel deserializes a global model.
// Exact inverse of EncodeGlobalModel; trailing bytes are an error.
func DecodeGlobalModel(data []byte) (*GlobalModel, error) {
	r := &reader{data: data}

	version := r.u16()
	if r.err == nil && version != codecVersion {
		return nil, fmt.Errorf("unsupported model encoding version: %d", version)
	}

	m := &GlobalModel{
		Version:    r.u64(),
		NumSamples: r.u64(),
		Weights:    r.floatVec(),
	}

	count := r.u32()
	if r.err != nil {
		return nil, r.err
	}

	m.Participants = make(map[string]*Participant, count)

	for i := uint32(0); i < count; i++ {
		p := &Participant{
			ID:            r.str(),
			Samples:       r.u64(),
			Participation: r.f64(),
			RewardsIssued: r.u64(),
		}

		if r.err != nil {
			return nil, r.err
		}

		m.Participants[p.ID] = p
	}

	if err := r.finish(); err != nil {
		return nil, err
	}

	return m, nil
}

// EncodeLocalUpdate serializes a local update for wire transport and
// predicate input.
func EncodeLocalUpdate(u *LocalUpdate) []byte {
	w := newWriter()

	w.u16(codecVersion)
	w.str(u.Submitter)
	w.u64(u.NumSamples)
	w.floatVec(u.Weights)
	w.floatVec(u.Scores)

	return w.buf
}

// DecodeLocalUpdate deserializes a local update.
func DecodeLocalUpdate(data []byte) (*LocalUpdate, error) {
	r := &reader{data: data}

	version := r.u16()
	if r.err == nil && version != codecVersion {
		return nil, fmt.Errorf("unsupported update encoding version: %d", version)
	}

	u := &LocalUpdate{
		Submitter:  r.str(),
		NumSamples: r.u64(),
		Weights:    r.floatVec(),
		Scores:     r.floatVec(),
	}

	if err := r.finish(); err != nil {
		return nil, err
	}

	return u, nil
}

// EncodeScoreRecord serializes a score record.
func EncodeScoreRecord(s *ScoreRecord) []byte {
	w := newWriter()

	w.u16(codecVersion)
	w.str(s.Submitter)
	w.str(s.RoundID)
	w.floatVec(s.Scores)

	return w.buf
}

// DecodeScoreRecord deserializes a score record.
func DecodeScoreRecord(data []byte) (*ScoreRecord, error) {
	r := &reader{data: data}

	version := r.u16()
	if r.err == nil && version != codecVersion {
		return nil, fmt.Errorf("unsupported score encoding version: %d", version)
	}

	s := &ScoreRecord{
		Submitter: r.str(),
		RoundID:   r.str(),
		Scores:    r.floatVec(),
	}

	if err := r.finish(); err != nil {
		return nil, err
	}

	return s, nil
}

// writer appends fixed-layout fields to a growing buffer.
type writer struct {
	buf []byte
}

func newWriter() *writer {
	return &writer{buf: make([]byte, 0, 256)}
}

func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) f64(v float64) {
	w.u64(math.Float64bits(v))
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) floatVec(v []float64) {
	w.u32(uint32(len(v)))
	for _, f := range v {
		w.f64(f)
	}
}

// reader consumes fixed-layout fields and records the first error.
// Once an error is set all further reads return zero values, so decode
// call sites stay flat.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}

	if r.off+n > len(r.data) {
		r.err = ErrTruncated
		return nil
	}

	b := r.data[r.off : r.off+n]
	r.off += n

	return b
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint64(b)
}

func (r *reader) f64() float64 {
	return math.Float64frombits(r.u64())
}

func (r *reader) str() string {
	n := r.u32()
	if r.err == nil && n > maxVectorLen {
		r.err = fmt.Errorf("string length %d exceeds limit", n)
		return ""
	}

	return string(r.take(int(n)))
}

func (r *reader) floatVec() []float64 {
	n := r.u32()
	if r.err != nil {
		return nil
	}

	if n > maxVectorLen {
		r.err = fmt.Errorf("vector length %d exceeds limit", n)
		return nil
	}

	if n == 0 {
		return nil
	}

	v := make([]float64, n)
	for i := range v {
		v[i] = r.f64()
	}

	if r.err != nil {
		return nil
	}

	return v
}

// finish reports an error if any read failed or bytes remain unconsumed.
func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}

	if r.off != len(r.data) {
		return fmt.Errorf("trailing bytes after decode: %d unread", len(r.data)-r.off)
	}

	return nil
}
