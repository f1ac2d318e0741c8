package anomaly

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/artifact"
)

const (
	modelMagic   = "AENC"
	modelVersion = 1
)

var ErrInvalidModel = errors.New("invalid model artifact")

// Model holds the weights of a two-layer dense autoencoder:
// h = relu(x·EncoderW + EncoderB), y = h·DecoderW + DecoderB.
// Weight matrices are row-major: EncoderW[i*Hidden+h], DecoderW[h*Output+o].
type Model struct {
	Input    int
	Hidden   int
	Output   int
	EncoderW []float32
	EncoderB []float32
	DecoderW []float32
	DecoderB []float32
}

type modelHeader struct {
	Magic   [4]byte
	Version uint16
	Input   uint16
	Hidden  uint16
	Output  uint16
}

// LoadModel fetches and decodes a model artifact
func LoadModel(ctx context.Context, fetcher artifact.Fetcher, uri string) (*Model, error) {
	data, err := fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	var m Model
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", uri, err)
	}
	return &m, nil
}

// UnmarshalBinary decodes the versioned little-endian model format
func (m *Model) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	var hdr modelHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("%w: short header", ErrInvalidModel)
	}
	if string(hdr.Magic[:]) != modelMagic {
		return fmt.Errorf("%w: bad magic %q", ErrInvalidModel, hdr.Magic[:])
	}
	if hdr.Version != modelVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidModel, hdr.Version)
	}

	next := Model{Input: int(hdr.Input), Hidden: int(hdr.Hidden), Output: int(hdr.Output)}
	if err := next.validateShape(); err != nil {
		return err
	}

	next.EncoderW = make([]float32, next.Input*next.Hidden)
	next.EncoderB = make([]float32, next.Hidden)
	next.DecoderW = make([]float32, next.Hidden*next.Output)
	next.DecoderB = make([]float32, next.Output)

	for _, section := range [][]float32{next.EncoderW, next.EncoderB, next.DecoderW, next.DecoderB} {
		if err := binary.Read(r, binary.LittleEndian, section); err != nil {
			return fmt.Errorf("%w: truncated weights", ErrInvalidModel)
		}
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return fmt.Errorf("%w: trailing bytes", ErrInvalidModel)
	}
	if err := next.validateWeights(); err != nil {
		return err
	}

	*m = next
	return nil
}

// MarshalBinary encodes the model in the artifact format
func (m *Model) MarshalBinary() ([]byte, error) {
	if err := m.validateShape(); err != nil {
		return nil, err
	}
	if err := m.validateWeights(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	hdr := modelHeader{
		Version: modelVersion,
		Input:   uint16(m.Input),
		Hidden:  uint16(m.Hidden),
		Output:  uint16(m.Output),
	}
	copy(hdr.Magic[:], modelMagic)

	for _, v := range []interface{}{hdr, m.EncoderW, m.EncoderB, m.DecoderW, m.DecoderB} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (m *Model) validateShape() error {
	if m.Input <= 0 || m.Hidden <= 0 || m.Output <= 0 {
		return fmt.Errorf("%w: zero-sized layer (%d/%d/%d)", ErrInvalidModel, m.Input, m.Hidden, m.Output)
	}
	if m.Input > math.MaxUint16 || m.Hidden > math.MaxUint16 || m.Output > math.MaxUint16 {
		return fmt.Errorf("%w: layer too wide", ErrInvalidModel)
	}
	if m.Input != m.Output {
		return fmt.Errorf("%w: input width %d != output width %d", ErrInvalidModel, m.Input, m.Output)
	}
	return nil
}

func (m *Model) validateWeights() error {
	sizes := []struct {
		name string
		got  int
		want int
	}{
		{"encoder weights", len(m.EncoderW), m.Input * m.Hidden},
		{"encoder bias", len(m.EncoderB), m.Hidden},
		{"decoder weights", len(m.DecoderW), m.Hidden * m.Output},
		{"decoder bias", len(m.DecoderB), m.Output},
	}
	for _, s := range sizes {
		if s.got != s.want {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrInvalidModel, s.name, s.got, s.want)
		}
	}

	for _, section := range [][]float32{m.EncoderW, m.EncoderB, m.DecoderW, m.DecoderB} {
		for _, w := range section {
			if math.IsNaN(float64(w)) || math.IsInf(float64(w), 0) {
				return fmt.Errorf("%w: non-finite weight", ErrInvalidModel)
			}
		}
	}
	return nil
}
