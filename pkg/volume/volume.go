// Package volume reads and writes MRI volume files.
//
// A volume file uses the safetensors layout: an 8 byte little-endian header
// length, a JSON header describing every tensor and a string metadata map, then
// the raw little-endian tensor payload. K-space is stored as "kspace" with a
// trailing real/imaginary dimension; targets as "reconstruction_esc" or
// "reconstruction_rss". Acquisition attributes live in the metadata.
package volume

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/x448/float16"

	"kspacegan/internal/models"
	"kspacegan/pkg/tensor"
)

// KSpaceKey is the tensor name of the raw acquisition
const KSpaceKey = "kspace"

const (
	metadataKey    = "__metadata__"
	maxHeaderBytes = 64 << 20
)

var (
	// ErrFormat is returned for files that are not valid volume files.
	ErrFormat = errors.New("invalid volume file")

	// ErrNoTensor is returned when a tensor name is not present in the file.
	ErrNoTensor = errors.New("tensor not found")
)

// DType is the on-disk element type
type DType string

const (
	F64 DType = "F64"
	F32 DType = "F32"
	F16 DType = "F16"
)

// Size returns the number of bytes per element.
func (d DType) Size() (int, error) {
	switch d {
	case F64:
		return 8, nil
	case F32:
		return 4, nil
	case F16:
		return 2, nil
	}
	return 0, fmt.Errorf("%w: unsupported dtype %q", ErrFormat, string(d))
}

// TensorInfo describes one tensor in the header
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Entry is a named tensor to be written
type Entry struct {
	Name   string
	DType  DType
	Tensor *tensor.Tensor
}

// Write encodes entries and metadata to w. Entries are laid out in name order.
func Write(w io.Writer, entries []Entry, metadata map[string]string) error {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	header := make(map[string]any, len(sorted)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var offset int64
	for _, e := range sorted {
		if e.Name == metadataKey || e.Name == "" {
			return fmt.Errorf("%w: invalid tensor name %q", ErrFormat, e.Name)
		}
		if _, dup := header[e.Name]; dup {
			return fmt.Errorf("%w: duplicate tensor %q", ErrFormat, e.Name)
		}
		size, err := e.DType.Size()
		if err != nil {
			return err
		}
		n := int64(e.Tensor.Len() * size)
		header[e.Name] = TensorInfo{DType: e.DType, Shape: e.Tensor.Shape(), DataOffsets: [2]int64{offset, offset + n}}
		offset += n
	}

	raw, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("error encoding header: %w", err)
	}
	// pad the header so the payload starts 8-byte aligned
	if pad := len(raw) % 8; pad != 0 {
		raw = append(raw, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(raw))); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}

	for _, e := range sorted {
		if _, err := w.Write(encode(e.Tensor.Data(), e.DType)); err != nil {
			return fmt.Errorf("error writing tensor %s: %w", e.Name, err)
		}
	}
	return nil
}

// Create writes a volume file at path.
func Create(path string, entries []Entry, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating volume file: %w", err)
	}
	if err := Write(f, entries, metadata); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encode(values []float64, dtype DType) []byte {
	size, _ := dtype.Size()
	buf := make([]byte, len(values)*size)
	for i, v := range values {
		switch dtype {
		case F64:
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
		case F32:
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
		case F16:
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(float32(v)).Bits())
		}
	}
	return buf
}

func decode(buf []byte, dtype DType, dst []float64) {
	for i := range dst {
		switch dtype {
		case F64:
			dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		case F32:
			dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
		case F16:
			dst[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32())
		}
	}
}

// File is an open volume file. Reads use ReadAt and may run concurrently.
type File struct {
	r         io.ReaderAt
	closer    io.Closer
	tensors   map[string]TensorInfo
	metadata  map[string]string
	dataStart int64
}

// Open opens the volume file at path and parses its header.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	vf, err := NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	vf.closer = f
	return vf, nil
}

// NewFile parses the header read from r.
func NewFile(r io.ReaderAt) (*File, error) {
	var lenBuf [8]byte
	if _, err := r.ReadAt(lenBuf[:], 0); err != nil {
		return nil, fmt.Errorf("%w: reading header length: %v", ErrFormat, err)
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n == 0 || n > maxHeaderBytes {
		return nil, fmt.Errorf("%w: header length %d", ErrFormat, n)
	}

	raw := make([]byte, n)
	if _, err := r.ReadAt(raw, 8); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: parsing header: %v", ErrFormat, err)
	}

	vf := &File{
		r:         r,
		tensors:   make(map[string]TensorInfo, len(fields)),
		metadata:  map[string]string{},
		dataStart: 8 + int64(n),
	}
	for name, msg := range fields {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &vf.metadata); err != nil {
				return nil, fmt.Errorf("%w: parsing metadata: %v", ErrFormat, err)
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("%w: parsing tensor %s: %v", ErrFormat, name, err)
		}
		if err := info.validate(); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		vf.tensors[name] = info
	}
	return vf, nil
}

func (info TensorInfo) validate() error {
	size, err := info.DType.Size()
	if err != nil {
		return err
	}
	elems := int64(1)
	for _, d := range info.Shape {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension in %v", ErrFormat, info.Shape)
		}
		elems *= int64(d)
	}
	if info.DataOffsets[1]-info.DataOffsets[0] != elems*int64(size) || info.DataOffsets[0] < 0 {
		return fmt.Errorf("%w: offsets %v do not match shape %v", ErrFormat, info.DataOffsets, info.Shape)
	}
	return nil
}

// Close releases the underlying file, if any.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Names returns the sorted tensor names.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.tensors))
	for name := range f.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the header entry for name.
func (f *File) Info(name string) (TensorInfo, bool) {
	info, ok := f.tensors[name]
	return info, ok
}

// Metadata returns a copy of the string metadata.
func (f *File) Metadata() map[string]string {
	out := make(map[string]string, len(f.metadata))
	for k, v := range f.metadata {
		out[k] = v
	}
	return out
}

// NumSlices returns the size of dimension 0 of the k-space tensor.
func (f *File) NumSlices() (int, error) {
	info, ok := f.tensors[KSpaceKey]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoTensor, KSpaceKey)
	}
	if len(info.Shape) == 0 {
		return 0, fmt.Errorf("%w: scalar k-space", ErrFormat)
	}
	return info.Shape[0], nil
}

// ReadTensor reads a whole tensor.
func (f *File) ReadTensor(name string) (*tensor.Tensor, error) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTensor, name)
	}
	return f.read(info, info.DataOffsets[0], info.Shape)
}

// ReadSlice reads entry i along dimension 0 of a tensor, without loading the rest.
func (f *File) ReadSlice(name string, i int) (*tensor.Tensor, error) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTensor, name)
	}
	if len(info.Shape) == 0 || i < 0 || i >= info.Shape[0] {
		return nil, fmt.Errorf("slice %d out of range for %s %v", i, name, info.Shape)
	}

	size, _ := info.DType.Size()
	elems := 1
	for _, d := range info.Shape[1:] {
		elems *= d
	}
	start := info.DataOffsets[0] + int64(i*elems*size)
	return f.read(info, start, info.Shape[1:])
}

func (f *File) read(info TensorInfo, start int64, shape []int) (*tensor.Tensor, error) {
	size, _ := info.DType.Size()
	out := tensor.Zeros(shape...)
	buf := make([]byte, out.Len()*size)
	if _, err := f.r.ReadAt(buf, f.dataStart+start); err != nil {
		return nil, fmt.Errorf("%w: reading payload: %v", ErrFormat, err)
	}
	decode(buf, info.DType, out.Data())
	return out, nil
}

// Attrs decodes the acquisition attributes from the metadata.
func (f *File) Attrs() (models.Attrs, error) {
	return ParseAttrs(f.metadata)
}

// ParseAttrs decodes acquisition attributes from a metadata map.
func ParseAttrs(md map[string]string) (models.Attrs, error) {
	attrs := models.Attrs{
		Acquisition: md["acquisition"],
		PatientID:   md["patient_id"],
		Challenge:   models.Challenge(md["challenge"]),
	}
	for key, dst := range map[string]*float64{"norm": &attrs.Norm, "max": &attrs.Max} {
		s, ok := md[key]
		if !ok || s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Attrs{}, fmt.Errorf("%w: attribute %s=%q: %v", ErrFormat, key, s, err)
		}
		*dst = v
	}
	return attrs, nil
}

// AttrsMetadata encodes acquisition attributes as volume metadata.
func AttrsMetadata(attrs models.Attrs) map[string]string {
	md := map[string]string{
		"norm": strconv.FormatFloat(attrs.Norm, 'g', -1, 64),
		"max":  strconv.FormatFloat(attrs.Max, 'g', -1, 64),
	}
	if attrs.Acquisition != "" {
		md["acquisition"] = attrs.Acquisition
	}
	if attrs.PatientID != "" {
		md["patient_id"] = attrs.PatientID
	}
	if attrs.Challenge != "" {
		md["challenge"] = string(attrs.Challenge)
	}
	return md
}
