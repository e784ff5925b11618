package volume

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kspacegan/internal/models"
	"kspacegan/pkg/tensor"
)

func arange(shape ...int) *tensor.Tensor {
	t := tensor.Zeros(shape...)
	for i := range t.Data() {
		// exactly representable in F16
		t.Data()[i] = float64(i%64)*0.25 - 4
	}
	return t
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, dtype := range []DType{F64, F32, F16} {
		t.Run(string(dtype), func(t *testing.T) {
			kspace := arange(3, 4, 5, 2)
			target := arange(3, 4, 5)
			attrs := models.Attrs{Acquisition: "CORPD_FBK", Norm: 0.25, Max: 3.5, Challenge: models.SingleCoil}

			var buf bytes.Buffer
			err := Write(&buf, []Entry{
				{Name: KSpaceKey, DType: dtype, Tensor: kspace},
				{Name: "reconstruction_esc", DType: dtype, Tensor: target},
			}, AttrsMetadata(attrs))
			require.NoError(t, err)

			// payload starts 8-byte aligned
			headerLen := binary.LittleEndian.Uint64(buf.Bytes()[:8])
			assert.Zero(t, headerLen%8)

			f, err := NewFile(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			defer f.Close()

			assert.Equal(t, []string{KSpaceKey, "reconstruction_esc"}, f.Names())

			n, err := f.NumSlices()
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			whole, err := f.ReadTensor(KSpaceKey)
			require.NoError(t, err)
			assert.Equal(t, kspace.Shape(), whole.Shape())
			assert.Equal(t, kspace.Data(), whole.Data())

			slice, err := f.ReadSlice("reconstruction_esc", 2)
			require.NoError(t, err)
			assert.Equal(t, []int{4, 5}, slice.Shape())
			assert.Equal(t, target.Data()[40:60], slice.Data())

			got, err := f.Attrs()
			require.NoError(t, err)
			if diff := cmp.Diff(attrs, got); diff != "" {
				t.Errorf("attrs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCreateOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file1.safetensors")
	require.NoError(t, Create(path, []Entry{{Name: KSpaceKey, DType: F32, Tensor: arange(2, 3, 3, 2)}}, nil))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	info, ok := f.Info(KSpaceKey)
	require.True(t, ok)
	assert.Equal(t, F32, info.DType)
	assert.Equal(t, []int{2, 3, 3, 2}, info.Shape)
	assert.Empty(t, f.Metadata())

	_, err = f.ReadTensor("reconstruction_rss")
	assert.True(t, errors.Is(err, ErrNoTensor))

	_, err = f.ReadSlice(KSpaceKey, 2)
	assert.Error(t, err)
}

func TestInvalidFiles(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "truncated", data: []byte{1, 2, 3}},
		{name: "zero header", data: make([]byte, 16)},
		{name: "bad json", data: append([]byte{4, 0, 0, 0, 0, 0, 0, 0}, []byte("{oop")...)},
		{name: "offsets mismatch", data: headerOnly(`{"kspace":{"dtype":"F32","shape":[2],"data_offsets":[0,4]}}`)},
		{name: "unknown dtype", data: headerOnly(`{"kspace":{"dtype":"I8","shape":[2],"data_offsets":[0,2]}}`)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFile(bytes.NewReader(tc.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat))
		})
	}
}

func headerOnly(header string) []byte {
	buf := make([]byte, 8, 8+len(header))
	binary.LittleEndian.PutUint64(buf, uint64(len(header)))
	return append(buf, header...)
}

func TestParseAttrsRejectsBadNumbers(t *testing.T) {
	_, err := ParseAttrs(map[string]string{"norm": "abc"})
	assert.True(t, errors.Is(err, ErrFormat))
}
