// Package mridata indexes a directory of MRI volume files and serves one
// record per k-space slice to a transform hook.
package mridata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"kspacegan/internal/models"
	"kspacegan/pkg/volume"
)

// Extension of the volume files picked up by NewSliceDataset
const Extension = ".safetensors"

var (
	// ErrNoVolumes is returned when the root directory holds no volume files.
	ErrNoVolumes = errors.New("no volume files found")

	// ErrSampleRate is returned for a sample rate outside (0, 1].
	ErrSampleRate = errors.New("sample rate must be in (0, 1]")
)

// TransformFunc converts a raw record into the item type served by the dataset.
type TransformFunc[T any] func(models.Record) (T, error)

// Options controls volume selection
type Options struct {
	// SampleRate is the fraction of volumes to keep. Zero keeps all of them.
	SampleRate float64

	// Seed fixes which volumes SampleRate keeps
	Seed uint64
}

// VolumeInfo summarizes one indexed volume file
type VolumeInfo struct {
	Path        string
	Fname       string
	NumSlices   int
	KSpaceShape []int
	HasTarget   bool
	Attrs       models.Attrs
}

type example struct {
	volume int
	slice  int
}

// SliceDataset serves every slice of every volume under a root directory.
// It is safe for concurrent use: Get opens the volume file for each call.
type SliceDataset[T any] struct {
	root      string
	challenge models.Challenge
	transform TransformFunc[T]
	volumes   []VolumeInfo
	examples  []example
}

// NewSliceDataset scans root for volume files and indexes their slices.
func NewSliceDataset[T any](root string, challenge models.Challenge, transform TransformFunc[T], opts Options) (*SliceDataset[T], error) {
	if err := challenge.Validate(); err != nil {
		return nil, err
	}
	if transform == nil {
		return nil, errors.New("transform is required")
	}
	rate := opts.SampleRate
	if rate == 0 {
		rate = 1
	}
	if rate < 0 || rate > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrSampleRate, opts.SampleRate)
	}

	files, err := listVolumes(root)
	if err != nil {
		return nil, err
	}
	files = sampleFiles(files, rate, opts.Seed)

	ds := &SliceDataset[T]{root: root, challenge: challenge, transform: transform}
	for _, path := range files {
		info, err := inspect(path, challenge)
		if err != nil {
			return nil, err
		}
		idx := len(ds.volumes)
		ds.volumes = append(ds.volumes, info)
		for s := 0; s < info.NumSlices; s++ {
			ds.examples = append(ds.examples, example{volume: idx, slice: s})
		}
		log.Debug().Str("file", info.Fname).Int("slices", info.NumSlices).Ints("shape", info.KSpaceShape).Msg("indexed volume")
	}

	log.Info().
		Str("root", root).
		Str("challenge", string(challenge)).
		Int("volumes", len(ds.volumes)).
		Int("slices", len(ds.examples)).
		Msg("dataset ready")
	return ds, nil
}

// listVolumes returns volume files in root ordered by the number in their name.
func listVolumes(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("error reading dataset directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), Extension) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoVolumes, root)
	}

	sort.Slice(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(root, n)
	}
	return paths, nil
}

// extractNumber extracts the digits of a filename as one number
func extractNumber(filename string) int {
	var digits strings.Builder
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	num, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return num
}

// sampleFiles keeps a seeded random subset of files, preserving their order.
func sampleFiles(files []string, rate float64, seed uint64) []string {
	if rate >= 1 {
		return files
	}
	keep := int(math.Round(float64(len(files)) * rate))
	if keep < 1 {
		keep = 1
	}
	perm := rand.New(rand.NewSource(seed)).Perm(len(files))[:keep]
	sort.Ints(perm)

	out := make([]string, keep)
	for i, p := range perm {
		out[i] = files[p]
	}
	return out
}

func inspect(path string, challenge models.Challenge) (VolumeInfo, error) {
	f, err := volume.Open(path)
	if err != nil {
		return VolumeInfo{}, err
	}
	defer f.Close()

	n, err := f.NumSlices()
	if err != nil {
		return VolumeInfo{}, fmt.Errorf("%s: %w", path, err)
	}
	attrs, err := f.Attrs()
	if err != nil {
		return VolumeInfo{}, fmt.Errorf("%s: %w", path, err)
	}
	if attrs.Challenge == "" {
		attrs.Challenge = challenge
	}
	kinfo, _ := f.Info(volume.KSpaceKey)
	_, hasTarget := f.Info(challenge.TargetKey())

	return VolumeInfo{
		Path:        path,
		Fname:       filepath.Base(path),
		NumSlices:   n,
		KSpaceShape: append([]int(nil), kinfo.Shape...),
		HasTarget:   hasTarget,
		Attrs:       attrs,
	}, nil
}

// Len returns the number of slices across all volumes.
func (d *SliceDataset[T]) Len() int {
	return len(d.examples)
}

// Volumes returns the indexed volumes in dataset order.
func (d *SliceDataset[T]) Volumes() []VolumeInfo {
	return append([]VolumeInfo(nil), d.volumes...)
}

// Challenge returns the coil configuration of the dataset.
func (d *SliceDataset[T]) Challenge() models.Challenge {
	return d.challenge
}

// Record reads the raw record for slice index i.
func (d *SliceDataset[T]) Record(i int) (models.Record, error) {
	if i < 0 || i >= len(d.examples) {
		return models.Record{}, fmt.Errorf("index %d out of range [0, %d)", i, len(d.examples))
	}
	ex := d.examples[i]
	info := d.volumes[ex.volume]

	f, err := volume.Open(info.Path)
	if err != nil {
		return models.Record{}, err
	}
	defer f.Close()

	kspace, err := f.ReadSlice(volume.KSpaceKey, ex.slice)
	if err != nil {
		return models.Record{}, fmt.Errorf("%s slice %d: %w", info.Fname, ex.slice, err)
	}

	rec := models.Record{KSpace: kspace, Attrs: info.Attrs, Fname: info.Fname, Slice: ex.slice}
	if info.HasTarget {
		rec.Target, err = f.ReadSlice(d.challenge.TargetKey(), ex.slice)
		if err != nil {
			return models.Record{}, fmt.Errorf("%s slice %d target: %w", info.Fname, ex.slice, err)
		}
	}
	return rec, nil
}

// Get reads slice i and runs the transform on it.
func (d *SliceDataset[T]) Get(ctx context.Context, i int) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	rec, err := d.Record(i)
	if err != nil {
		return zero, err
	}
	item, err := d.transform(rec)
	if err != nil {
		return zero, fmt.Errorf("transform %s slice %d: %w", rec.Fname, rec.Slice, err)
	}
	return item, nil
}
