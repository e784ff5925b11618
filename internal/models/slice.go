package models

import (
	"errors"
	"fmt"

	"kspacegan/pkg/tensor"
)

// ErrInvalidChallenge is returned for a coil-configuration tag other than
// singlecoil or multicoil.
var ErrInvalidChallenge = errors.New(`challenge should be either "singlecoil" or "multicoil"`)

// Challenge is the coil configuration of an acquisition
type Challenge string

const (
	SingleCoil Challenge = "singlecoil"
	MultiCoil  Challenge = "multicoil"
)

// Validate returns ErrInvalidChallenge unless c is a recognized tag.
func (c Challenge) Validate() error {
	switch c {
	case SingleCoil, MultiCoil:
		return nil
	}
	return fmt.Errorf("%w, got %q", ErrInvalidChallenge, string(c))
}

// TargetKey is the volume tensor holding the ground-truth reconstruction for
// this challenge.
func (c Challenge) TargetKey() string {
	if c == MultiCoil {
		return "reconstruction_rss"
	}
	return "reconstruction_esc"
}

// Attrs holds the acquisition attributes stored alongside each volume
type Attrs struct {
	// Acquisition is the scanner protocol, e.g. CORPD_FBK
	Acquisition string `json:"acquisition,omitempty"`

	// Norm is the Euclidean norm of the fully sampled k-space volume
	Norm float64 `json:"norm,omitempty"`

	// Max is the largest value of the target volume
	Max float64 `json:"max,omitempty"`

	PatientID string `json:"patient_id,omitempty"`

	// Challenge is the coil configuration the volume was acquired with
	Challenge Challenge `json:"challenge,omitempty"`
}

// Record is one slice of raw k-space together with its target and metadata
type Record struct {
	// KSpace is [H, W, 2] for single-coil or [C, H, W, 2] for multi-coil data
	KSpace *tensor.Tensor

	// Target is the [h, w] ground-truth image; nil for test splits
	Target *tensor.Tensor

	Attrs Attrs

	// Fname is the base name of the source volume file
	Fname string

	// Slice is the index of this slice within its volume
	Slice int
}
