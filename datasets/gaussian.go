// Package datasets provides in-memory point sources for training runs.
package datasets

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/tsawler/go-gan/tensor"
	"github.com/tsawler/go-gan/training"
)

// Layout selects how a mixture exposes the component class of each point.
type Layout int

const (
	// Unlabelled samples are the point coordinates only.
	Unlabelled Layout = iota
	// OneHot samples carry the class as a trailing one-hot block of the data.
	OneHot
	// Labelled samples carry the class as a separate label factor.
	Labelled
)

func (l Layout) String() string {
	switch l {
	case Unlabelled:
		return "unlabelled"
	case OneHot:
		return "one-hot"
	case Labelled:
		return "labelled"
	default:
		return "unknown"
	}
}

// Component is one isotropic unit-variance Gaussian of a mixture.
type Component struct {
	Mean  []float64
	Size  int
	Class int
}

// GaussianMixture holds points drawn once at construction from a set of
// unit-covariance Gaussians. It implements training.Dataset.
type GaussianMixture struct {
	dim        int
	numClasses int
	layout     Layout
	points     []float32
	classes    []int
}

var _ training.Dataset = (*GaussianMixture)(nil)

// NewGaussianMixture samples an unlabelled mixture.
func NewGaussianMixture(components []Component, src rand.Source) (*GaussianMixture, error) {
	return newMixture(components, 0, Unlabelled, src)
}

// NewConditionalGaussianMixture samples a mixture whose samples end with a
// numClasses wide one-hot encoding of the component class.
func NewConditionalGaussianMixture(components []Component, numClasses int, src rand.Source) (*GaussianMixture, error) {
	return newMixture(components, numClasses, OneHot, src)
}

// NewLabelledGaussianMixture samples a mixture that reports the component
// class as a label factor next to the coordinates.
func NewLabelledGaussianMixture(components []Component, numClasses int, src rand.Source) (*GaussianMixture, error) {
	return newMixture(components, numClasses, Labelled, src)
}

func newMixture(components []Component, numClasses int, layout Layout, src rand.Source) (*GaussianMixture, error) {
	if len(components) == 0 {
		return nil, errors.New("a mixture needs at least one component")
	}
	dim := len(components[0].Mean)
	if dim == 0 {
		return nil, errors.New("component means must have at least one dimension")
	}
	if layout != Unlabelled && numClasses < 1 {
		return nil, errors.Errorf("%s mixture needs a positive class count, got %d", layout, numClasses)
	}

	ones := make([]float64, dim)
	for i := range ones {
		ones[i] = 1
	}
	cov := mat.NewDiagDense(dim, ones)

	gm := &GaussianMixture{dim: dim, numClasses: numClasses, layout: layout}
	sample := make([]float64, dim)
	for ci, c := range components {
		if len(c.Mean) != dim {
			return nil, errors.Errorf("component %d has dimension %d, expected %d", ci, len(c.Mean), dim)
		}
		if c.Size < 0 {
			return nil, errors.Errorf("component %d has negative size %d", ci, c.Size)
		}
		if layout != Unlabelled && (c.Class < 0 || c.Class >= numClasses) {
			return nil, errors.Errorf("component %d class %d outside [0, %d)", ci, c.Class, numClasses)
		}
		normal, ok := distmv.NewNormal(c.Mean, cov, src)
		if !ok {
			return nil, errors.Errorf("component %d covariance is not positive definite", ci)
		}
		for i := 0; i < c.Size; i++ {
			normal.Rand(sample)
			for _, v := range sample {
				gm.points = append(gm.points, float32(v))
			}
			gm.classes = append(gm.classes, c.Class)
		}
	}
	return gm, nil
}

func (gm *GaussianMixture) Len() int {
	return len(gm.classes)
}

// Dim is the number of point coordinates, excluding any one-hot block.
func (gm *GaussianMixture) Dim() int {
	return gm.dim
}

// SampleWidth is the width of one data row as returned by Get.
func (gm *GaussianMixture) SampleWidth() int {
	if gm.layout == OneHot {
		return gm.dim + gm.numClasses
	}
	return gm.dim
}

func (gm *GaussianMixture) NumClasses() int {
	return gm.numClasses
}

func (gm *GaussianMixture) Layout() Layout {
	return gm.layout
}

// Class returns the component class of sample idx.
func (gm *GaussianMixture) Class(idx int) int {
	return gm.classes[idx]
}

func (gm *GaussianMixture) Get(idx int) (*tensor.Tensor, []int, error) {
	if idx < 0 || idx >= gm.Len() {
		return nil, nil, errors.Errorf("index %d out of range [0, %d)", idx, gm.Len())
	}

	row := make([]float32, gm.SampleWidth())
	copy(row, gm.points[idx*gm.dim:(idx+1)*gm.dim])
	var labels []int
	switch gm.layout {
	case OneHot:
		row[gm.dim+gm.classes[idx]] = 1
	case Labelled:
		labels = []int{gm.classes[idx]}
	}

	t, err := tensor.NewTensor([]int{len(row)}, tensor.Float32, tensor.CPU, row)
	if err != nil {
		return nil, nil, err
	}
	return t, labels, nil
}

// RingComponents places k two-dimensional components evenly on a circle of the
// given radius, component i having class i.
func RingComponents(k int, radius float64, perComponent int) []Component {
	components := make([]Component, k)
	for i := range components {
		angle := 2 * math.Pi * float64(i) / float64(k)
		components[i] = Component{
			Mean:  []float64{radius * math.Cos(angle), radius * math.Sin(angle)},
			Size:  perComponent,
			Class: i,
		}
	}
	return components
}

// ByName builds one of the demo sources: "gaussians" (unlabelled),
// "conditional_gaussians" (trailing one-hot) or "labelled_gaussians". size
// points are split evenly over numClasses ring components.
func ByName(name string, size, numClasses int, src rand.Source) (*GaussianMixture, error) {
	if numClasses < 1 {
		return nil, errors.Errorf("need at least one component, got %d", numClasses)
	}
	per := size / numClasses
	if per < 1 {
		return nil, errors.Errorf("dataset size %d is too small for %d components", size, numClasses)
	}
	components := RingComponents(numClasses, 4*float64(numClasses), per)

	switch name {
	case "gaussians":
		return NewGaussianMixture(components, src)
	case "conditional_gaussians":
		return NewConditionalGaussianMixture(components, numClasses, src)
	case "labelled_gaussians":
		return NewLabelledGaussianMixture(components, numClasses, src)
	}
	return nil, errors.Errorf("unknown dataset %q", name)
}
