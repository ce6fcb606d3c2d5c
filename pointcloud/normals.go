package pointcloud

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/godel-robotics/surfacedetection/utils"
)

// Normal is a unit surface normal with the surface variation (curvature) of the neighborhood
// it was estimated from.
type Normal struct {
	Vector    r3.Vector
	Curvature float64
}

// Normals is an ordered sequence of normals, index aligned with a PointCloud.
type Normals []Normal

// Vectors returns only the normal directions.
func (ns Normals) Vectors() []r3.Vector {
	out := make([]r3.Vector, len(ns))
	for i, n := range ns {
		out[i] = n.Vector
	}
	return out
}

// Subset returns the normals at the given indices, in order.
func (ns Normals) Subset(indices []int) Normals {
	out := make(Normals, len(indices))
	for i, idx := range indices {
		out[i] = ns[idx]
	}
	return out
}

// CheckAligned returns an error unless there is exactly one normal per point.
func CheckAligned(cloud *PointCloud, normals Normals) error {
	if cloud.Size() != len(normals) {
		return errors.Errorf("cloud has %d points but %d normals", cloud.Size(), len(normals))
	}
	return nil
}

// FitPlane fits a plane through pts by principal component analysis, optionally weighting each
// point. It returns the weighted centroid, the unit normal (eigenvector of the smallest
// eigenvalue of the covariance) and the surface variation λ0/(λ0+λ1+λ2). weights may be nil.
func FitPlane(pts []r3.Vector, weights []float64) (r3.Vector, Normal, error) {
	if len(pts) < 3 {
		return r3.Vector{}, Normal{}, NewInsufficientDataError("plane fit", len(pts), 3)
	}
	w := func(i int) float64 {
		if weights == nil {
			return 1
		}
		return weights[i]
	}
	var centroid r3.Vector
	total := 0.
	for i, p := range pts {
		centroid = centroid.Add(p.Mul(w(i)))
		total += w(i)
	}
	if total <= 0 {
		return r3.Vector{}, Normal{}, errors.New("plane fit weights sum to zero")
	}
	centroid = centroid.Mul(1 / total)

	var xx, xy, xz, yy, yz, zz float64
	for i, p := range pts {
		d := p.Sub(centroid)
		wi := w(i)
		xx += wi * d.X * d.X
		xy += wi * d.X * d.Y
		xz += wi * d.X * d.Z
		yy += wi * d.Y * d.Y
		yz += wi * d.Y * d.Z
		zz += wi * d.Z * d.Z
	}
	cov := mat.NewSymDense(3, []float64{
		xx, xy, xz,
		xy, yy, yz,
		xz, yz, zz,
	})
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return r3.Vector{}, Normal{}, errors.New("plane fit eigen decomposition failed")
	}
	// eigenvalues are in ascending order
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	normal := r3.Vector{X: vectors.At(0, 0), Y: vectors.At(1, 0), Z: vectors.At(2, 0)}.Normalize()

	curvature := 0.
	if sum := floats.Sum(values); sum > 0 {
		curvature = math.Abs(values[0]) / sum
	}
	return centroid, Normal{Vector: normal, Curvature: curvature}, nil
}

// NormalOptions control how normals are oriented.
type NormalOptions struct {
	// Viewpoint, if set, orients normals so they point towards it. Otherwise normals point
	// towards +Z.
	Viewpoint *r3.Vector
}

// orient flips n so that it faces the viewpoint.
func (opts NormalOptions) orient(p r3.Vector, n r3.Vector) r3.Vector {
	if opts.Viewpoint == nil {
		if n.Z < 0 {
			return n.Mul(-1)
		}
		return n
	}
	if n.Dot(opts.Viewpoint.Sub(p)) < 0 {
		return n.Mul(-1)
	}
	return n
}

// EstimateNormals fits a plane over the k nearest neighbors of every point (the point itself
// included) and returns one normal per point.
func EstimateNormals(ctx context.Context, cloud *PointCloud, k int, opts NormalOptions) (Normals, error) {
	if k < 3 {
		return nil, errors.Errorf("normal estimation needs at least 3 neighbors, got %d", k)
	}
	if cloud.Size() < k+1 {
		return nil, NewInsufficientDataError("normal estimation", cloud.Size(), k+1)
	}
	kd := ToKDTree(cloud)
	normals := make(Normals, cloud.Size())
	fitErrs := make([]error, cloud.Size())
	err := utils.ParallelForEach(ctx, cloud.Size(), func(i int) {
		p := cloud.At(i)
		nbs := kd.KNearestNeighbors(p, k)
		pts := make([]r3.Vector, len(nbs))
		for j, nb := range nbs {
			pts[j] = cloud.At(nb.Index)
		}
		_, n, err := FitPlane(pts, nil)
		if err != nil {
			fitErrs[i] = err
			return
		}
		n.Vector = opts.orient(p, n.Vector)
		normals[i] = n
	})
	if err != nil {
		return nil, err
	}
	for i, err := range fitErrs {
		if err != nil {
			return nil, errors.Wrapf(err, "normal of point %d", i)
		}
	}
	return normals, nil
}
