package pointcloud

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/godel-robotics/surfacedetection/utils"
)

// MLSOptions parameterize moving least squares smoothing.
type MLSOptions struct {
	// SearchRadius is the neighborhood radius of the local fit. The gaussian weight uses it
	// as its standard parameter.
	SearchRadius float64
	// UpsamplingRadius enables upsampling when positive: around every point with fewer than
	// PointDensity neighbors in that radius, new samples are drawn on the local surface.
	UpsamplingRadius float64
	PointDensity     int
	Normals          NormalOptions
}

// minimum neighbors for the second order fit
const polynomialCoefficients = 6

// localSurface is a height field z = f(x, y) over the tangent frame of a weighted plane fit.
type localSurface struct {
	origin    r3.Vector
	u, v, n   r3.Vector
	coeffs    []float64
	curvature float64
}

func (s *localSurface) height(x, y float64) (z, dzdx, dzdy float64) {
	if s.coeffs == nil {
		return 0, 0, 0
	}
	c := s.coeffs
	z = c[0] + c[1]*x + c[2]*y + c[3]*x*x + c[4]*x*y + c[5]*y*y
	dzdx = c[1] + 2*c[3]*x + c[4]*y
	dzdy = c[2] + c[4]*x + 2*c[5]*y
	return z, dzdx, dzdy
}

// project maps the tangent plane coordinates (x, y) onto the fitted surface.
func (s *localSurface) project(x, y float64) (r3.Vector, Normal) {
	z, dzdx, dzdy := s.height(x, y)
	p := s.origin.Add(s.u.Mul(x)).Add(s.v.Mul(y)).Add(s.n.Mul(z))
	n := s.n.Sub(s.u.Mul(dzdx)).Sub(s.v.Mul(dzdy)).Normalize()
	return p, Normal{Vector: n, Curvature: s.curvature}
}

func (s *localSurface) local(p r3.Vector) (float64, float64) {
	d := p.Sub(s.origin)
	return d.Dot(s.u), d.Dot(s.v)
}

// tangentBasis returns two unit vectors completing n into an orthonormal frame.
func tangentBasis(n r3.Vector) (r3.Vector, r3.Vector) {
	u := n.Cross(n.Ortho()).Normalize()
	return u, n.Cross(u).Normalize()
}

func fitLocalSurface(pts []r3.Vector, weights []float64) (*localSurface, error) {
	centroid, normal, err := FitPlane(pts, weights)
	if err != nil {
		return nil, err
	}
	s := &localSurface{origin: centroid, n: normal.Vector, curvature: normal.Curvature}
	s.u, s.v = tangentBasis(s.n)
	if len(pts) < polynomialCoefficients {
		return s, nil
	}

	a := mat.NewDense(len(pts), polynomialCoefficients, nil)
	b := mat.NewVecDense(len(pts), nil)
	for i, p := range pts {
		d := p.Sub(centroid)
		x, y, z := d.Dot(s.u), d.Dot(s.v), d.Dot(s.n)
		sw := math.Sqrt(weights[i])
		a.SetRow(i, []float64{sw, sw * x, sw * y, sw * x * x, sw * x * y, sw * y * y})
		b.SetVec(i, sw*z)
	}
	var coeffs mat.VecDense
	if err := coeffs.SolveVec(a, b); err != nil {
		// rank deficient neighborhoods keep the plane
		return s, nil
	}
	s.coeffs = make([]float64, polynomialCoefficients)
	for i := range s.coeffs {
		s.coeffs[i] = coeffs.AtVec(i)
		if math.IsNaN(s.coeffs[i]) || math.IsInf(s.coeffs[i], 0) {
			s.coeffs = nil
			break
		}
	}
	return s, nil
}

// MovingLeastSquares smooths cloud by projecting every point onto a second order polynomial
// fitted to its weighted neighborhood, and returns the smoothed (optionally upsampled) cloud
// with one normal per output point. Points with fewer than three neighbors are dropped.
func MovingLeastSquares(ctx context.Context, cloud *PointCloud, opts MLSOptions) (*PointCloud, Normals, error) {
	if opts.SearchRadius <= 0 {
		return nil, nil, errors.Errorf("mls search radius must be positive, got %v", opts.SearchRadius)
	}
	if opts.UpsamplingRadius < 0 || opts.PointDensity < 0 {
		return nil, nil, errors.New("mls upsampling radius and point density cannot be negative")
	}
	if cloud.Size() < 3 {
		return nil, nil, NewInsufficientDataError("mls smoothing", cloud.Size(), 3)
	}
	kd := ToKDTree(cloud)
	sqrGauss := opts.SearchRadius * opts.SearchRadius
	upsample := opts.UpsamplingRadius > 0 && opts.PointDensity > 0

	perPoint := make([][]r3.Vector, cloud.Size())
	perNormal := make([]Normals, cloud.Size())
	err := utils.ParallelForEach(ctx, cloud.Size(), func(i int) {
		p := cloud.At(i)
		nbs := kd.RadiusNearestNeighbors(p, opts.SearchRadius)
		if len(nbs) < 3 {
			return
		}
		pts := make([]r3.Vector, len(nbs))
		weights := make([]float64, len(nbs))
		for j, nb := range nbs {
			pts[j] = cloud.At(nb.Index)
			weights[j] = math.Exp(-nb.Distance * nb.Distance / sqrGauss)
		}
		surf, err := fitLocalSurface(pts, weights)
		if err != nil {
			return
		}
		x, y := surf.local(p)
		proj, n := surf.project(x, y)
		n.Vector = opts.Normals.orient(proj, n.Vector)
		perPoint[i] = append(perPoint[i], proj)
		perNormal[i] = append(perNormal[i], n)

		if !upsample {
			return
		}
		have := len(kd.RadiusNearestNeighbors(p, opts.UpsamplingRadius))
		//nolint:gosec
		rng := rand.New(rand.NewSource(int64(i) + 1))
		for s := have; s < opts.PointDensity; s++ {
			r := opts.UpsamplingRadius * math.Sqrt(rng.Float64())
			theta := 2 * math.Pi * rng.Float64()
			sp, sn := surf.project(x+r*math.Cos(theta), y+r*math.Sin(theta))
			sn.Vector = opts.Normals.orient(sp, sn.Vector)
			perPoint[i] = append(perPoint[i], sp)
			perNormal[i] = append(perNormal[i], sn)
		}
	})
	if err != nil {
		return nil, nil, err
	}

	out := NewWithPrealloc(cloud.Size())
	normals := make(Normals, 0, cloud.Size())
	for i := range perPoint {
		out.Append(perPoint[i]...)
		normals = append(normals, perNormal[i]...)
	}
	if out.Size() == 0 {
		return nil, nil, NewInsufficientDataError("mls smoothing", 0, 1)
	}
	return out, normals, nil
}
