// Package surface reconstructs triangle meshes from oriented point clouds.
package surface

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/spatialmath"
)

// TriangulationConfig specifies the parameters of greedy projection triangulation. Angles are in radians.
type TriangulationConfig struct {
	SearchRadius        float64 `json:"search_radius"`
	Mu                  float64 `json:"mu"`
	MaxNearestNeighbors int     `json:"max_nearest_neighbors"`
	MaxSurfaceAngle     float64 `json:"max_surface_angle_rad"`
	MinAngle            float64 `json:"min_angle_rad"`
	MaxAngle            float64 `json:"max_angle_rad"`
	NormalConsistency   bool    `json:"normal_consistency"`
}

// CheckValid checks to see in the inputs values are valid.
func (cfg *TriangulationConfig) CheckValid() error {
	if cfg.SearchRadius <= 0 {
		return errors.Errorf("search_radius must be greater than 0, got %v", cfg.SearchRadius)
	}
	if cfg.Mu <= 0 {
		return errors.Errorf("mu must be greater than 0, got %v", cfg.Mu)
	}
	if cfg.MaxNearestNeighbors < 2 {
		return errors.Errorf("max_nearest_neighbors must be at least 2, got %d", cfg.MaxNearestNeighbors)
	}
	if cfg.MaxSurfaceAngle < 0 || cfg.MaxSurfaceAngle > math.Pi {
		return errors.Errorf("max_surface_angle_rad must be between 0 and pi, got %v", cfg.MaxSurfaceAngle)
	}
	if cfg.MinAngle < 0 || cfg.MaxAngle > math.Pi || cfg.MinAngle >= cfg.MaxAngle {
		return errors.Errorf("triangle angle bounds must satisfy 0 <= min_angle_rad (%v) < max_angle_rad (%v) <= pi",
			cfg.MinAngle, cfg.MaxAngle)
	}
	return nil
}

// GeometricFailure is returned when a cloud cannot be turned into a mesh.
type GeometricFailure struct {
	Points int
	Reason string
}

// NewGeometricFailure returns a GeometricFailure for a cloud of the given size.
func NewGeometricFailure(points int, reason string) error {
	return &GeometricFailure{Points: points, Reason: reason}
}

func (e *GeometricFailure) Error() string {
	return fmt.Sprintf("triangulation of %d points failed: %s", e.Points, e.Reason)
}

type triangleKey [3]int

func keyOf(a, b, c int) triangleKey {
	k := []int{a, b, c}
	sort.Ints(k)
	return triangleKey{k[0], k[1], k[2]}
}

type edgeKey [2]int

func edgeOf(a, b int) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

type triangulator struct {
	cfg     TriangulationConfig
	cloud   *pc.PointCloud
	normals pc.Normals
	kd      *pc.KDTree

	oriented  []r3.Vector
	visited   []bool
	triangles [][3]int
	seen      map[triangleKey]struct{}
	edgeUses  map[edgeKey]int
	cosMax    float64
}

type fanCandidate struct {
	index int
	angle float64
}

// Triangulate builds a mesh over the cloud by greedy projection: starting from a seed, every reached point
// connects its nearest neighbors (at most MaxNearestNeighbors, within min(SearchRadius, Mu times the distance
// to its nearest neighbor), with normals at most MaxSurfaceAngle apart) into a fan of triangles in its
// tangent plane. Triangles with an interior angle outside [MinAngle, MaxAngle] are rejected and an edge is
// shared by at most two triangles. Each triangle is wound counterclockwise around the normal of the point
// that created it; without NormalConsistency normal orientations are ignored and made coherent by propagation.
func Triangulate(cloud *pc.PointCloud, normals pc.Normals, cfg TriangulationConfig, logger logging.Logger) (*spatialmath.Mesh, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	if err := pc.CheckAligned(cloud, normals); err != nil {
		return nil, err
	}
	if cloud.Size() < 3 {
		return nil, NewGeometricFailure(cloud.Size(), "fewer than 3 points")
	}

	t := &triangulator{
		cfg:      cfg,
		cloud:    cloud,
		normals:  normals,
		kd:       pc.ToKDTree(cloud),
		oriented: make([]r3.Vector, cloud.Size()),
		visited:  make([]bool, cloud.Size()),
		seen:     make(map[triangleKey]struct{}),
		edgeUses: make(map[edgeKey]int),
		cosMax:   math.Cos(cfg.MaxSurfaceAngle),
	}
	components := 0
	for seed := 0; seed < cloud.Size(); seed++ {
		if t.visited[seed] {
			continue
		}
		components++
		t.grow(seed)
	}
	if len(t.triangles) == 0 {
		return nil, NewGeometricFailure(cloud.Size(), "no valid triangle")
	}
	logger.Debugw("triangulated cloud", "points", cloud.Size(), "triangles", len(t.triangles), "components", components)

	vertices := make([]r3.Vector, cloud.Size())
	copy(vertices, cloud.Points())
	return spatialmath.NewMesh(spatialmath.NewZeroPose(), vertices, t.triangles)
}

func (t *triangulator) grow(seed int) {
	t.visited[seed] = true
	t.oriented[seed] = t.normals[seed].Vector
	queue := []int{seed}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		candidates := t.candidates(cur)
		for _, j := range candidates {
			if t.visited[j] {
				continue
			}
			t.visited[j] = true
			nj := t.normals[j].Vector
			if !t.cfg.NormalConsistency && nj.Dot(t.oriented[cur]) < 0 {
				nj = nj.Mul(-1)
			}
			t.oriented[j] = nj
			queue = append(queue, j)
		}
		t.fan(cur, candidates)
	}
}

// candidates returns the neighbors of i that may share a triangle with it.
func (t *triangulator) candidates(i int) []int {
	nbs := t.kd.KNearestNeighborsOf(i, t.cfg.MaxNearestNeighbors)
	nearest := 0.
	for _, nb := range nbs {
		if nb.Distance > 0 {
			nearest = nb.Distance
			break
		}
	}
	if nearest == 0 {
		return nil
	}
	radius := math.Min(t.cfg.SearchRadius, t.cfg.Mu*nearest)
	ni := t.oriented[i]
	out := make([]int, 0, len(nbs))
	for _, nb := range nbs {
		if nb.Distance == 0 || nb.Distance > radius {
			continue
		}
		c := ni.Dot(t.normals[nb.Index].Vector)
		if !t.cfg.NormalConsistency {
			c = math.Abs(c)
		}
		if c < t.cosMax {
			continue
		}
		out = append(out, nb.Index)
	}
	return out
}

// fan connects angularly consecutive candidates around i.
func (t *triangulator) fan(i int, candidates []int) {
	if len(candidates) < 2 {
		return
	}
	ni := t.oriented[i]
	u := ni.Cross(ni.Ortho()).Normalize()
	v := ni.Cross(u)
	p := t.cloud.At(i)
	fan := make([]fanCandidate, 0, len(candidates))
	for _, j := range candidates {
		d := t.cloud.At(j).Sub(p)
		fan = append(fan, fanCandidate{index: j, angle: math.Atan2(d.Dot(v), d.Dot(u))})
	}
	sort.SliceStable(fan, func(a, b int) bool { return fan[a].angle < fan[b].angle })

	for k := range fan {
		next := (k + 1) % len(fan)
		if next == k || (next == 0 && len(fan) < 3) {
			continue
		}
		gap := fan[next].angle - fan[k].angle
		if next == 0 {
			gap += 2 * math.Pi
		}
		if gap <= 0 || gap >= math.Pi {
			continue
		}
		t.addTriangle(i, fan[k].index, fan[next].index)
	}
}

func (t *triangulator) addTriangle(a, b, c int) {
	key := keyOf(a, b, c)
	if _, ok := t.seen[key]; ok {
		return
	}
	p0, p1, p2 := t.cloud.At(a), t.cloud.At(b), t.cloud.At(c)
	for _, angle := range spatialmath.TriangleAngles(p0, p1, p2) {
		if angle < t.cfg.MinAngle || angle > t.cfg.MaxAngle {
			return
		}
	}
	if spatialmath.PlaneNormal(p0, p1, p2).Dot(t.oriented[a]) <= 0 {
		return
	}
	edges := []edgeKey{edgeOf(a, b), edgeOf(b, c), edgeOf(c, a)}
	for _, e := range edges {
		if t.edgeUses[e] >= 2 {
			return
		}
	}
	for _, e := range edges {
		t.edgeUses[e]++
	}
	t.seen[key] = struct{}{}
	t.triangles = append(t.triangles, [3]int{a, b, c})
}
