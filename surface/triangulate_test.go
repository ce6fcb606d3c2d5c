package surface

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/utils"
)

func testConfig() TriangulationConfig {
	return TriangulationConfig{
		SearchRadius:        0.03,
		Mu:                  2.5,
		MaxNearestNeighbors: 100,
		MaxSurfaceAngle:     utils.DegToRad(45),
		MinAngle:            utils.DegToRad(10),
		MaxAngle:            utils.DegToRad(120),
	}
}

func upNormals(n int) pc.Normals {
	normals := make(pc.Normals, n)
	for i := range normals {
		normals[i] = pc.Normal{Vector: r3.Vector{Z: 1}}
	}
	return normals
}

func TestTriangulationConfig(t *testing.T) {
	cfg := testConfig()
	test.That(t, cfg.CheckValid(), test.ShouldBeNil)
	cfg.SearchRadius = 0
	test.That(t, cfg.CheckValid().Error(), test.ShouldContainSubstring, "search_radius")
	cfg = testConfig()
	cfg.MinAngle = cfg.MaxAngle
	test.That(t, cfg.CheckValid().Error(), test.ShouldContainSubstring, "triangle angle bounds")
	cfg = testConfig()
	cfg.MaxNearestNeighbors = 1
	test.That(t, cfg.CheckValid().Error(), test.ShouldContainSubstring, "max_nearest_neighbors")
}

func TestTriangulatePlane(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud := pc.MakeTestPlane(10, 10, 0.01, 0, 0, 0)
	cfg := testConfig()
	mesh, err := Triangulate(cloud, upNormals(cloud.Size()), cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mesh.NumTriangles(), test.ShouldBeGreaterThan, 0)
	test.That(t, len(mesh.Vertices()), test.ShouldEqual, cloud.Size())
	test.That(t, mesh.Area(), test.ShouldBeGreaterThan, 0)

	seen := map[triangleKey]bool{}
	edges := map[edgeKey]int{}
	for i, tri := range mesh.Triangles() {
		// wound around the normals
		test.That(t, tri.Normal().Z, test.ShouldAlmostEqual, 1, 1e-9)
		for _, angle := range tri.InteriorAngles() {
			test.That(t, angle, test.ShouldBeGreaterThanOrEqualTo, cfg.MinAngle)
			test.That(t, angle, test.ShouldBeLessThanOrEqualTo, cfg.MaxAngle)
		}
		idx := mesh.Indices()[i]
		key := keyOf(idx[0], idx[1], idx[2])
		test.That(t, seen[key], test.ShouldBeFalse)
		seen[key] = true
		edges[edgeOf(idx[0], idx[1])]++
		edges[edgeOf(idx[1], idx[2])]++
		edges[edgeOf(idx[2], idx[0])]++
	}
	for _, uses := range edges {
		test.That(t, uses, test.ShouldBeLessThanOrEqualTo, 2)
	}
}

func TestTriangulateOrientation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud := pc.MakeTestPlane(10, 10, 0.01, 0, 0, 0)
	normals := upNormals(cloud.Size())
	for i := 1; i < len(normals); i += 2 {
		normals[i].Vector = r3.Vector{Z: -1}
	}

	mesh, err := Triangulate(cloud, normals, testConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	for _, tri := range mesh.Triangles() {
		// orientation follows the seed normal
		test.That(t, tri.Normal().Z, test.ShouldAlmostEqual, 1, 1e-9)
	}

	cfg := testConfig()
	cfg.NormalConsistency = true
	mesh, err = Triangulate(cloud, normals, cfg, logger)
	if err == nil {
		for i, tri := range mesh.Triangles() {
			// each triangle follows the normal of the point that created it
			creator := mesh.Indices()[i][0]
			test.That(t, tri.Normal().Dot(normals[creator].Vector), test.ShouldBeGreaterThan, 0)
		}
	}
}

func TestTriangulateDome(t *testing.T) {
	logger := logging.NewTestLogger(t)
	center := r3.Vector{X: 0.2, Y: 0.2}
	cloud := pc.MakeTestDome(center, 0.3, 0.024, 0.012)
	sphere := center.Add(r3.Vector{Z: 0.024 - 0.3})
	normals := make(pc.Normals, cloud.Size())
	for i, p := range cloud.Points() {
		normals[i] = pc.Normal{Vector: p.Sub(sphere).Normalize()}
	}
	mesh, err := Triangulate(cloud, normals, testConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mesh.NumTriangles(), test.ShouldBeGreaterThan, 0)
	for _, tri := range mesh.Triangles() {
		test.That(t, tri.Normal().Z, test.ShouldBeGreaterThan, 0.8)
	}
}

func TestTriangulateFailures(t *testing.T) {
	logger := logging.NewTestLogger(t)
	var gf *GeometricFailure

	two := pc.NewFromPoints([]r3.Vector{{}, {X: 0.01}})
	_, err := Triangulate(two, upNormals(2), testConfig(), logger)
	test.That(t, errors.As(err, &gf), test.ShouldBeTrue)
	test.That(t, gf.Points, test.ShouldEqual, 2)

	line := pc.New()
	for i := 0; i < 10; i++ {
		line.Append(r3.Vector{X: float64(i) * 0.01})
	}
	_, err = Triangulate(line, upNormals(10), testConfig(), logger)
	test.That(t, errors.As(err, &gf), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no valid triangle")

	sparse := pc.MakeTestPlane(4, 4, 1, 0, 0, 0)
	_, err = Triangulate(sparse, upNormals(16), testConfig(), logger)
	test.That(t, errors.As(err, &gf), test.ShouldBeTrue)

	// perpendicular normals exceed the surface angle
	steep := pc.MakeTestPlane(5, 5, 0.01, 0, 0, 0)
	normals := upNormals(25)
	for i := range normals {
		if i%2 == 1 {
			normals[i].Vector = r3.Vector{X: 1}
		}
	}
	cfg := testConfig()
	cfg.MaxSurfaceAngle = math.Pi / 8
	mesh, err := Triangulate(steep, normals, cfg, logger)
	if err == nil {
		for _, idx := range mesh.Indices() {
			test.That(t, idx[0]%2, test.ShouldEqual, idx[1]%2)
			test.That(t, idx[1]%2, test.ShouldEqual, idx[2]%2)
		}
	}

	_, err = Triangulate(steep, normals[1:], cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Triangulate(steep, normals, TriangulationConfig{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
