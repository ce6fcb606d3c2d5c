package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
)

func writePCD(t *testing.T, dir, name string, cloud *pc.PointCloud) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.ToPCD(cloud, f, pc.PCDBinary), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)
	return path
}

func runApp(args ...string) (string, error) {
	app := newApp()
	var stdout bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run(append([]string{"surfacedetect"}, args...))
	return stdout.String(), err
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	floor := writePCD(t, dir, "floor.pcd", pc.MakeTestPlane(100, 50, 0.01, 0.005, 0.005, 0))
	dome := writePCD(t, dir, "dome.pcd", pc.MakeTestDome(r3.Vector{X: 0.5, Y: 0.25}, 0.3, 0.024, 0.012))
	params := filepath.Join(dir, "params.json")
	test.That(t, os.WriteFile(params, []byte(`{"surface_detection": {"tr_search_radius": 0.03}}`), 0o600), test.ShouldBeNil)
	out := filepath.Join(dir, "out")

	stdout, err := runApp("run", "--trace", "--config", params, "--out", out, floor, dome)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stdout, test.ShouldContainSubstring, "meshes built: 1")

	for _, name := range []string{"full.pcd", "regions.pcd", "surface_0.pcd", "markers.json"} {
		_, err := os.Stat(filepath.Join(out, name))
		test.That(t, err, test.ShouldBeNil)
	}
	_, err = os.Stat(filepath.Join(out, "surface_1.pcd"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	full, err := pc.NewFromFile(filepath.Join(out, "full.pcd"), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, full.Size(), test.ShouldBeGreaterThan, 5000)

	buf, err := os.ReadFile(filepath.Join(out, "markers.json"))
	test.That(t, err, test.ShouldBeNil)
	var markers []map[string]interface{}
	test.That(t, json.Unmarshal(buf, &markers), test.ShouldBeNil)
	test.That(t, len(markers), test.ShouldEqual, 1)
	test.That(t, markers[0]["frame_id"], test.ShouldEqual, "world_frame")
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := runApp("run", "--out", dir)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no cloud files")

	_, err = runApp("run", "--out", dir, filepath.Join(dir, "missing.pcd"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = runApp("run", "--out", dir, filepath.Join(dir, "cloud.ply"))
	test.That(t, err.Error(), test.ShouldContainSubstring, "do not know how to read")

	params := filepath.Join(dir, "params.json")
	test.That(t, os.WriteFile(params, []byte(`{"surface_detection": {"voxel_leaf": -1}}`), 0o600), test.ShouldBeNil)
	cloud := writePCD(t, dir, "small.pcd", pc.MakeTestPlane(3, 3, 0.01, 0, 0, 0))
	_, err = runApp("run", "--config", params, "--out", dir, cloud)
	test.That(t, err.Error(), test.ShouldContainSubstring, "voxel_leaf")

	// too few points for the statistical filter, but results are still written
	_, err = runApp("run", "--out", filepath.Join(dir, "small"), cloud)
	test.That(t, err, test.ShouldNotBeNil)
	_, statErr := os.Stat(filepath.Join(dir, "small", "full.pcd"))
	test.That(t, statErr, test.ShouldBeNil)
}

func TestDefaults(t *testing.T) {
	stdout, err := runApp("defaults")
	test.That(t, err, test.ShouldBeNil)
	var out map[string]map[string]interface{}
	test.That(t, json.Unmarshal([]byte(stdout), &out), test.ShouldBeNil)
	test.That(t, out["surface_detection"]["k_search"], test.ShouldEqual, 50.)
	test.That(t, out["surface_detection"]["normal_method"], test.ShouldEqual, "normal_estimation")
}
