package pointcloud

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/godel-robotics/surfacedetection/logging"
)

func testCloud() *PointCloud {
	return NewFromPoints([]r3.Vector{
		{X: 0.5, Y: -1.25, Z: 2},
		{X: 0.125, Y: 0, Z: -0.75},
	})
}

func TestPCDRoundTrip(t *testing.T) {
	for _, typ := range []PCDType{PCDAscii, PCDBinary} {
		var buf bytes.Buffer
		test.That(t, ToPCD(testCloud(), &buf, typ), test.ShouldBeNil)
		got, colors, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, colors, test.ShouldBeNil)
		test.That(t, got.Points(), test.ShouldResemble, testCloud().Points())
	}
}

func TestColoredPCDRoundTrip(t *testing.T) {
	pc := NewColoredFromCloud(testCloud(), color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	for _, typ := range []PCDType{PCDAscii, PCDBinary} {
		var buf bytes.Buffer
		test.That(t, ColoredToPCD(pc, &buf, typ), test.ShouldBeNil)
		test.That(t, buf.String(), test.ShouldContainSubstring, "FIELDS x y z rgb")
		got, colors, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Size(), test.ShouldEqual, 2)
		test.That(t, colors, test.ShouldResemble, pc.Colors())
	}
}

func TestReadPCDErrors(t *testing.T) {
	_, _, err := ReadPCD(strings.NewReader("VERSION .7\nFIELDS x y\n"))
	test.That(t, err, test.ShouldNotBeNil)

	var buf bytes.Buffer
	test.That(t, ToPCD(testCloud(), &buf, PCDCompressed), test.ShouldNotBeNil)

	// truncated binary data
	buf.Reset()
	test.That(t, ToPCD(testCloud(), &buf, PCDBinary), test.ShouldBeNil)
	truncated := buf.Bytes()[:buf.Len()-3]
	_, _, err = ReadPCD(bytes.NewReader(truncated))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewFromFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	pcdPath := filepath.Join(dir, "cloud.pcd")
	f, err := os.Create(pcdPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ToPCD(testCloud(), f, PCDAscii), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	got, err := NewFromFile(pcdPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Points(), test.ShouldResemble, testCloud().Points())

	_, err = NewFromFile(filepath.Join(dir, "missing.las"), logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewFromFile(filepath.Join(dir, "cloud.ply"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}
