package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ColoredPointCloud is a PointCloud carrying one RGB color per point.
type ColoredPointCloud struct {
	*PointCloud
	colors []color.NRGBA
}

// NewColored returns an empty ColoredPointCloud.
func NewColored() *ColoredPointCloud {
	return &ColoredPointCloud{PointCloud: New()}
}

// NewColoredFromCloud paints every point of cloud with c.
func NewColoredFromCloud(cloud *PointCloud, c color.NRGBA) *ColoredPointCloud {
	out := &ColoredPointCloud{PointCloud: cloud.Clone(), colors: make([]color.NRGBA, cloud.Size())}
	for i := range out.colors {
		out.colors[i] = c
	}
	return out
}

// AppendColored adds a colored point to the end of the cloud.
func (cloud *ColoredPointCloud) AppendColored(p r3.Vector, c color.NRGBA) {
	cloud.PointCloud.Append(p)
	cloud.colors = append(cloud.colors, c)
}

// ColorAt returns the color of the i-th point.
func (cloud *ColoredPointCloud) ColorAt(i int) color.NRGBA {
	return cloud.colors[i]
}

// Colors returns the colors, index aligned with the points. The slice must not be modified.
func (cloud *ColoredPointCloud) Colors() []color.NRGBA {
	if cloud == nil {
		return nil
	}
	return cloud.colors
}

// Clone returns a deep copy of the cloud.
func (cloud *ColoredPointCloud) Clone() *ColoredPointCloud {
	if cloud == nil {
		return NewColored()
	}
	out := &ColoredPointCloud{PointCloud: cloud.PointCloud.Clone(), colors: make([]color.NRGBA, len(cloud.colors))}
	copy(out.colors, cloud.colors)
	return out
}

// Validate checks that every point has exactly one color.
func (cloud *ColoredPointCloud) Validate() error {
	if cloud.Size() != len(cloud.colors) {
		return errors.Errorf("colored cloud has %d points but %d colors", cloud.Size(), len(cloud.colors))
	}
	return nil
}
