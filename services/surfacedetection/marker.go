package surfacedetection

import (
	"encoding/json"
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/godel-robotics/surfacedetection/spatialmath"
)

// MarkerNamespace groups the markers produced by the pipeline.
const MarkerNamespace = "surfaces"

// MarkerAction tells a renderer what to do with a marker.
type MarkerAction string

// MarkerAdd adds or replaces a marker.
const MarkerAdd MarkerAction = "add"

// Marker is a renderable triangle list. Points holds three consecutive vertices per triangle,
// expressed in FrameID and placed by Pose.
type Marker struct {
	ID        int
	Namespace string
	FrameID   string
	Action    MarkerAction
	Pose      spatialmath.Pose
	Scale     r3.Vector
	Color     color.NRGBA
	Alpha     float64
	Points    []r3.Vector
}

// NewMeshMarker builds the marker of a mesh at identity pose.
func NewMeshMarker(id int, frameID string, mesh *spatialmath.Mesh, c color.NRGBA, alpha float64) Marker {
	return Marker{
		ID:        id,
		Namespace: MarkerNamespace,
		FrameID:   frameID,
		Action:    MarkerAdd,
		Pose:      spatialmath.NewZeroPose(),
		Scale:     r3.Vector{X: 1, Y: 1, Z: 1},
		Color:     c,
		Alpha:     alpha,
		Points:    mesh.TriangleList(),
	}
}

// NumTriangles returns the number of triangles drawn by the marker.
func (m Marker) NumTriangles() int {
	return len(m.Points) / 3
}

type markerColorJSON struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

type markerPoseJSON struct {
	Position    r3.Vector `json:"position"`
	Orientation struct {
		W float64 `json:"w"`
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	} `json:"orientation"`
}

type markerJSON struct {
	ID        int             `json:"id"`
	Namespace string          `json:"ns"`
	FrameID   string          `json:"frame_id"`
	Action    MarkerAction    `json:"action"`
	Type      string          `json:"type"`
	Pose      markerPoseJSON  `json:"pose"`
	Scale     r3.Vector       `json:"scale"`
	Color     markerColorJSON `json:"color"`
	Points    []r3.Vector     `json:"points"`
}

// MarshalJSON encodes the marker with unit float colors and a quaternion orientation.
func (m Marker) MarshalJSON() ([]byte, error) {
	out := markerJSON{
		ID:        m.ID,
		Namespace: m.Namespace,
		FrameID:   m.FrameID,
		Action:    m.Action,
		Type:      "triangle_list",
		Scale:     m.Scale,
		Points:    m.Points,
	}
	if out.Points == nil {
		out.Points = []r3.Vector{}
	}
	pose := m.Pose
	if pose == nil {
		pose = spatialmath.NewZeroPose()
	}
	out.Pose.Position = pose.Point()
	q := pose.Orientation().Quaternion()
	out.Pose.Orientation.W, out.Pose.Orientation.X = q.Real, q.Imag
	out.Pose.Orientation.Y, out.Pose.Orientation.Z = q.Jmag, q.Kmag

	opaque := m.Color
	opaque.A = 255
	c, _ := colorful.MakeColor(opaque)
	out.Color = markerColorJSON{R: c.R, G: c.G, B: c.B, A: m.Alpha}
	return json.Marshal(out)
}
