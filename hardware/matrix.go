package hardware

import (
	"math"

	"github.com/lefinal/vr-arbiter/vr"
)

// PerspectiveFromFOV creates a row-major projection matrix for the given field
// of view and clip planes.
func PerspectiveFromFOV(fov vr.FieldOfView, near float64, far float64) vr.Matrix {
	upTan := math.Tan(fov.UpDegrees * math.Pi / 180)
	downTan := math.Tan(fov.DownDegrees * math.Pi / 180)
	leftTan := math.Tan(fov.LeftDegrees * math.Pi / 180)
	rightTan := math.Tan(fov.RightDegrees * math.Pi / 180)
	xScale := 2 / (leftTan + rightTan)
	yScale := 2 / (upTan + downTan)
	var m vr.Matrix
	m[0] = float32(xScale)
	m[2] = float32(-((leftTan - rightTan) * xScale * 0.5))
	m[5] = float32(yScale)
	m[6] = float32((upTan - downTan) * yScale * 0.5)
	m[10] = float32(far / (near - far))
	m[11] = float32((far * near) / (near - far))
	m[14] = -1
	return m
}

// ViewFromPose creates a row-major view matrix for an eye with the given offset
// from the head pose described by orientation (quaternion x, y, z, w) and
// position.
func ViewFromPose(orientation [4]float32, position [3]float32, eyeOffset [3]float32) vr.Matrix {
	x, y, z, w := float64(orientation[0]), float64(orientation[1]), float64(orientation[2]), float64(orientation[3])
	// Rotation matrix of the head.
	r := [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
	var m vr.Matrix
	for row := 0; row < 3; row++ {
		// Transposed rotation is the inverse rotation.
		var translation float64
		for col := 0; col < 3; col++ {
			m[row*4+col] = float32(r[col][row])
			translation -= r[col][row] * float64(position[col])
		}
		m[row*4+3] = float32(translation - float64(eyeOffset[row]))
	}
	m[15] = 1
	return m
}
