package hardware

import (
	"math"
	"testing"

	"github.com/lefinal/vr-arbiter/vr"
	"github.com/stretchr/testify/assert"
)

const matrixDelta = 0.0001

func TestPerspectiveFromFOV(t *testing.T) {
	fov := vr.FieldOfView{
		UpDegrees:    45,
		RightDegrees: 45,
		DownDegrees:  45,
		LeftDegrees:  45,
	}
	m := PerspectiveFromFOV(fov, 0.1, 1000)
	assert.InDelta(t, 1, m[0], matrixDelta, "x scale should match")
	assert.InDelta(t, 0, m[2], matrixDelta, "symmetric fov should have no x offset")
	assert.InDelta(t, 1, m[5], matrixDelta, "y scale should match")
	assert.InDelta(t, 0, m[6], matrixDelta, "symmetric fov should have no y offset")
	assert.InDelta(t, 1000/(0.1-1000), m[10], matrixDelta, "depth scale should match")
	assert.InDelta(t, (1000*0.1)/(0.1-1000), m[11], matrixDelta, "depth offset should match")
	assert.EqualValues(t, -1, m[14], "should set perspective divide")
	assert.EqualValues(t, 0, m[15], "should not set w")
}

func TestPerspectiveFromFOVAsymmetric(t *testing.T) {
	fov := vr.FieldOfView{
		UpDegrees:    45,
		RightDegrees: 45,
		DownDegrees:  45,
		LeftDegrees:  0,
	}
	m := PerspectiveFromFOV(fov, 0.1, 1000)
	assert.InDelta(t, 2, m[0], matrixDelta, "x scale should match")
	assert.InDelta(t, 1, m[2], matrixDelta, "should shift x towards the right")
}

func TestViewFromPoseIdentity(t *testing.T) {
	m := ViewFromPose([4]float32{0, 0, 0, 1}, [3]float32{}, [3]float32{-0.032, 0, 0})
	expected := vr.IdentityMatrix
	expected[3] = 0.032
	for i := range expected {
		assert.InDeltaf(t, expected[i], m[i], matrixDelta, "element %d should match", i)
	}
}

func TestViewFromPoseTranslation(t *testing.T) {
	m := ViewFromPose([4]float32{0, 0, 0, 1}, [3]float32{1, 2, 3}, [3]float32{})
	assert.InDelta(t, -1, m[3], matrixDelta, "should invert x translation")
	assert.InDelta(t, -2, m[7], matrixDelta, "should invert y translation")
	assert.InDelta(t, -3, m[11], matrixDelta, "should invert z translation")
}

func TestViewFromPoseYaw(t *testing.T) {
	// 90 degrees around y.
	half := math.Pi / 4
	m := ViewFromPose([4]float32{0, float32(math.Sin(half)), 0, float32(math.Cos(half))}, [3]float32{}, [3]float32{})
	// Inverse rotation maps world x to view z.
	assert.InDelta(t, 0, m[0], matrixDelta)
	assert.InDelta(t, -1, m[2], matrixDelta)
	assert.InDelta(t, 1, m[8], matrixDelta)
	assert.InDelta(t, 0, m[10], matrixDelta)
	assert.InDelta(t, 1, m[5], matrixDelta)
	assert.EqualValues(t, 1, m[15])
}
