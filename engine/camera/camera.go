// Package camera provides the orbit camera the render host uses to fill the vertex programs' camera block.
package camera

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
)

type cameraImpl struct {
	mu *sync.Mutex

	up     [3]float32
	target [3]float32

	fov    float32
	aspect float32
	near   float32
	far    float32

	// Spherical coordinates of the eye around the target.
	radius    float32
	azimuth   float32
	elevation float32

	minRadius, maxRadius       float32
	minElevation, maxElevation float32
	orbitSpeed, zoomSpeed      float32

	eye            [3]float32
	viewProjection common.Mat4
}

// Camera is a perspective camera orbiting a target point. The view-projection matrix is recomputed on
// every change.
type Camera interface {
	// Eye returns the world-space camera position.
	Eye() [3]float32

	// Target returns the point the camera looks at.
	Target() [3]float32

	// ViewProjection returns the combined view-projection matrix (column-major).
	ViewProjection() common.Mat4

	// Orbit rotates the eye around the target by the given number of orbit steps. Elevation is clamped
	// to the configured bounds.
	//
	// Parameters:
	//   - azimuthSteps: horizontal steps, positive to the right
	//   - elevationSteps: vertical steps, positive upwards
	Orbit(azimuthSteps, elevationSteps float32)

	// Zoom moves the eye towards the target by delta zoom steps, clamped to the radius bounds.
	Zoom(delta float32)

	// SetTarget moves the orbit centre.
	SetTarget(x, y, z float32)

	// SetAspect sets the projection aspect ratio (width / height). Non-positive values are ignored.
	SetAspect(aspect float32)

	// Radius returns the distance from the eye to the target.
	Radius() float32
}

var _ Camera = &cameraImpl{}

// NewCamera creates an orbit camera.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:           &sync.Mutex{},
		up:           [3]float32{0, 1, 0},
		fov:          45.0 * (math.Pi / 180.0),
		aspect:       16.0 / 9.0,
		near:         0.1,
		far:          500.0,
		radius:       40.0,
		elevation:    float32(math.Pi / 6),
		minRadius:    2.0,
		maxRadius:    400.0,
		minElevation: 0.05,
		maxElevation: float32(math.Pi/2 - 0.1),
		orbitSpeed:   0.03,
		zoomSpeed:    2.0,
	}
	for _, option := range options {
		option(c)
	}
	c.radius = clamp(c.radius, c.minRadius, c.maxRadius)
	c.elevation = clamp(c.elevation, c.minElevation, c.maxElevation)
	c.update()
	return c
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}

func (c *cameraImpl) Eye() [3]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eye
}

func (c *cameraImpl) Target() [3]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *cameraImpl) ViewProjection() common.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewProjection
}

func (c *cameraImpl) Orbit(azimuthSteps, elevationSteps float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.azimuth += azimuthSteps * c.orbitSpeed
	c.elevation = clamp(c.elevation+elevationSteps*c.orbitSpeed, c.minElevation, c.maxElevation)
	c.update()
}

func (c *cameraImpl) Zoom(delta float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.radius = clamp(c.radius-delta*c.zoomSpeed, c.minRadius, c.maxRadius)
	c.update()
}

func (c *cameraImpl) SetTarget(x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = [3]float32{x, y, z}
	c.update()
}

func (c *cameraImpl) SetAspect(aspect float32) {
	if aspect <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
	c.update()
}

func (c *cameraImpl) Radius() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.radius
}

// update recomputes the eye from the spherical coordinates and then the view-projection matrix.
// Caller must hold the mutex.
func (c *cameraImpl) update() {
	cosElev := float32(math.Cos(float64(c.elevation)))
	sinElev := float32(math.Sin(float64(c.elevation)))
	cosAzim := float32(math.Cos(float64(c.azimuth)))
	sinAzim := float32(math.Sin(float64(c.azimuth)))

	c.eye = [3]float32{
		c.target[0] + c.radius*cosElev*sinAzim,
		c.target[1] + c.radius*sinElev,
		c.target[2] + c.radius*cosElev*cosAzim,
	}

	view := common.LookAt(c.eye, c.target, c.up)
	projection := common.Perspective(c.fov, c.aspect, c.near, c.far)
	c.viewProjection = projection.Mul(view)
}
