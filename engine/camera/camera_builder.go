package camera

// CameraBuilderOption is a functional option for configuring a camera.
type CameraBuilderOption func(*cameraImpl)

// WithFov sets the vertical field of view in radians.
func WithFov(fov float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		if fov > 0 {
			c.fov = fov
		}
	}
}

// WithAspect sets the initial aspect ratio (width / height).
func WithAspect(aspect float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		if aspect > 0 {
			c.aspect = aspect
		}
	}
}

// WithClipPlanes sets the near and far clipping distances.
//
// Parameters:
//   - near: near plane distance, greater than zero
//   - far: far plane distance, greater than near
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithClipPlanes(near, far float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		if near > 0 && far > near {
			c.near, c.far = near, far
		}
	}
}

// WithTarget sets the orbit centre.
func WithTarget(x, y, z float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.target = [3]float32{x, y, z}
	}
}

// WithOrbit sets the initial spherical position of the eye around the target.
//
// Parameters:
//   - radius: distance from the target
//   - azimuth: horizontal angle in radians around the Y axis
//   - elevation: vertical angle in radians above the horizontal plane
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithOrbit(radius, azimuth, elevation float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.radius, c.azimuth, c.elevation = radius, azimuth, elevation
	}
}

// WithRadiusBounds sets the zoom limits.
func WithRadiusBounds(minRadius, maxRadius float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.minRadius, c.maxRadius = minRadius, maxRadius
	}
}

// WithSpeeds sets the angle of one orbit step in radians and the distance of one zoom step.
func WithSpeeds(orbit, zoom float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.orbitSpeed, c.zoomSpeed = orbit, zoom
	}
}
