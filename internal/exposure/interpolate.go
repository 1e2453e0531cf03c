package exposure

// Point is one control point of a piecewise-linear curve.
type Point struct {
	X, Y float64
}

// Interpolate evaluates the curve through points (sorted by X) at x. Values
// left or right of the curve clamp to the endpoint, control points return
// their Y exactly.
func Interpolate(x float64, points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	if x <= points[0].X {
		return points[0].Y
	}
	last := points[len(points)-1]
	if x >= last.X {
		return last.Y
	}

	for i := 1; i < len(points); i++ {
		p0, p1 := points[i-1], points[i]
		if x == p1.X {
			return p1.Y
		}
		if x < p1.X {
			return p0.Y + (p1.Y-p0.Y)*(x-p0.X)/(p1.X-p0.X)
		}
	}
	return last.Y
}
