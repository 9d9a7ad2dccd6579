// Package render implements the pure rendering-context deriver of
// spec.md §4.G: container size and a handful of layout knobs in,
// content area and axis geometry out. No hidden state, no I/O.
//
// Grounded on the stateless transform-function idiom in
// internal/clients/tradernet/transformers.go.
package render

// Size is a width/height pair in display pixels.
type Size struct {
	W, H float64
}

// Bounds clamps a fractional position to [Min, Max].
type Bounds struct {
	Min, Max float64
}

// Config is the set of layout knobs a display supplies (spec.md §6
// configuration surface).
type Config struct {
	HeaderHeight    float64
	ADRAxisPosition float64
	ADRAxisBounds   Bounds
}

// DefaultConfig mirrors the defaults named in spec.md §3/§4.G.
func DefaultConfig() Config {
	return Config{
		HeaderHeight:    40,
		ADRAxisPosition: 0.65,
		ADRAxisBounds:   Bounds{Min: 0.05, Max: 0.95},
	}
}

// Domain is a [low, high] interval, used both for the visual price
// range input and the pixel-space y_scale_domain output.
type Domain struct {
	Low, High float64
}

// YScale describes the linear mapping from a price domain to a pixel
// range: PriceLow maps to PixelLow, PriceHigh maps to PixelHigh.
// Price increases upward on screen, so PixelLow (visual_range.low) is
// the bottom of the content area and PixelHigh is 0 (spec.md §3
// "y_scale_domain").
type YScale struct {
	PriceLow, PriceHigh float64
	PixelLow, PixelHigh float64
}

// Context is the derived, stateless rendering context (spec.md §3
// "Rendering context").
type Context struct {
	ContainerSize Size
	ContentArea   Size
	ADRAxisX      float64
	YScaleDomain  YScale
}

// Derive computes a Context from container, cfg and the current
// visual price range. Idempotent and side-effect free: the same
// inputs always yield the same output (spec.md §8 "rendering_context
// is a pure function").
func Derive(container Size, cfg Config, visualRange Domain) Context {
	contentArea := Size{
		W: container.W,
		H: container.H - cfg.HeaderHeight,
	}
	if contentArea.H < 0 {
		contentArea.H = 0
	}
	if contentArea.W < 0 {
		contentArea.W = 0
	}

	position := clamp(cfg.ADRAxisPosition, cfg.ADRAxisBounds.Min, cfg.ADRAxisBounds.Max)
	adrAxisX := contentArea.W * position

	return Context{
		ContainerSize: container,
		ContentArea:   contentArea,
		ADRAxisX:      adrAxisX,
		YScaleDomain: YScale{
			PriceLow:  visualRange.Low,
			PriceHigh: visualRange.High,
			PixelLow:  contentArea.H,
			PixelHigh: 0,
		},
	}
}

// YForPrice maps price through a YScale to a pixel y-coordinate.
// Prices outside the domain extrapolate linearly rather than clamp —
// the renderer is expected to clip at the container edge itself.
func YForPrice(price float64, scale YScale) float64 {
	span := scale.PriceHigh - scale.PriceLow
	if span <= 0 {
		return scale.PixelLow
	}
	fraction := (price - scale.PriceLow) / span
	return scale.PixelLow + fraction*(scale.PixelHigh-scale.PixelLow)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
