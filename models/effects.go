package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// Effect names accepted in a submission's effect configuration.
const (
	EffectBrightness = "brightness"
	EffectContrast   = "contrast"
	EffectSaturation = "saturation"
	EffectHue        = "hue"
	EffectZoom       = "zoom"
	EffectTrimStart  = "trim_start"
	EffectTrimEnd    = "trim_end"
	EffectVolume     = "volume"
)

// EffectNames lists every effect in the order ffmpeg filters are applied.
var EffectNames = []string{
	EffectBrightness,
	EffectContrast,
	EffectSaturation,
	EffectHue,
	EffectZoom,
	EffectTrimStart,
	EffectTrimEnd,
	EffectVolume,
}

// Range is a closed [Min, Max] interval. On the wire it is a two element
// array, e.g. [-0.1, 0.1].
type Range struct {
	Min float64
	Max float64
}

// Valid reports whether the range is finite and ordered.
func (r Range) Valid() bool {
	for _, v := range []float64{r.Min, r.Max} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.Min <= r.Max
}

// Within reports whether r lies entirely inside bounds.
func (r Range) Within(bounds Range) bool {
	return r.Min >= bounds.Min && r.Max <= bounds.Max
}

// Contains reports whether v lies in the closed interval.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{r.Min, r.Max})
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("range must be a [min, max] array: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("range must have exactly 2 elements, got %d", len(pair))
	}
	r.Min, r.Max = pair[0], pair[1]
	return nil
}

// EffectConfig holds the per-job sampling ranges. A nil field means "use the
// default range" and is resolved by the sampler.
type EffectConfig struct {
	Brightness *Range `json:"brightness,omitempty"`
	Contrast   *Range `json:"contrast,omitempty"`
	Saturation *Range `json:"saturation,omitempty"`
	Hue        *Range `json:"hue,omitempty"`
	Zoom       *Range `json:"zoom,omitempty"`
	TrimStart  *Range `json:"trim_start,omitempty"`
	TrimEnd    *Range `json:"trim_end,omitempty"`
	Volume     *Range `json:"volume,omitempty"`
}

// Get returns the configured range for an effect name.
func (c EffectConfig) Get(name string) *Range {
	switch name {
	case EffectBrightness:
		return c.Brightness
	case EffectContrast:
		return c.Contrast
	case EffectSaturation:
		return c.Saturation
	case EffectHue:
		return c.Hue
	case EffectZoom:
		return c.Zoom
	case EffectTrimStart:
		return c.TrimStart
	case EffectTrimEnd:
		return c.TrimEnd
	case EffectVolume:
		return c.Volume
	}
	return nil
}

// Set stores a range under an effect name. Unknown names report false.
func (c *EffectConfig) Set(name string, r *Range) bool {
	switch name {
	case EffectBrightness:
		c.Brightness = r
	case EffectContrast:
		c.Contrast = r
	case EffectSaturation:
		c.Saturation = r
	case EffectHue:
		c.Hue = r
	case EffectZoom:
		c.Zoom = r
	case EffectTrimStart:
		c.TrimStart = r
	case EffectTrimEnd:
		c.TrimEnd = r
	case EffectVolume:
		c.Volume = r
	default:
		return false
	}
	return true
}

// VariationParams are the concrete values sampled for one variation.
type VariationParams struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Saturation float64 `json:"saturation"`
	Hue        float64 `json:"hue"`
	Zoom       float64 `json:"zoom"`
	TrimStart  float64 `json:"trim_start"`
	TrimEnd    float64 `json:"trim_end"`
	Volume     float64 `json:"volume"`
}

// Value returns the sampled value for an effect name.
func (p VariationParams) Value(name string) float64 {
	switch name {
	case EffectBrightness:
		return p.Brightness
	case EffectContrast:
		return p.Contrast
	case EffectSaturation:
		return p.Saturation
	case EffectHue:
		return p.Hue
	case EffectZoom:
		return p.Zoom
	case EffectTrimStart:
		return p.TrimStart
	case EffectTrimEnd:
		return p.TrimEnd
	case EffectVolume:
		return p.Volume
	}
	return 0
}

// SetValue stores a sampled value under an effect name.
func (p *VariationParams) SetValue(name string, v float64) {
	switch name {
	case EffectBrightness:
		p.Brightness = v
	case EffectContrast:
		p.Contrast = v
	case EffectSaturation:
		p.Saturation = v
	case EffectHue:
		p.Hue = v
	case EffectZoom:
		p.Zoom = v
	case EffectTrimStart:
		p.TrimStart = v
	case EffectTrimEnd:
		p.TrimEnd = v
	case EffectVolume:
		p.Volume = v
	}
}
