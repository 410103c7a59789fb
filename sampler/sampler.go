// Package sampler draws the random effect parameters that make every
// variation of a job visually distinct.
package sampler

import (
	"encoding/json"
	"math/rand/v2"
	"sync"

	"variagen/logger"
	"variagen/models"
)

// effectLimits pairs an effect's default sampling range with the bounds any
// user-supplied range must stay inside.
type effectLimits struct {
	Default models.Range
	Bounds  models.Range
}

var effects = map[string]effectLimits{
	models.EffectBrightness: {Default: models.Range{Min: -0.1, Max: 0.1}, Bounds: models.Range{Min: -1, Max: 1}},
	models.EffectContrast:   {Default: models.Range{Min: 0.9, Max: 1.1}, Bounds: models.Range{Min: 0, Max: 4}},
	models.EffectSaturation: {Default: models.Range{Min: 0.8, Max: 1.2}, Bounds: models.Range{Min: 0, Max: 3}},
	models.EffectHue:        {Default: models.Range{Min: -10, Max: 10}, Bounds: models.Range{Min: -180, Max: 180}},
	models.EffectZoom:       {Default: models.Range{Min: 1.0, Max: 1.1}, Bounds: models.Range{Min: 1, Max: 2}},
	models.EffectTrimStart:  {Default: models.Range{Min: 0, Max: 0.5}, Bounds: models.Range{Min: 0, Max: 10}},
	models.EffectTrimEnd:    {Default: models.Range{Min: 0, Max: 0.3}, Bounds: models.Range{Min: 0, Max: 10}},
	models.EffectVolume:     {Default: models.Range{Min: 0.9, Max: 1.1}, Bounds: models.Range{Min: 0, Max: 4}},
}

// DefaultRange returns the built-in range for an effect.
func DefaultRange(effect string) (models.Range, bool) {
	s, ok := effects[effect]
	return s.Default, ok
}

// Bounds returns the widest range accepted for an effect.
func Bounds(effect string) (models.Range, bool) {
	s, ok := effects[effect]
	return s.Bounds, ok
}

// Defaults returns a fully populated config with every default range.
func Defaults() models.EffectConfig {
	return Resolve(models.EffectConfig{})
}

// Resolve returns a config where every effect has a usable range. Missing
// entries, and entries that are non-finite, inverted or outside the effect's
// bounds, are replaced by the default.
func Resolve(cfg models.EffectConfig) models.EffectConfig {
	var out models.EffectConfig
	for _, name := range models.EffectNames {
		r := sanitize(name, cfg.Get(name))
		out.Set(name, &r)
	}
	return out
}

func sanitize(effect string, r *models.Range) models.Range {
	s, known := effects[effect]
	if !known {
		if r != nil && r.Valid() {
			return *r
		}
		return models.Range{}
	}
	if r == nil {
		return s.Default
	}
	if !r.Valid() || !r.Within(s.Bounds) {
		logger.Warnf("effect %s: range [%v, %v] rejected, using default [%v, %v]",
			effect, r.Min, r.Max, s.Default.Min, s.Default.Max)
		return s.Default
	}
	return *r
}

// ParseConfig decodes a JSON object of effect name -> [min, max]. It never
// fails: unknown names are dropped and malformed entries are left unset so
// the default applies. The returned slice lists the names that were ignored.
func ParseConfig(raw []byte) (models.EffectConfig, []string) {
	var cfg models.EffectConfig
	if len(raw) == 0 {
		return cfg, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		logger.Warnf("effect config is not a JSON object, using defaults: %v", err)
		return cfg, []string{"*"}
	}

	var ignored []string
	for name, value := range entries {
		if _, known := effects[name]; !known {
			ignored = append(ignored, name)
			continue
		}
		var r models.Range
		if err := json.Unmarshal(value, &r); err != nil {
			ignored = append(ignored, name)
			continue
		}
		cfg.Set(name, &r)
	}
	return cfg, ignored
}

// Sampler draws uniform values. It is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a sampler seeded from the runtime's random source.
func New() *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded returns a reproducible sampler for tests.
func NewSeeded(seed uint64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Sample draws one value from the closed interval r for the named effect.
// An unusable range falls back to the effect's default.
func (s *Sampler) Sample(effect string, r models.Range) float64 {
	r = sanitize(effect, &r)
	if r.Min == r.Max {
		return r.Min
	}

	s.mu.Lock()
	f := s.rng.Float64()
	s.mu.Unlock()

	v := r.Min + f*(r.Max-r.Min)
	// guard against rounding past the upper edge
	if v > r.Max {
		v = r.Max
	}
	return v
}

// Variation samples every effect once.
func (s *Sampler) Variation(cfg models.EffectConfig) models.VariationParams {
	resolved := Resolve(cfg)
	var p models.VariationParams
	for _, name := range models.EffectNames {
		p.SetValue(name, s.Sample(name, *resolved.Get(name)))
	}
	return p
}
