package util

import (
	"github.com/aquilax/go-perlin"
)

// NoiseField генератор шума Перлина с фиксированным сидом
type NoiseField struct {
	p *perlin.Perlin
}

// NewNoiseField создаёт генератор шума Перлина с указанным сидом
func NewNoiseField(seed int64) *NoiseField {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &NoiseField{p: perlin.NewPerlin(alpha, beta, n, seed)}
}

// At возвращает значение шума для указанных координат (от 0 до 1)
func (nf *NoiseField) At(x, y float64) float64 {
	// Значение шума лежит примерно в [-1, 1]
	v := (nf.p.Noise2D(x, y) + 1.0) / 2.0
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
