// Package tilt оценивает наклон платформы скалярным фильтром Калмана:
// угловая скорость гироскопа интегрируется на каждом тике, угол по
// акселерометру подмешивается с пониженной частотой.
package tilt

import (
	"fmt"
	"math"

	"github.com/shiwa/balancer/internal/fixed"
	"github.com/shiwa/balancer/internal/trig"
)

// Config параметры фильтра.
type Config struct {
	RateHz int       // частота шага предсказания
	Q      fixed.F16 // шум процесса
	R      fixed.F16 // шум измерения
	P0     fixed.F16 // начальная ковариация
	Asin   AsinFunc  // угол по ускорению; nil означает FloatAsin
}

// DefaultConfig значения для частоты 250 Гц.
func DefaultConfig() Config {
	return Config{RateHz: 250, Q: 655, R: 6554, P0: 6553600}
}

// AsinFunc переводит ускорение в g (в пределах [-1, 1]) в угол в градусах.
type AsinFunc func(g fixed.F16) fixed.F16

// FloatAsin считает арксинус в плавающей точке.
func FloatAsin(g fixed.F16) fixed.F16 {
	return fixed.FromFloat(math.Asin(g.Float()) * 180 / math.Pi)
}

// TableAsin считает арксинус по таблице с точностью до градуса.
func TableAsin(g fixed.F16) fixed.F16 {
	deg := trig.Asin(int32(g) >> 2)
	if deg > 180 {
		deg -= 360
	}
	return fixed.FromInt(int32(deg))
}

// LookupAsin возвращает стратегию арксинуса по имени: "float" или "table".
func LookupAsin(name string) (AsinFunc, error) {
	switch name {
	case "", "float":
		return FloatAsin, nil
	case "table":
		return TableAsin, nil
	default:
		return nil, fmt.Errorf("unknown asin strategy %q", name)
	}
}

// Estimator состояние фильтра. Не потокобезопасен: владелец сериализует доступ.
type Estimator struct {
	cfg      Config
	dt       fixed.F16
	theta    fixed.F16
	gyroOnly fixed.F16
	p        fixed.F16
	thetaM   fixed.F16
}

// New создаёт фильтр с нулевым углом и ковариацией P0.
func New(cfg Config) *Estimator {
	if cfg.RateHz <= 0 {
		cfg.RateHz = 250
	}
	if cfg.Asin == nil {
		cfg.Asin = FloatAsin
	}
	hz := int32(cfg.RateHz)
	return &Estimator{
		cfg: cfg,
		dt:  fixed.F16((65536 + hz/2) / hz),
		p:   cfg.P0,
	}
}

// Predict интегрирует угловую скорость (град/с) за один тик и наращивает ковариацию.
func (e *Estimator) Predict(rate fixed.F16) fixed.F16 {
	e.p += e.cfg.Q.Mul(e.dt)
	step := rate.Mul(e.dt)
	e.theta += step
	e.gyroOnly += step
	return e.theta
}

// Correct подмешивает измеренный угол thetaM (градусы).
func (e *Estimator) Correct(thetaM fixed.F16) fixed.F16 {
	innov := e.p + e.cfg.R
	k := e.p.Div(innov)
	e.theta += k.Mul(thetaM - e.theta)
	rest := fixed.One - k
	e.p = e.p.Mul(rest.Mul(rest)) + e.cfg.R.Mul(k.Mul(k))
	return e.theta
}

// Step выполняет один тик: предсказание и, если correct, коррекцию по
// ускорению accel (g). Ускорение ограничивается диапазоном [-1, 1].
func (e *Estimator) Step(rate, accel fixed.F16, correct bool) fixed.F16 {
	var thetaM fixed.F16
	if correct {
		thetaM = e.cfg.Asin(fixed.Clamp(accel, -fixed.One, fixed.One))
		e.thetaM = thetaM
	}
	e.Predict(rate)
	if !correct {
		return e.theta
	}
	return e.Correct(thetaM)
}

// Theta текущая оценка наклона, градусы; положительная означает наклон вперёд.
func (e *Estimator) Theta() fixed.F16 { return e.theta }

// GyroOnly наклон по одному гироскопу без коррекции.
func (e *Estimator) GyroOnly() fixed.F16 { return e.gyroOnly }

// ThetaM последний угол по акселерометру.
func (e *Estimator) ThetaM() fixed.F16 { return e.thetaM }

// P текущая ковариация.
func (e *Estimator) P() fixed.F16 { return e.p }

// DT шаг интегрирования в секундах (16.16).
func (e *Estimator) DT() fixed.F16 { return e.dt }

// Reset возвращает фильтр в начальное состояние.
func (e *Estimator) Reset() {
	e.theta, e.gyroOnly, e.thetaM = 0, 0, 0
	e.p = e.cfg.P0
}
