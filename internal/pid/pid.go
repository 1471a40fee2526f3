// Package pid содержит ПИД-регулятор с фиксированной точкой для трёх
// контуров: позиция в желаемый наклон, наклон в тягу, курс в поворот.
//
// Интеграл ошибки накапливается только на тиках, где выход не упёрся в
// ограничение; предыдущая ошибка обновляется всегда.
package pid

import "github.com/shiwa/balancer/internal/fixed"

// Number формат с фиксированной точкой и собственным умножением.
type Number[T any] interface {
	~int32
	Mul(T) T
}

// Gains коэффициенты регулятора.
type Gains[T Number[T]] struct {
	Kp, Kd, Ki T
}

// Controller ПИД-регулятор.
type Controller[T Number[T]] struct {
	Gains Gains[T]
	// Shift сдвиг суммы вправо перед ограничением (для Update).
	Shift uint
	// Limit ограничение выхода Update по модулю.
	Limit int32

	prevErr T
	integ   T
}

// Position регулятор позиции: ошибка в шагах, выход желаемый наклон 24.8.
func Position(g Gains[fixed.F24]) *Controller[fixed.F24] {
	return &Controller[fixed.F24]{Gains: g}
}

// Balance регулятор баланса: ошибка наклона 24.8, выход тяга в [-127, 127].
func Balance(g Gains[fixed.F24]) *Controller[fixed.F24] {
	return &Controller[fixed.F24]{Gains: g, Shift: 8, Limit: 127}
}

// Heading регулятор курса: ошибка 16.16 градусов, выход поворот в [-43, 43],
// то есть не больше трети диапазона ШИМ.
func Heading(g Gains[fixed.F16]) *Controller[fixed.F16] {
	return &Controller[fixed.F16]{Gains: g, Shift: 16, Limit: 43}
}

func (c *Controller[T]) sum(err T) T {
	g := c.Gains
	return g.Kp.Mul(err) + g.Kd.Mul(err-c.prevErr) + g.Ki.Mul(c.integ)
}

// Update считает выход по ошибке err: сумма сдвигается на Shift и
// ограничивается ±Limit. saturated означает, что выход упёрся в предел
// и интеграл на этом тике не накапливался.
func (c *Controller[T]) Update(err T) (out int32, saturated bool) {
	out = int32(c.sum(err)) >> c.Shift
	c.prevErr = err
	switch {
	case out >= c.Limit:
		out, saturated = c.Limit, true
	case out <= -c.Limit:
		out, saturated = -c.Limit, true
	default:
		c.integ += err
	}
	return out, saturated
}

// UpdateWindow считает выход без сдвига и ограничивает его окном [lo, hi].
func (c *Controller[T]) UpdateWindow(err, lo, hi T) (out T, saturated bool) {
	out = c.sum(err)
	switch {
	case out < lo:
		out, saturated = lo, true
	case out > hi:
		out, saturated = hi, true
	default:
		c.integ += err
	}
	c.prevErr = err
	return out, saturated
}

// State возвращает предыдущую ошибку и накопленный интеграл.
func (c *Controller[T]) State() (prevErr, integ T) { return c.prevErr, c.integ }

// Reset обнуляет предыдущую ошибку и интеграл.
func (c *Controller[T]) Reset() {
	var zero T
	c.prevErr = zero
	c.integ = zero
}
