// Package imu переводит сырые отсчёты гироскопа и акселерометра в
// величины с фиксированной точкой и калибрует нейтраль гироскопа.
package imu

import (
	"fmt"
	"sort"

	"github.com/shiwa/balancer/internal/fixed"
)

// Axis ось гироскопа.
type Axis int

const (
	AxisX Axis = iota // наклон (тангаж)
	AxisZ             // рыскание
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisZ:
		return "z"
	default:
		return "unknown"
	}
}

// Variant набор констант платы гироскопа.
type Variant struct {
	Name       string
	XNeutral   fixed.F16
	ZNeutral   fixed.F16
	DegsPerBit fixed.F16 // град/с на единицу АЦП
}

// Варианты плат. DefaultVariant откалиброван на стенде и используется по умолчанию.
var (
	DefaultVariant = Variant{Name: "default", XNeutral: 8056995, ZNeutral: 7818903, DegsPerBit: 92569}
	SimpleFilter   = Variant{Name: "simple-filter", XNeutral: 13986693, ZNeutral: 7818903, DegsPerBit: 137626}
	ComplexFilter  = Variant{Name: "complex-filter", XNeutral: 8056995, ZNeutral: 7818903, DegsPerBit: 60265}
)

// LookupVariant ищет вариант платы по имени. Пустое имя означает DefaultVariant.
func LookupVariant(name string) (Variant, error) {
	switch name {
	case "", DefaultVariant.Name:
		return DefaultVariant, nil
	case SimpleFilter.Name:
		return SimpleFilter, nil
	case ComplexFilter.Name:
		return ComplexFilter, nil
	default:
		return Variant{}, fmt.Errorf("unknown gyro variant %q", name)
	}
}

// Gyro переводит сырые отсчёты в град/с (16.16).
type Gyro struct {
	neutral    [2]fixed.F16
	degsPerBit fixed.F16
}

// NewGyro создаёт преобразователь с константами варианта v.
func NewGyro(v Variant) *Gyro {
	return &Gyro{
		neutral:    [2]fixed.F16{v.XNeutral, v.ZNeutral},
		degsPerBit: v.DegsPerBit,
	}
}

// Rate возвращает угловую скорость по оси в град/с.
func (g *Gyro) Rate(axis Axis, raw int32) fixed.F16 {
	return (fixed.FromInt(raw) - g.neutral[axis]).Mul(g.degsPerBit)
}

// Neutral возвращает нейтрали осей X и Z.
func (g *Gyro) Neutral() (x, z fixed.F16) { return g.neutral[AxisX], g.neutral[AxisZ] }

// SetNeutral задаёт нейтрали осей X и Z.
func (g *Gyro) SetNeutral(x, z fixed.F16) {
	g.neutral[AxisX] = x
	g.neutral[AxisZ] = z
}

// AccelConfig параметры акселерометра.
type AccelConfig struct {
	ZeroG   int32 // сырой отсчёт при 0g
	OneG    int32 // приращение сырого отсчёта на 1g
	Average int   // число отсчётов в усреднении
}

// DefaultAccel параметры акселерометра по умолчанию.
var DefaultAccel = AccelConfig{ZeroG: 20230, OneG: 5130, Average: 10}

// Accel усредняет сырые отсчёты блоками по Average и публикует среднее.
type Accel struct {
	cfg  AccelConfig
	sum  int64
	cnt  int
	last int32
}

// NewAccel создаёт усреднитель. До первого полного блока показание равно 0g.
func NewAccel(cfg AccelConfig) *Accel {
	if cfg.Average <= 0 {
		cfg.Average = 1
	}
	if cfg.OneG == 0 {
		cfg.OneG = DefaultAccel.OneG
	}
	return &Accel{cfg: cfg, last: cfg.ZeroG}
}

// Add добавляет отсчёт; возвращает true, если опубликовано новое среднее.
func (a *Accel) Add(raw int32) bool {
	a.sum += int64(raw)
	a.cnt++
	if a.cnt < a.cfg.Average {
		return false
	}
	n := int64(a.cfg.Average)
	a.last = int32((a.sum + n/2) / n)
	a.sum, a.cnt = 0, 0
	return true
}

// Raw возвращает последнее опубликованное среднее.
func (a *Accel) Raw() int32 { return a.last }

// Read возвращает ускорение в g (16.16); положительное значение означает наклон вперёд.
func (a *Accel) Read() fixed.F16 {
	return fixed.F16((int64(a.last-a.cfg.ZeroG) * 65536) / int64(a.cfg.OneG))
}

// Calibration накапливает отсчёты обеих осей для расчёта нейтрали.
type Calibration struct {
	want int
	trim int
	x, z []int32
}

// NewCalibration готовит сбор samples отсчётов с отбрасыванием trim
// наименьших и trim наибольших значений.
func NewCalibration(samples, trim int) (*Calibration, error) {
	if samples <= 0 || trim < 0 || samples <= 2*trim {
		return nil, fmt.Errorf("calibration: %d samples with trim %d leaves nothing to average", samples, trim)
	}
	return &Calibration{
		want: samples,
		trim: trim,
		x:    make([]int32, 0, samples),
		z:    make([]int32, 0, samples),
	}, nil
}

// Add добавляет пару отсчётов; возвращает true, когда набрано нужное число.
func (c *Calibration) Add(x, z int32) bool {
	if len(c.x) < c.want {
		c.x = append(c.x, x)
		c.z = append(c.z, z)
	}
	return c.Done()
}

// Done сообщает, набраны ли все отсчёты.
func (c *Calibration) Done() bool { return len(c.x) >= c.want }

// Count число собранных отсчётов.
func (c *Calibration) Count() int { return len(c.x) }

// Result возвращает нейтрали осей X и Z. Вызывать после Done.
func (c *Calibration) Result() (x, z fixed.F16) {
	return TrimmedNeutral(c.x, c.trim), TrimmedNeutral(c.z, c.trim)
}

// TrimmedNeutral сортирует отсчёты, отбрасывает trim крайних с каждой
// стороны и возвращает среднее оставшихся в 16.16. Дробная часть
// считается из остатка до умножения, чтобы сумма не переполняла 16.16.
func TrimmedNeutral(samples []int32, trim int) fixed.F16 {
	sorted := append([]int32(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if len(sorted) <= 2*trim {
		return 0
	}
	var sum int64
	for _, v := range sorted[trim : len(sorted)-trim] {
		sum += int64(v)
	}
	n := int64(len(sorted) - 2*trim)
	return fixed.F16((sum%n)*65536/n + (sum/n)*65536)
}
