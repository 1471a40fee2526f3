// Package safety ограничивает желаемый наклон и следит за аварийным
// состоянием платформы.
package safety

import (
	"fmt"

	"github.com/shiwa/balancer/internal/fixed"
)

// Envelope допустимый диапазон желаемого наклона и его изменение за один
// запуск регулятора позиции (градусы 24.8).
type Envelope struct {
	Min      fixed.F24
	Max      fixed.F24
	MaxDelta fixed.F24
}

// DefaultEnvelope ±5 градусов, не больше градуса за запуск.
func DefaultEnvelope() Envelope {
	return Envelope{Min: fixed.FromInt24(-5), Max: fixed.FromInt24(5), MaxDelta: fixed.One24}
}

// Window возвращает окно для нового желаемого наклона при предыдущем prev.
func (e Envelope) Window(prev fixed.F24) (lo, hi fixed.F24) {
	lo = max(e.Min, prev-e.MaxDelta)
	hi = min(e.Max, prev+e.MaxDelta)
	return lo, hi
}

// Validate проверяет, что окно не пустое.
func (e Envelope) Validate() error {
	if e.Min >= e.Max {
		return fmt.Errorf("tilt envelope: min %v must be below max %v", e.Min, e.Max)
	}
	if e.MaxDelta <= 0 {
		return fmt.Errorf("tilt envelope: max delta %v must be positive", e.MaxDelta)
	}
	return nil
}

// Policy стратегия выхода из аварийного режима.
type Policy int

const (
	// Latch снимает аварию только повторным включением баланса.
	Latch Policy = iota
	// Auto снимает аварию после ClearTicks безопасных тиков подряд.
	Auto
)

func (p Policy) String() string {
	switch p {
	case Latch:
		return "latch"
	case Auto:
		return "auto"
	default:
		return "unknown"
	}
}

// ParsePolicy разбирает имя стратегии. Пустая строка означает Latch.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "latch":
		return Latch, nil
	case "auto":
		return Auto, nil
	default:
		return 0, fmt.Errorf("unknown recovery policy %q", s)
	}
}

// Config пороги аварийного детектора.
type Config struct {
	MaxTilt     fixed.F24 // наклон, выше которого тик считается опасным
	MaxPosErr   int32     // ошибка позиции в шагах, выше которой тик опасен
	TripTicks   int       // опасных тиков подряд до аварии
	Policy      Policy
	ClearTilt   fixed.F24 // наклон, ниже которого тик безопасен (Auto)
	ClearPosErr int32     // ошибка позиции, ниже которой тик безопасен (Auto)
	ClearTicks  int       // безопасных тиков подряд до снятия аварии (Auto)
}

// DefaultConfig пороги по умолчанию для 250 Гц: 20 градусов или 6 дюймов
// (61 шаг на дюйм) в течение 0.1 с.
func DefaultConfig() Config {
	return Config{
		MaxTilt:     fixed.FromInt24(20),
		MaxPosErr:   6 * 61,
		TripTicks:   25,
		Policy:      Latch,
		ClearTilt:   fixed.One24 / 2,
		ClearPosErr: 100,
		ClearTicks:  125,
	}
}

// Sample измерения одного тика управления.
type Sample struct {
	Tilt   fixed.F24
	PosErr int32
}

// Event изменение аварийного состояния.
type Event int

const (
	None Event = iota
	Entered
	Cleared
)

func (e Event) String() string {
	switch e {
	case None:
		return "none"
	case Entered:
		return "entered"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Monitor аварийный детектор. Не потокобезопасен.
type Monitor struct {
	cfg       Config
	emergency bool
	unsafe    int
	safe      int
}

// NewMonitor создаёт детектор.
func NewMonitor(cfg Config) *Monitor {
	if cfg.TripTicks <= 0 {
		cfg.TripTicks = 1
	}
	if cfg.ClearTicks <= 0 {
		cfg.ClearTicks = 1
	}
	return &Monitor{cfg: cfg}
}

// Observe учитывает измерения тика и сообщает о смене состояния.
func (m *Monitor) Observe(s Sample) Event {
	if !m.emergency {
		if fixed.Abs(s.Tilt) > m.cfg.MaxTilt || fixed.Abs(s.PosErr) > m.cfg.MaxPosErr {
			m.unsafe++
		} else {
			m.unsafe = 0
		}
		if m.unsafe < m.cfg.TripTicks {
			return None
		}
		m.emergency = true
		m.unsafe, m.safe = 0, 0
		return Entered
	}

	if m.cfg.Policy != Auto {
		return None
	}
	if fixed.Abs(s.Tilt) < m.cfg.ClearTilt && fixed.Abs(s.PosErr) < m.cfg.ClearPosErr {
		m.safe++
	} else {
		m.safe = 0
	}
	if m.safe < m.cfg.ClearTicks {
		return None
	}
	m.emergency = false
	m.safe = 0
	return Cleared
}

// Emergency сообщает, действует ли аварийный режим.
func (m *Monitor) Emergency() bool { return m.emergency }

// Reset снимает аварию и обнуляет счётчики.
func (m *Monitor) Reset() {
	m.emergency = false
	m.unsafe, m.safe = 0, 0
}
