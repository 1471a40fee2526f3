// Package motion строит профиль скорости для команд движения: разгон и
// торможение с заданным ускорением, точку начала торможения перед
// заданной позицией и накопление желаемой позиции с дробным остатком.
//
// Скорость и ускорение задаются в шагах энкодера за тик в формате 24.8.
package motion

import (
	"math"

	"github.com/shiwa/balancer/internal/fixed"
)

// Command команда движения.
type Command struct {
	Accel    fixed.F24 // ускорение; знак игнорируется
	Velocity fixed.F24 // целевая скорость
	Steps    int32     // 0 означает движение без точки остановки
	Tick     uint32    // тик активации
}

// StopState состояние точки остановки.
type StopState int

const (
	StopNone      StopState = iota // точка остановки не задана
	StopArmed                      // задана, торможение ещё не начато
	StopCommitted                  // торможение начато и не отменяется
)

func (s StopState) String() string {
	switch s {
	case StopNone:
		return "none"
	case StopArmed:
		return "armed"
	case StopCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Profiler состояние профиля. Не потокобезопасен.
type Profiler struct {
	pending    Command
	hasPending bool

	accel  fixed.F24
	vel    fixed.F24
	target fixed.F24
	pos    int32
	frac   int32
	stopAt int32
	stop   StopState
}

// Submit ставит команду в ожидание, заменяя неактивированную.
// Заданная ранее точка остановки сбрасывается.
func (p *Profiler) Submit(cmd Command) {
	p.pending = cmd
	p.hasPending = true
	p.stop = StopNone
}

// Step выполняет один тик профиля.
func (p *Profiler) Step(tick uint32) {
	if p.hasPending && tick >= p.pending.Tick {
		p.activate()
	}

	if p.stop == StopArmed {
		d := StopDistance(p.accel, p.vel)
		if d >= fixed.Abs(p.pos-p.stopAt) {
			p.target = 0
			p.stop = StopCommitted
		}
	}

	if p.vel < p.target {
		p.vel += p.accel
		if p.vel > p.target {
			p.vel = p.target
		}
	} else if p.vel > p.target {
		p.vel -= p.accel
		if p.vel < p.target {
			p.vel = p.target
		}
	}

	if p.vel == 0 && p.stop == StopCommitted {
		p.stop = StopNone
		return
	}
	p.frac += int32(p.vel)
	p.pos += p.frac / 256
	p.frac %= 256
}

func (p *Profiler) activate() {
	cmd := p.pending
	p.hasPending = false
	p.accel = fixed.Abs(cmd.Accel)
	p.target = cmd.Velocity
	if cmd.Steps != 0 {
		p.stop = StopArmed
		if p.target < 0 {
			p.stopAt = p.pos - cmd.Steps
		} else {
			p.stopAt = p.pos + cmd.Steps
		}
	}
}

// Halt отбрасывает ожидающую команду и точку остановки и задаёт целевую
// скорость 0; скорость снижается с текущим ускорением.
func (p *Profiler) Halt() {
	p.hasPending = false
	p.stop = StopNone
	p.target = 0
}

// ResetPosition обнуляет желаемую позицию и дробный остаток.
func (p *Profiler) ResetPosition() {
	p.pos = 0
	p.frac = 0
}

// Position желаемая позиция в шагах.
func (p *Profiler) Position() int32 { return p.pos }

// Velocity текущая скорость.
func (p *Profiler) Velocity() fixed.F24 { return p.vel }

// Accel текущее ускорение.
func (p *Profiler) Accel() fixed.F24 { return p.accel }

// Target целевая скорость.
func (p *Profiler) Target() fixed.F24 { return p.target }

// Pending сообщает, есть ли неактивированная команда.
func (p *Profiler) Pending() bool { return p.hasPending }

// Stop состояние точки остановки и сама точка.
func (p *Profiler) Stop() (StopState, int32) { return p.stop, p.stopAt }

// SumToN возвращает 1 + 2 + ... + n.
func SumToN(n int32) int64 {
	m := int64(n)
	s := (m + 1) * (m / 2)
	if m%2 != 0 {
		s += (m + 1) / 2
	}
	return s
}

// StopDistance путь в шагах, проходимый при линейном торможении от
// скорости v до нуля с ускорением a. При нулевом ускорении и ненулевой
// скорости остановиться нельзя, возвращается максимальный путь. Путь
// больше math.MaxInt32 насыщается.
func StopDistance(a, v fixed.F24) int32 {
	if a == 0 {
		if v == 0 {
			return 0
		}
		return math.MaxInt32
	}
	av, aa := int32(fixed.Abs(v)), int32(a)
	t := (av - aa + aa/2) / aa
	d := (SumToN(t)*int64(aa) + 128) / 256
	if d > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(d)
}
