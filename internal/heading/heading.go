// Package heading ведёт курс платформы: интегрирует разность хода колёс,
// плавно подводит желаемый курс к заданному и подмешивает внешние
// наблюдения угла относительно стены.
//
// Углы хранятся в градусах 16.16 в диапазоне [0, 360); положительное
// направление против часовой стрелки (правое колесо прошло больше левого).
package heading

import (
	"github.com/shiwa/balancer/internal/fixed"
	"github.com/shiwa/balancer/internal/trig"
)

const (
	// Full полный оборот, 16.16.
	Full fixed.F16 = 360 << 16
	// Half пол-оборота, 16.16.
	Half fixed.F16 = 180 << 16

	// OutOfRange значение дальномера или угла стены, когда измерения нет.
	OutOfRange = -1
)

// Normalize приводит угол к [0, 360).
func Normalize(a fixed.F16) fixed.F16 {
	a %= Full
	if a < 0 {
		a += Full
	}
	return a
}

// Diff возвращает a-b в диапазоне (-180, 180], то есть поворот по
// кратчайшему направлению от b к a.
func Diff(a, b fixed.F16) fixed.F16 {
	d := Normalize(a - b)
	if d > Half {
		d -= Full
	}
	return d
}

// AbsDiff модуль кратчайшей разности курсов.
func AbsDiff(a, b fixed.F16) fixed.F16 { return fixed.Abs(Diff(a, b)) }

// AbsDiffDeg модуль кратчайшей разности для целых градусов.
func AbsDiffDeg(a, b int) int {
	d := trig.Normalize(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// MidDeg середина кратчайшей дуги между двумя углами в целых градусах.
func MidDeg(a, b int) int {
	lower := a
	if trig.Normalize(a-b) < trig.Normalize(b-a) {
		lower = b
	}
	return trig.Normalize(lower + AbsDiffDeg(a, b)/2)
}

// WallAngle считает угол платформы относительно стены по двум парам
// дальномеров (передний и задний с каждой стороны), разнесённым на sep.
// Показание <= 0 считается отсутствующим. Если видны обе стены и оценки
// расходятся не больше чем на 10 градусов, берётся их середина, иначе
// оценка по более близкой стене. Возвращает угол в [0, 360) или OutOfRange.
func WallAngle(lf, lr, rf, rr, sep int32) int {
	al, ar := OutOfRange, OutOfRange
	if lf > 0 && lr > 0 {
		al = trig.Atan2(int64(lr-lf), int64(sep))
	}
	if rf > 0 && rr > 0 {
		ar = trig.Atan2(int64(rf-rr), int64(sep))
	}
	switch {
	case al >= 0 && ar >= 0:
		if AbsDiffDeg(al, ar) <= 10 {
			return MidDeg(al, ar)
		}
		if (lf+lr+1)/2 < (rf+rr+1)/2 {
			return al
		}
		return ar
	case al >= 0:
		return al
	case ar >= 0:
		return ar
	default:
		return OutOfRange
	}
}

// Verdict итог обработки внешнего наблюдения курса.
type Verdict int

const (
	Accepted  Verdict = iota // наблюдение подмешано в курс
	OutOfBand                // угол вне полосы около 0 градусов
	TooSoon                  // с прошлого принятого наблюдения прошло мало тиков
	TooFar                   // наблюдение слишком далеко от текущего курса
	Emergency                // аварийный режим
	NoReading                // стена не видна
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case OutOfBand:
		return "out-of-band"
	case TooSoon:
		return "too-soon"
	case TooFar:
		return "too-far"
	case Emergency:
		return "emergency"
	case NoReading:
		return "no-reading"
	default:
		return "unknown"
	}
}

// Config параметры курса.
type Config struct {
	WheelBase     int32     // база колёс в шагах энкодера
	RateHz        int       // частота тиков управления
	Rate          fixed.F24 // скорость поворота по умолчанию, град/с
	UpdateTicks   uint32    // минимальный интервал между наблюдениями
	UpdatePercent int32     // доля разности, подмешиваемая за наблюдение
	Band          int       // принимаются углы < Band и > 360-Band
	MaxDiff       int       // допустимое расхождение с курсом, градусы
}

// DefaultConfig значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		WheelBase:     410,
		RateHz:        250,
		Rate:          fixed.FromInt24(15),
		UpdateTicks:   62,
		UpdatePercent: 10,
		Band:          30,
		MaxDiff:       10,
	}
}

// Tracker состояние курса. Не потокобезопасен.
type Tracker struct {
	cfg Config

	heading fixed.F16
	desired fixed.F16
	dest    fixed.F16
	step    fixed.F16

	lastUpdate uint32
}

// New создаёт трекер с нулевым курсом.
func New(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.WheelBase <= 0 {
		cfg.WheelBase = def.WheelBase
	}
	if cfg.RateHz <= 0 {
		cfg.RateHz = def.RateHz
	}
	t := &Tracker{cfg: cfg}
	t.step = t.stepFor(cfg.Rate)
	return t
}

func (t *Tracker) stepFor(rate fixed.F24) fixed.F16 {
	return fixed.F16(int32(rate) * 256 / int32(t.cfg.RateHz))
}

// Integrate добавляет к курсу поворот по приращениям энкодеров за тик.
func (t *Tracker) Integrate(left, right int32) {
	rad := int32(int64(right-left) * 65536 / int64(t.cfg.WheelBase))
	t.heading = Normalize(t.heading + fixed.F16(rad*180).Div(fixed.PI))
}

// StepRamp сдвигает желаемый курс к заданному не больше чем на шаг за тик.
func (t *Tracker) StepRamp() {
	d := Diff(t.dest, t.desired)
	if fixed.Abs(d) <= t.step {
		t.desired = t.dest
		return
	}
	if d > 0 {
		t.desired = Normalize(t.desired + t.step)
	} else {
		t.desired = Normalize(t.desired - t.step)
	}
}

// Error ошибка курса для регулятора: желаемый минус текущий, (-180, 180].
func (t *Tracker) Error() fixed.F16 { return Diff(t.desired, t.heading) }

// SetTarget задаёт курс назначения dest и скорость поворота rate
// (градусы и град/с в 24.8). Назначение берётся по модулю 360.
func (t *Tracker) SetTarget(dest, rate fixed.F24) {
	t.step = t.stepFor(rate)
	t.dest = Normalize(dest.ToF16())
}

// Observe обрабатывает угол относительно стены angle (целые градусы)
// на тике tick. Принятое наблюдение сдвигает курс на UpdatePercent
// процентов разности по кратчайшему направлению.
func (t *Tracker) Observe(angle int, tick uint32) Verdict {
	if angle < 0 || angle >= 360 {
		return NoReading
	}
	if angle > t.cfg.Band && angle < 360-t.cfg.Band {
		return OutOfBand
	}
	if tick-t.lastUpdate < t.cfg.UpdateTicks {
		return TooSoon
	}
	cur := int((t.heading + 32768) >> 16)
	obs := trig.Normalize(angle + quadrantOffset(cur))
	if AbsDiffDeg(cur, obs) > t.cfg.MaxDiff {
		return TooFar
	}
	d := Diff(fixed.FromInt(int32(obs)), t.heading)
	t.heading = Normalize(t.heading + d*fixed.F16(t.cfg.UpdatePercent)/100)
	t.lastUpdate = tick
	return Accepted
}

// quadrantOffset относит курс к четверти, сдвинутой на 45 градусов.
func quadrantOffset(deg int) int {
	switch {
	case deg <= 45:
		return 0
	case deg <= 135:
		return 90
	case deg <= 225:
		return 180
	case deg <= 315:
		return 270
	default:
		return 0
	}
}

// Settled сообщает, что поворот завершён: желаемый курс дошёл до
// назначения и текущий отличается от него меньше чем на 3 градуса.
func (t *Tracker) Settled() bool {
	return t.desired == t.dest && AbsDiff(t.desired, t.heading) < 3<<16
}

// Hold останавливает поворот на текущем курсе.
func (t *Tracker) Hold() {
	t.desired = t.heading
	t.dest = t.heading
}

// Reset обнуляет текущий, желаемый курс и назначение.
func (t *Tracker) Reset() {
	t.heading, t.desired, t.dest = 0, 0, 0
}

// Heading текущий курс.
func (t *Tracker) Heading() fixed.F16 { return t.heading }

// Desired желаемый курс.
func (t *Tracker) Desired() fixed.F16 { return t.desired }

// Dest курс назначения.
func (t *Tracker) Dest() fixed.F16 { return t.dest }

// Step шаг желаемого курса за тик.
func (t *Tracker) Step() fixed.F16 { return t.step }
