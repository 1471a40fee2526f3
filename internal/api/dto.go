package api

import (
	"fmt"

	"github.com/shiwa/balancer/internal/control"
	"github.com/shiwa/balancer/internal/fixed"
	"github.com/shiwa/balancer/internal/pid"
)

// Status снимок состояния в единицах оператора: шаги, градусы, шаги/тик.
type Status struct {
	Tick           uint32  `json:"tick"`
	Balancing      bool    `json:"balancing"`
	Emergency      bool    `json:"emergency"`
	Stopped        bool    `json:"stopped"`
	HeadingStopped bool    `json:"heading_stopped"`
	Position       int32   `json:"position"`
	Current        int32   `json:"current"`
	Left           int32   `json:"left"`
	Right          int32   `json:"right"`
	Velocity       float64 `json:"velocity"`
	Accel          float64 `json:"accel"`
	Target         float64 `json:"target"`
	Tilt           float64 `json:"tilt"`
	DesiredTilt    float64 `json:"desired_tilt"`
	Heading        float64 `json:"heading"`
	DesiredHeading float64 `json:"desired_heading"`
	Dest           float64 `json:"dest"`
	Drive          int32   `json:"drive"`
	Steer          int32   `json:"steer"`
	PWMLeft        int32   `json:"pwm_left"`
	PWMRight       int32   `json:"pwm_right"`
	MotorMisses    uint64  `json:"motor_misses"`
	SensorMisses   uint64  `json:"sensor_misses"`
	EncoderErrors  uint64  `json:"encoder_errors"`
	IMUErrors      uint64  `json:"imu_errors"`
}

// NewStatus собирает снимок из контекста управления.
func NewStatus(ctl *control.Context) Status {
	st := ctl.Status()
	return Status{
		Tick:           st.Tick,
		Balancing:      st.Balancing,
		Emergency:      st.Emergency,
		Stopped:        st.Stopped,
		HeadingStopped: st.HeadingStopped,
		Position:       st.Position,
		Current:        st.Current,
		Left:           st.Left,
		Right:          st.Right,
		Velocity:       st.Velocity.Float(),
		Accel:          st.Accel.Float(),
		Target:         st.Target.Float(),
		Tilt:           st.Tilt.Float(),
		DesiredTilt:    st.DesiredTilt.Float(),
		Heading:        st.Heading.Float(),
		DesiredHeading: st.DesiredHeading.Float(),
		Dest:           st.Dest.Float(),
		Drive:          st.Drive,
		Steer:          st.Steer,
		PWMLeft:        st.PWMLeft,
		PWMRight:       st.PWMRight,
		MotorMisses:    st.MotorMisses,
		SensorMisses:   st.SensorMisses,
		EncoderErrors:  st.EncoderErrors,
		IMUErrors:      st.IMUErrors,
	}
}

// BalanceRequest включение баланса.
type BalanceRequest struct {
	On bool `json:"on"`
}

// Apply выполняет команду.
func (r BalanceRequest) Apply(ctl *control.Context) error {
	ctl.SetBalance(r.On)
	return nil
}

// MoveRequest перемещение на Steps шагов; Steps == 0 разгон без остановки.
// Tick == nil означает текущий тик.
type MoveRequest struct {
	Steps    int32   `json:"steps"`
	Accel    float64 `json:"accel"`    // шаги/тик за тик
	Velocity float64 `json:"velocity"` // шаги/тик
	Tick     *uint32 `json:"tick,omitempty"`
}

// Apply выполняет команду.
func (r MoveRequest) Apply(ctl *control.Context) error {
	if r.Accel <= 0 {
		return fmt.Errorf("accel must be positive")
	}
	tick := ctl.Ticks()
	if r.Tick != nil {
		tick = *r.Tick
	}
	return ctl.Move(r.Steps, fixed.FromFloat24(r.Accel), fixed.FromFloat24(r.Velocity), tick)
}

// VelocityRequest разгон до Velocity без точки остановки.
type VelocityRequest struct {
	Accel    float64 `json:"accel"`
	Velocity float64 `json:"velocity"`
	Tick     *uint32 `json:"tick,omitempty"`
}

// Apply выполняет команду.
func (r VelocityRequest) Apply(ctl *control.Context) error {
	return MoveRequest{Accel: r.Accel, Velocity: r.Velocity, Tick: r.Tick}.Apply(ctl)
}

// Gains коэффициенты регулятора в вещественном виде.
type Gains struct {
	Kp float64 `json:"kp"`
	Kd float64 `json:"kd"`
	Ki float64 `json:"ki"`
}

// Контуры регулирования.
const (
	LoopPosition = "position"
	LoopBalance  = "balance"
	LoopHeading  = "heading"
)

// GetGains коэффициенты контура loop.
func GetGains(ctl *control.Context, loop string) (Gains, error) {
	switch loop {
	case LoopPosition:
		return gains24(ctl.PositionGains()), nil
	case LoopBalance:
		return gains24(ctl.BalanceGains()), nil
	case LoopHeading:
		g := ctl.HeadingGains()
		return Gains{Kp: g.Kp.Float(), Kd: g.Kd.Float(), Ki: g.Ki.Float()}, nil
	default:
		return Gains{}, fmt.Errorf("unknown loop %q", loop)
	}
}

// SetGains задаёт коэффициенты контура loop.
func SetGains(ctl *control.Context, loop string, g Gains) error {
	switch loop {
	case LoopPosition:
		ctl.SetPositionGains(toGains24(g))
	case LoopBalance:
		ctl.SetBalanceGains(toGains24(g))
	case LoopHeading:
		ctl.SetHeadingGains(pid.Gains[fixed.F16]{
			Kp: fixed.FromFloat(g.Kp),
			Kd: fixed.FromFloat(g.Kd),
			Ki: fixed.FromFloat(g.Ki),
		})
	default:
		return fmt.Errorf("unknown loop %q", loop)
	}
	return nil
}

func gains24(g pid.Gains[fixed.F24]) Gains {
	return Gains{Kp: g.Kp.Float(), Kd: g.Kd.Float(), Ki: g.Ki.Float()}
}

func toGains24(g Gains) pid.Gains[fixed.F24] {
	return pid.Gains[fixed.F24]{
		Kp: fixed.FromFloat24(g.Kp),
		Kd: fixed.FromFloat24(g.Kd),
		Ki: fixed.FromFloat24(g.Ki),
	}
}

// Heading курс в градусах.
type Heading struct {
	Heading float64 `json:"heading"`
	Desired float64 `json:"desired"`
	Dest    float64 `json:"dest"`
	Step    float64 `json:"step"` // градусов за тик
	Stopped bool    `json:"stopped"`
}

// NewHeading снимок курса.
func NewHeading(ctl *control.Context) Heading {
	hs := ctl.HeadingState()
	return Heading{
		Heading: hs.Heading.Float(),
		Desired: hs.Desired.Float(),
		Dest:    hs.Dest.Float(),
		Step:    hs.Step.Float(),
		Stopped: hs.Stopped,
	}
}

// HeadingRequest курс назначения и скорость поворота; Rate <= 0 означает
// скорость из конфига.
type HeadingRequest struct {
	Dest float64 `json:"dest"` // градусы
	Rate float64 `json:"rate"` // град/с
}

// Apply выполняет команду.
func (r HeadingRequest) Apply(ctl *control.Context) error {
	rate := fixed.FromFloat24(r.Rate)
	if r.Rate <= 0 {
		rate = ctl.Config().Heading.Rate
	}
	ctl.SetHeading(fixed.FromFloat24(r.Dest), rate)
	return nil
}

// Observation угол относительно стены.
type Observation struct {
	Angle int `json:"angle"`
}

// ObservationResult решение по наблюдению.
type ObservationResult struct {
	Verdict string `json:"verdict"`
}

// Tilt показания фильтра наклона в градусах.
type Tilt struct {
	Theta      float64 `json:"theta"`
	GyroOnly   float64 `json:"gyro_only"`
	AccelAngle float64 `json:"accel_angle"`
	P          float64 `json:"p"`
	YawRate    float64 `json:"yaw_rate"`
	AccelRaw   int32   `json:"accel_raw"`
}

// NewTilt снимок фильтра.
func NewTilt(ctl *control.Context) Tilt {
	tr := ctl.TiltReading()
	return Tilt{
		Theta:      tr.Theta.Float(),
		GyroOnly:   tr.GyroOnly.Float(),
		AccelAngle: tr.AccelAngle.Float(),
		P:          tr.P.Float(),
		YawRate:    tr.YawRate.Float(),
		AccelRaw:   tr.AccelRaw,
	}
}

// Neutral нейтрали гироскопа в отсчётах АЦП.
type Neutral struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}
