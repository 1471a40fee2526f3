// Package control связывает фильтр наклона, профиль движения, курс и три
// ПИД-регулятора в контекст управления платформой.
//
// Тик управления (MotorTick) и тик датчиков (SensorTick) вызываются из
// двух периодических задач. Состояние моторов защищено mu, состояние
// датчиков smu; тик управления читает наклон под smu, удерживая mu,
// обратного порядка захвата нет. Все методы чтения возвращают значения,
// согласованные на один момент.
package control

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shiwa/balancer/internal/fixed"
	"github.com/shiwa/balancer/internal/heading"
	"github.com/shiwa/balancer/internal/hw"
	"github.com/shiwa/balancer/internal/imu"
	"github.com/shiwa/balancer/internal/logger"
	"github.com/shiwa/balancer/internal/motion"
	"github.com/shiwa/balancer/internal/pid"
	"github.com/shiwa/balancer/internal/safety"
	"github.com/shiwa/balancer/internal/tilt"
)

var (
	// ErrEmergency команда движения отклонена в аварийном режиме.
	ErrEmergency = errors.New("control: emergency mode, command rejected")
	// ErrCalibrating калибровка гироскопа уже идёт.
	ErrCalibrating = errors.New("control: gyro calibration already running")
)

// Context состояние контура управления.
type Context struct {
	cfg Config

	mu          sync.Mutex
	profile     motion.Profiler
	posPID      *pid.Controller[fixed.F24]
	balPID      *pid.Controller[fixed.F24]
	hdPID       *pid.Controller[fixed.F16]
	hd          *heading.Tracker
	mon         *safety.Monitor
	balancing   bool
	curpos      int32
	wheel       [2]int32
	wheelVel    int32
	toggle      int32
	desiredTilt fixed.F24
	posCount    int
	ticks       uint32
	stopped     bool
	hdStopped   bool
	drive       int32
	steer       int32
	pwm         [2]int32
	switchSeen  bool
	switchOn    bool

	smu       sync.Mutex
	kf        *tilt.Estimator
	gyro      *imu.Gyro
	accel     *imu.Accel
	cal       *imu.Calibration
	yawRate   fixed.F16
	tiltCount int

	motorMisses   atomic.Uint64
	sensorMisses  atomic.Uint64
	encoderErrors atomic.Uint64
	imuErrors     atomic.Uint64
}

// New создаёт контекст; баланс выключен, все позиции и курс нулевые.
func New(cfg Config) *Context {
	def := DefaultConfig()
	if cfg.MotorHz <= 0 {
		cfg.MotorHz = def.MotorHz
	}
	if cfg.SensorHz <= 0 {
		cfg.SensorHz = def.SensorHz
	}
	if cfg.TiltEvery <= 0 {
		cfg.TiltEvery = def.TiltEvery
	}
	if cfg.PositionEvery <= 0 {
		cfg.PositionEvery = def.PositionEvery
	}
	if cfg.CalibrationPoll <= 0 {
		cfg.CalibrationPoll = def.CalibrationPoll
	}
	cfg.Heading.RateHz = cfg.MotorHz
	cfg.Kalman.RateHz = cfg.SensorHz

	return &Context{
		cfg:       cfg,
		posPID:    pid.Position(cfg.PositionGains),
		balPID:    pid.Balance(cfg.BalanceGains),
		hdPID:     pid.Heading(cfg.HeadingGains),
		hd:        heading.New(cfg.Heading),
		mon:       safety.NewMonitor(cfg.Safety),
		toggle:    1,
		stopped:   true,
		hdStopped: true,
		pwm:       [2]int32{cfg.PWMCenter, cfg.PWMCenter},
		kf:        tilt.New(cfg.Kalman),
		gyro:      imu.NewGyro(cfg.Gyro),
		accel:     imu.NewAccel(cfg.Accel),
	}
}

// Config возвращает параметры контекста.
func (c *Context) Config() Config { return c.cfg }

// MotorTick выполняет один тик управления по приращениям энкодеров за
// тик и возвращает скважности ШИМ левого и правого мотора.
func (c *Context) MotorTick(left, right int32) (pwmLeft, pwmRight int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doPos := false
	if c.posCount++; c.posCount >= c.cfg.PositionEvery {
		doPos = true
		c.posCount = 0
	}

	c.wheel[0] += left
	c.wheel[1] += right
	c.hd.Integrate(left, right)

	c.wheelVel = (left + right + c.toggle) / 2
	c.curpos += c.wheelVel
	c.toggle = -c.toggle

	theta := c.readTilt()

	c.checkStopped()
	c.checkSafety(theta)
	c.profile.Step(c.ticks)

	c.drive = c.balance(theta, doPos)
	c.hd.StepRamp()
	c.steer = c.headingOutput()

	c.pwm[0] = c.mix(c.drive-c.steer, c.cfg.LeftFactor)
	c.pwm[1] = c.mix(c.drive+c.steer, c.cfg.RightFactor)

	c.ticks++
	return c.pwm[0], c.pwm[1]
}

func (c *Context) readTilt() fixed.F16 {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.kf.Theta()
}

func (c *Context) checkStopped() {
	posErr, _ := c.posPID.State()
	c.stopped = !c.balancing ||
		c.profile.Velocity() == 0 &&
			c.profile.Target() == 0 &&
			!c.profile.Pending() &&
			fixed.Abs(c.curpos-c.profile.Position()) < c.cfg.StoppedPosErr &&
			fixed.Abs(int32(posErr)) < c.cfg.StoppedPosErr &&
			c.wheelVel == 0
	c.hdStopped = !c.balancing || c.hd.Settled()
}

func (c *Context) checkSafety(theta fixed.F16) {
	if !c.balancing {
		return
	}
	ev := c.mon.Observe(safety.Sample{
		Tilt:   theta.ToF24(),
		PosErr: c.profile.Position() - c.curpos,
	})
	switch ev {
	case safety.Entered:
		c.profile.Halt()
		c.hd.Hold()
		logger.Error("emergency at tick %d: tilt %v, position error %d",
			c.ticks, theta, c.profile.Position()-c.curpos)
	case safety.Cleared:
		logger.Info("emergency cleared at tick %d", c.ticks)
	}
}

// balance считает тягу: регулятор позиции (на прореженных тиках) задаёт
// желаемый наклон, регулятор баланса отрабатывает ошибку наклона.
func (c *Context) balance(theta fixed.F16, doPos bool) int32 {
	if !c.balancing {
		return 0
	}
	if doPos {
		posErr := fixed.F24(c.profile.Position() - c.curpos)
		lo, hi := c.cfg.Envelope.Window(c.desiredTilt)
		c.desiredTilt, _ = c.posPID.UpdateWindow(posErr, lo, hi)
	}
	out, _ := c.balPID.Update(theta.ToF24() - c.desiredTilt)
	return out
}

func (c *Context) headingOutput() int32 {
	if !c.balancing {
		return 0
	}
	out, _ := c.hdPID.Update(c.hd.Error())
	return out
}

func (c *Context) mix(v int32, factor fixed.F16) int32 {
	pwm := (v*int32(factor)+32768)/65536 + c.cfg.PWMCenter
	return fixed.Clamp(pwm, c.cfg.PWMMin, c.cfg.PWMMax)
}

// SensorTick обрабатывает отсчёт датчиков: пополняет калибровку и
// усреднение акселерометра, интегрирует гироскоп и раз в TiltEvery
// тиков корректирует наклон по акселерометру.
func (c *Context) SensorTick(s hw.IMUSample) {
	c.smu.Lock()
	defer c.smu.Unlock()

	if c.cal != nil {
		c.cal.Add(s.GyroX, s.GyroZ)
	}
	c.accel.Add(s.Accel)

	correct := false
	if c.tiltCount++; c.tiltCount >= c.cfg.TiltEvery {
		correct = true
		c.tiltCount = 0
	}
	c.yawRate = c.gyro.Rate(imu.AxisZ, s.GyroZ)
	c.kf.Step(c.gyro.Rate(imu.AxisX, s.GyroX), c.accel.Read(), correct)
}

// SetVelocity ставит команду разгона до скорости vel с ускорением accel
// на тике tick без точки остановки.
func (c *Context) SetVelocity(accel, vel fixed.F24, tick uint32) error {
	return c.Move(0, accel, vel, tick)
}

// Move ставит команду перемещения на steps шагов (0 без остановки) с
// ускорением accel и скоростью vel, активируемую на тике tick.
// Неактивированная команда заменяется.
func (c *Context) Move(steps int32, accel, vel fixed.F24, tick uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mon.Emergency() {
		return ErrEmergency
	}
	c.profile.Submit(motion.Command{Accel: accel, Velocity: vel, Steps: steps, Tick: tick})
	c.stopped = false
	return nil
}

// SetBalance включает или выключает баланс. Включение обнуляет
// регуляторы, позиции, курс, желаемый наклон и снимает аварию.
func (c *Context) SetBalance(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setBalance(on)
}

func (c *Context) setBalance(on bool) {
	if on {
		c.posPID.Reset()
		c.balPID.Reset()
		c.hdPID.Reset()
		c.curpos = 0
		c.wheelVel = 0
		c.wheel = [2]int32{}
		c.desiredTilt = 0
		c.profile.ResetPosition()
		c.hd.Reset()
		c.mon.Reset()
	}
	if on != c.balancing {
		logger.Info("balance %v at tick %d", on, c.ticks)
	}
	c.balancing = on
}

// Balancing сообщает, включён ли баланс.
func (c *Context) Balancing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balancing
}

// PollSwitch учитывает положение аппаратного выключателя баланса.
// Первое показание только запоминается, каждое изменение переключает баланс.
func (c *Context) PollSwitch(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.switchSeen && on != c.switchOn {
		c.setBalance(on)
	}
	c.switchSeen = true
	c.switchOn = on
}

// Status снимок состояния моторов.
type Status struct {
	Position       int32     // желаемая позиция, шаги
	Current        int32     // измеренная позиция, шаги
	Left, Right    int32     // позиции колёс, шаги
	Velocity       fixed.F24 // текущая скорость профиля, шаги/тик
	Accel          fixed.F24
	Target         fixed.F24
	Tick           uint32
	Stopped        bool
	HeadingStopped bool
	Emergency      bool
	Balancing      bool
	DesiredTilt    fixed.F24
	Tilt           fixed.F16 // оценка фильтра на момент снимка
	Heading        fixed.F16
	DesiredHeading fixed.F16
	Dest           fixed.F16
	Drive, Steer   int32
	PWMLeft        int32
	PWMRight       int32

	MotorMisses   uint64
	SensorMisses  uint64
	EncoderErrors uint64
	IMUErrors     uint64
}

// Status возвращает согласованный снимок состояния.
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Position:       c.profile.Position(),
		Current:        c.curpos,
		Left:           c.wheel[0],
		Right:          c.wheel[1],
		Velocity:       c.profile.Velocity(),
		Accel:          c.profile.Accel(),
		Target:         c.profile.Target(),
		Tick:           c.ticks,
		Stopped:        c.stopped,
		HeadingStopped: c.hdStopped,
		Emergency:      c.mon.Emergency(),
		Balancing:      c.balancing,
		DesiredTilt:    c.desiredTilt,
		Tilt:           c.readTilt(),
		Heading:        c.hd.Heading(),
		DesiredHeading: c.hd.Desired(),
		Dest:           c.hd.Dest(),
		Drive:          c.drive,
		Steer:          c.steer,
		PWMLeft:        c.pwm[0],
		PWMRight:       c.pwm[1],
		MotorMisses:    c.motorMisses.Load(),
		SensorMisses:   c.sensorMisses.Load(),
		EncoderErrors:  c.encoderErrors.Load(),
		IMUErrors:      c.imuErrors.Load(),
	}
}

// Ticks число выполненных тиков управления.
func (c *Context) Ticks() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// PositionGains коэффициенты регулятора позиции (24.8).
func (c *Context) PositionGains() pid.Gains[fixed.F24] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.posPID.Gains
}

// SetPositionGains задаёт коэффициенты регулятора позиции.
func (c *Context) SetPositionGains(g pid.Gains[fixed.F24]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posPID.Gains = g
}

// BalanceGains коэффициенты регулятора баланса (24.8).
func (c *Context) BalanceGains() pid.Gains[fixed.F24] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balPID.Gains
}

// SetBalanceGains задаёт коэффициенты регулятора баланса.
func (c *Context) SetBalanceGains(g pid.Gains[fixed.F24]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balPID.Gains = g
}

// HeadingGains коэффициенты регулятора курса (16.16).
func (c *Context) HeadingGains() pid.Gains[fixed.F16] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hdPID.Gains
}

// SetHeadingGains задаёт коэффициенты регулятора курса.
func (c *Context) SetHeadingGains(g pid.Gains[fixed.F16]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hdPID.Gains = g
}

// HeadingState курс, желаемый курс, назначение (градусы 16.16) и шаг за тик.
type HeadingState struct {
	Heading fixed.F16
	Desired fixed.F16
	Dest    fixed.F16
	Step    fixed.F16
	Stopped bool
}

// SetHeading задаёт курс назначения dest (градусы 24.8, по модулю 360)
// и скорость поворота rate (град/с 24.8).
func (c *Context) SetHeading(dest, rate fixed.F24) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hd.SetTarget(dest, rate)
	c.hdStopped = false
}

// Heading текущий курс в градусах 24.8.
func (c *Context) Heading() fixed.F24 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hd.Heading().ToF24()
}

// HeadingState возвращает согласованный снимок курса.
func (c *Context) HeadingState() HeadingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return HeadingState{
		Heading: c.hd.Heading(),
		Desired: c.hd.Desired(),
		Dest:    c.hd.Dest(),
		Step:    c.hd.Step(),
		Stopped: c.hdStopped,
	}
}

// ObserveHeading подмешивает угол относительно стены (целые градусы).
func (c *Context) ObserveHeading(angle int) heading.Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observe(angle)
}

func (c *Context) observe(angle int) heading.Verdict {
	if c.mon.Emergency() {
		return heading.Emergency
	}
	return c.hd.Observe(angle, c.ticks)
}

// ObserveWalls выводит угол относительно стены из показаний дальномеров
// и подмешивает его в курс. Без баланса показания не используются.
func (c *Context) ObserveWalls(r hw.Ranges) heading.Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.balancing {
		return heading.NoReading
	}
	angle := heading.WallAngle(r.LeftFront, r.LeftRear, r.RightFront, r.RightRear, c.cfg.WallSeparation)
	return c.observe(angle)
}

// TiltReading согласованный снимок фильтра наклона.
type TiltReading struct {
	Theta      fixed.F16 // оценка фильтра, градусы
	GyroOnly   fixed.F16 // интеграл гироскопа без коррекции
	AccelAngle fixed.F16 // последний угол по акселерометру
	P          fixed.F16 // ковариация
	YawRate    fixed.F16 // угловая скорость рыскания, град/с
	AccelRaw   int32
}

// Tilt текущая оценка наклона, градусы 16.16.
func (c *Context) Tilt() fixed.F16 { return c.readTilt() }

// GyroOnlyTilt наклон по одному гироскопу.
func (c *Context) GyroOnlyTilt() fixed.F16 {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.kf.GyroOnly()
}

// AccelTilt последний угол по акселерометру.
func (c *Context) AccelTilt() fixed.F16 {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.kf.ThetaM()
}

// TiltReading возвращает все величины фильтра на один момент.
func (c *Context) TiltReading() TiltReading {
	c.smu.Lock()
	defer c.smu.Unlock()
	return TiltReading{
		Theta:      c.kf.Theta(),
		GyroOnly:   c.kf.GyroOnly(),
		AccelAngle: c.kf.ThetaM(),
		P:          c.kf.P(),
		YawRate:    c.yawRate,
		AccelRaw:   c.accel.Raw(),
	}
}

// GyroNeutral нейтрали гироскопа по осям X и Z (16.16).
func (c *Context) GyroNeutral() (x, z fixed.F16) {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.gyro.Neutral()
}

// SetGyroNeutral задаёт нейтрали гироскопа.
func (c *Context) SetGyroNeutral(x, z fixed.F16) {
	c.smu.Lock()
	defer c.smu.Unlock()
	c.gyro.SetNeutral(x, z)
}

// Calibrate собирает отсчёты гироскопа в течение CalibrationTime,
// отбрасывает по CalibrationTrim с каждой стороны и устанавливает
// новые нейтрали. Блокирует вызывающего до конца сбора; отсчёты
// поставляет SensorTick. Платформа должна быть неподвижна.
func (c *Context) Calibrate(ctx context.Context) (x, z fixed.F16, err error) {
	samples := int(c.cfg.CalibrationTime * time.Duration(c.cfg.SensorHz) / time.Second)
	trim := int(c.cfg.CalibrationTrim * time.Duration(c.cfg.SensorHz) / time.Second)
	cal, err := imu.NewCalibration(samples, trim)
	if err != nil {
		return 0, 0, err
	}

	c.smu.Lock()
	if c.cal != nil {
		c.smu.Unlock()
		return 0, 0, ErrCalibrating
	}
	c.cal = cal
	c.smu.Unlock()
	defer func() {
		c.smu.Lock()
		c.cal = nil
		c.smu.Unlock()
	}()

	logger.Info("gyro calibration: collecting %d samples", samples)
	ticker := time.NewTicker(c.cfg.CalibrationPoll)
	defer ticker.Stop()
	for {
		c.smu.Lock()
		done := cal.Done()
		c.smu.Unlock()
		if done {
			break
		}
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-ticker.C:
		}
	}

	c.smu.Lock()
	x, z = cal.Result()
	c.gyro.SetNeutral(x, z)
	c.smu.Unlock()
	logger.Info("gyro calibration: neutral x=%v z=%v", x, z)
	return x, z, nil
}

// RecordMotorMiss учитывает пропущенный срок тика управления.
func (c *Context) RecordMotorMiss() { c.motorMisses.Add(1) }

// RecordSensorMiss учитывает пропущенный срок тика датчиков.
func (c *Context) RecordSensorMiss() { c.sensorMisses.Add(1) }

// RecordEncoderError учитывает ошибку чтения энкодеров.
func (c *Context) RecordEncoderError() { c.encoderErrors.Add(1) }

// RecordIMUError учитывает ошибку чтения датчиков.
func (c *Context) RecordIMUError() { c.imuErrors.Add(1) }
