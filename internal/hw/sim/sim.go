// Package sim модель двухколёсной платформы для запуска контура управления
// без железа: линеаризованный перевёрнутый маятник на колёсах с
// инерционными моторами, курс по разности скоростей колёс и коридор со
// стенами для дальномеров.
//
// Модель делает один шаг на каждый вызов WritePWM, поэтому её время идёт
// вместе с задачей моторов.
package sim

import (
	"math"
	"math/rand"
	"sync"

	"github.com/skelterjohn/go.matrix"

	"github.com/shiwa/balancer/internal/hw"
	"github.com/shiwa/balancer/internal/imu"
)

const g = 9.81

// Config параметры модели.
type Config struct {
	Hz            int     // шагов модели в секунду (частота задачи моторов)
	Length        float64 // м, приведённая длина маятника
	MaxSpeed      float64 // м/с при крайнем значении ШИМ
	Tau           float64 // с, постоянная времени мотора
	StepsPerMeter float64
	Track         float64 // м, колея
	Corridor      float64 // м, ширина коридора; 0 = стен нет
	SensorSep     float64 // м, расстояние между передним и задним дальномером
	MaxRange      float64 // м, дальше отражения нет
	Tilt0         float64 // град, начальный наклон
	GyroNoise     float64 // СКО шума гироскопа в отсчётах
	Seed          int64
	Gyro          imu.Variant
	Accel         imu.AccelConfig
	Switch        bool // начальное положение выключателя баланса
}

// DefaultConfig платформа с 61 шагом энкодера на дюйм и колеёй 410 шагов.
func DefaultConfig() Config {
	const stepsPerMeter = 61 / 0.0254
	return Config{
		Hz:            250,
		Length:        0.3,
		MaxSpeed:      1.2,
		Tau:           0.05,
		StepsPerMeter: stepsPerMeter,
		Track:         410 / stepsPerMeter,
		Corridor:      1.2,
		SensorSep:     0.038,
		MaxRange:      0.8,
		Gyro:          imu.DefaultVariant,
		Accel:         imu.DefaultAccel,
	}
}

// Sim состояние модели. Безопасен для одновременного использования.
type Sim struct {
	mu  sync.Mutex
	cfg Config
	dt  float64

	// x = [позиция, скорость, наклон, скорость наклона], продольная часть
	a, b *matrix.DenseMatrix
	x    *matrix.DenseMatrix

	diffPos, diffVel float64 // разность пути и скорости колёс (правое минус левое)
	yaw              float64 // рад, против часовой стрелки
	lateral          float64 // м, смещение от оси коридора влево
	pwmL, pwmR       int32
	sw               bool
	rnd              *rand.Rand
	steps            uint64
}

// New создаёт модель в покое.
func New(cfg Config) *Sim {
	if cfg.Hz <= 0 {
		cfg.Hz = 250
	}
	dt := 1 / float64(cfg.Hz)
	l, tau := cfg.Length, cfg.Tau
	// непрерывная модель: скорость догоняет команду с постоянной tau,
	// ускорение основания опрокидывает маятник назад
	ac := matrix.MakeDenseMatrix([]float64{
		0, 1, 0, 0,
		0, -1 / tau, 0, 0,
		0, 0, 0, 1,
		0, 1 / (tau * l), g / l, 0,
	}, 4, 4)
	bc := matrix.MakeDenseMatrix([]float64{0, 1 / tau, 0, -1 / (tau * l)}, 4, 1)
	s := &Sim{
		cfg:  cfg,
		dt:   dt,
		a:    matrix.Sum(matrix.Eye(4), matrix.Scaled(ac, dt)),
		b:    matrix.Scaled(bc, dt),
		x:    matrix.Zeros(4, 1),
		pwmL: 128,
		pwmR: 128,
		sw:   cfg.Switch,
		rnd:  rand.New(rand.NewSource(cfg.Seed)),
	}
	s.x.Set(2, 0, cfg.Tilt0*math.Pi/180)
	return s
}

// Board плата с устройствами модели.
func (s *Sim) Board() *hw.Board {
	return &hw.Board{
		Name:     "sim",
		Encoders: s,
		PWM:      s,
		IMU:      s,
		Ranges:   s,
		Switch:   s,
	}
}

func (s *Sim) speed(pwm int32) float64 {
	return float64(pwm-128) / 127 * s.cfg.MaxSpeed
}

// WritePWM применяет команду и делает шаг модели.
func (s *Sim) WritePWM(left, right int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pwmL, s.pwmR = left, right
	s.step()
	return nil
}

func (s *Sim) step() {
	vl, vr := s.speed(s.pwmL), s.speed(s.pwmR)
	u := matrix.MakeDenseMatrix([]float64{(vl + vr) / 2}, 1, 1)
	s.x = matrix.Sum(matrix.Product(s.a, s.x), matrix.Product(s.b, u))

	// лёг на землю
	if th := s.x.Get(2, 0); math.Abs(th) > math.Pi/2 {
		s.x.Set(2, 0, math.Copysign(math.Pi/2, th))
		s.x.Set(3, 0, 0)
	}

	s.diffVel += (vr - vl - s.diffVel) * s.dt / s.cfg.Tau
	s.diffPos += s.diffVel * s.dt
	yawRate := s.diffVel / s.cfg.Track
	s.yaw += yawRate * s.dt
	s.lateral += s.x.Get(1, 0) * math.Sin(s.yaw) * s.dt
	s.steps++
}

// ReadEncoders счётчики колёс по пройденному пути.
func (s *Sim) ReadEncoders() (left, right uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.x.Get(0, 0)
	l := math.Round((pos - s.diffPos/2) * s.cfg.StepsPerMeter)
	r := math.Round((pos + s.diffPos/2) * s.cfg.StepsPerMeter)
	return uint16(int64(l)), uint16(int64(r)), nil
}

// ReadIMU отсчёты АЦП, соответствующие наклону и скоростям модели.
func (s *Sim) ReadIMU() (hw.IMUSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dpb := s.cfg.Gyro.DegsPerBit.Float()
	gyro := func(neutral float64, radPerSec float64) int32 {
		raw := neutral + radPerSec*180/math.Pi/dpb
		if s.cfg.GyroNoise > 0 {
			raw += s.rnd.NormFloat64() * s.cfg.GyroNoise
		}
		return int32(math.Round(raw))
	}
	theta := s.x.Get(2, 0)
	return hw.IMUSample{
		GyroX: gyro(s.cfg.Gyro.XNeutral.Float(), s.x.Get(3, 0)),
		GyroZ: gyro(s.cfg.Gyro.ZNeutral.Float(), s.diffVel/s.cfg.Track),
		Accel: s.cfg.Accel.ZeroG + int32(math.Round(math.Sin(theta)*float64(s.cfg.Accel.OneG))),
	}, nil
}

// ReadRanges расстояния до стен коридора с учётом курса и смещения.
func (s *Sim) ReadRanges() (hw.Ranges, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Corridor <= 0 {
		return hw.Ranges{LeftFront: hw.OutOfRange, LeftRear: hw.OutOfRange, RightFront: hw.OutOfRange, RightRear: hw.OutOfRange}, nil
	}
	half := s.cfg.Corridor / 2
	off := s.cfg.SensorSep / 2 * math.Sin(s.yaw)
	c := math.Cos(s.yaw)
	return hw.Ranges{
		LeftFront:  s.rangeMM((half - s.lateral - off) / c),
		LeftRear:   s.rangeMM((half - s.lateral + off) / c),
		RightFront: s.rangeMM((half + s.lateral + off) / c),
		RightRear:  s.rangeMM((half + s.lateral - off) / c),
	}, nil
}

func (s *Sim) rangeMM(m float64) int32 {
	if m <= 0 || m > s.cfg.MaxRange {
		return hw.OutOfRange
	}
	return int32(math.Round(m * 1000))
}

// BalanceSwitch положение выключателя.
func (s *Sim) BalanceSwitch() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sw, nil
}

// SetSwitch переключает выключатель баланса.
func (s *Sim) SetSwitch(on bool) {
	s.mu.Lock()
	s.sw = on
	s.mu.Unlock()
}

// Push толкает платформу: добавляет скорость наклона, град/с.
func (s *Sim) Push(degPerSec float64) {
	s.mu.Lock()
	s.x.Set(3, 0, s.x.Get(3, 0)+degPerSec*math.Pi/180)
	s.mu.Unlock()
}

// State снимок модели.
type State struct {
	Position float64 // м
	Velocity float64 // м/с
	Tilt     float64 // град, вперёд положительный
	Yaw      float64 // град, против часовой стрелки
	Lateral  float64 // м
	Steps    uint64
}

// State текущее состояние.
func (s *Sim) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Position: s.x.Get(0, 0),
		Velocity: s.x.Get(1, 0),
		Tilt:     s.x.Get(2, 0) * 180 / math.Pi,
		Yaw:      s.yaw * 180 / math.Pi,
		Lateral:  s.lateral,
		Steps:    s.steps,
	}
}
