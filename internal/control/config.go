package control

import (
	"time"

	"github.com/shiwa/balancer/internal/fixed"
	"github.com/shiwa/balancer/internal/heading"
	"github.com/shiwa/balancer/internal/imu"
	"github.com/shiwa/balancer/internal/pid"
	"github.com/shiwa/balancer/internal/safety"
	"github.com/shiwa/balancer/internal/tilt"
)

// Config параметры контекста управления.
type Config struct {
	MotorHz  int
	SensorHz int
	// TiltEvery коррекция фильтра по акселерометру раз в столько тиков датчиков.
	TiltEvery int
	// PositionEvery регулятор позиции раз в столько тиков управления.
	PositionEvery int

	PositionGains pid.Gains[fixed.F24]
	BalanceGains  pid.Gains[fixed.F24]
	HeadingGains  pid.Gains[fixed.F16]

	Envelope safety.Envelope
	Safety   safety.Config
	Heading  heading.Config
	Kalman   tilt.Config
	Gyro     imu.Variant
	Accel    imu.AccelConfig

	PWMMin, PWMMax, PWMCenter int32
	LeftFactor, RightFactor   fixed.F16

	// StoppedPosErr ошибка позиции в шагах, ниже которой платформа считается стоящей.
	StoppedPosErr int32
	// WallSeparation расстояние между передним и задним дальномером.
	WallSeparation int32

	CalibrationTime time.Duration
	CalibrationTrim time.Duration
	// CalibrationPoll период опроса готовности калибровки.
	CalibrationPoll time.Duration
}

// DefaultConfig значения по умолчанию для 250 Гц.
func DefaultConfig() Config {
	return Config{
		MotorHz:       250,
		SensorHz:      250,
		TiltEvery:     25,
		PositionEvery: 25,

		PositionGains: pid.Gains[fixed.F24]{Kp: 0x180, Kd: 0xf00, Ki: 0x4},
		BalanceGains:  pid.Gains[fixed.F24]{Kp: 0x4000, Kd: 0xf000, Ki: 0x333},
		HeadingGains:  pid.Gains[fixed.F16]{Kp: 0xa0000},

		Envelope: safety.DefaultEnvelope(),
		Safety:   safety.DefaultConfig(),
		Heading:  heading.DefaultConfig(),
		Kalman:   tilt.DefaultConfig(),
		Gyro:     imu.DefaultVariant,
		Accel:    imu.DefaultAccel,

		PWMMin:      16,
		PWMMax:      255,
		PWMCenter:   128,
		LeftFactor:  68813,
		RightFactor: fixed.One,

		StoppedPosErr:  100,
		WallSeparation: 38,

		CalibrationTime: 5 * time.Second,
		CalibrationTrim: time.Second,
		CalibrationPoll: 100 * time.Millisecond,
	}
}
