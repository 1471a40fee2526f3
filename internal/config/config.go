package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shiwa/balancer/internal/control"
	"github.com/shiwa/balancer/internal/fixed"
	"github.com/shiwa/balancer/internal/imu"
	"github.com/shiwa/balancer/internal/pid"
	"github.com/shiwa/balancer/internal/safety"
	"github.com/shiwa/balancer/internal/tilt"
)

// Драйверы железа.
const (
	DriverBoardlink = "boardlink" // плата моторов и АЦП на последовательном порту
	DriverSPIADC    = "spiadc"    // одноплатный компьютер: MCP3208 по SPI, GPIO
	DriverSim       = "sim"       // модель маятника
)

// Config конфигурация balancer.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Control    ControlConfig    `yaml:"control"`
	Gains      GainsConfig      `yaml:"gains"`
	TiltLimits TiltLimitsConfig `yaml:"tilt_limits"`
	Heading    HeadingConfig    `yaml:"heading"`
	PWM        PWMConfig        `yaml:"pwm"`
	Kalman     KalmanConfig     `yaml:"kalman"`
	IMU        IMUConfig        `yaml:"imu"`
	Safety     SafetyConfig     `yaml:"safety"`
	API        APIConfig        `yaml:"api"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Log        LogConfig        `yaml:"log"`
}

// DeviceConfig железо: драйвер и его параметры.
type DeviceConfig struct {
	Driver string `yaml:"driver"` // boardlink, spiadc, sim
	// boardlink
	Port string `yaml:"port"` // путь к порту или "auto"
	Baud int    `yaml:"baud"`
	// spiadc
	SPI         string   `yaml:"spi"`                    // имя шины periph, например "SPI0.0"
	SwitchPin   string   `yaml:"switch_pin"`             // GPIO выключателя баланса; пусто = нет
	EncoderPins []string `yaml:"encoder_pins,omitempty"` // левый A, левый B, правый A, правый B
	PWMPins     []string `yaml:"pwm_pins,omitempty"`     // левый, правый
	PWMHz       int      `yaml:"pwm_hz"`
	// RangeEvery чтение дальномеров раз в столько тиков управления; 0 = не читать.
	RangeEvery int `yaml:"range_every"`
}

// ControlConfig частоты и приоритет задач.
type ControlConfig struct {
	MotorHz       int  `yaml:"motor_hz"`
	SensorHz      int  `yaml:"sensor_hz"`
	TiltEvery     int  `yaml:"tilt_every"`
	PositionEvery int  `yaml:"position_every"`
	Priority      int  `yaml:"priority"` // SCHED_FIFO; 0 = обычное планирование
	LockMemory    bool `yaml:"lock_memory"`
}

// PIDGains коэффициенты регулятора в вещественном виде.
type PIDGains struct {
	Kp float64 `yaml:"kp"`
	Kd float64 `yaml:"kd"`
	Ki float64 `yaml:"ki"`
}

// GainsConfig коэффициенты трёх регуляторов.
type GainsConfig struct {
	Position PIDGains `yaml:"position"`
	Balance  PIDGains `yaml:"balance"`
	Heading  PIDGains `yaml:"heading"`
}

// TiltLimitsConfig окно желаемого наклона, градусы.
type TiltLimitsConfig struct {
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	MaxDelta float64 `yaml:"max_delta"`
}

// HeadingConfig курс и его коррекция по стенам.
type HeadingConfig struct {
	WheelBase      int     `yaml:"wheel_base"` // шаги энкодера
	Rate           float64 `yaml:"rate"`       // град/с
	UpdateTicks    int     `yaml:"update_ticks"`
	UpdatePercent  int     `yaml:"update_percent"`
	Band           int     `yaml:"band"`
	MaxDiff        int     `yaml:"max_diff"`
	WallSeparation int     `yaml:"wall_separation"`
}

// PWMConfig диапазон ШИМ и поправки колёс.
type PWMConfig struct {
	Min         int     `yaml:"min"`
	Max         int     `yaml:"max"`
	Center      int     `yaml:"center"`
	LeftFactor  float64 `yaml:"left_factor"`
	RightFactor float64 `yaml:"right_factor"`
}

// KalmanConfig шумы фильтра наклона и способ расчёта арксинуса.
type KalmanConfig struct {
	Q    float64 `yaml:"q"`
	R    float64 `yaml:"r"`
	P0   float64 `yaml:"p0"`
	Asin string  `yaml:"asin"` // float, table
}

// IMUConfig константы датчиков и калибровки.
type IMUConfig struct {
	Variant         string `yaml:"variant"` // default, simple-filter, complex-filter
	AccelZeroG      int    `yaml:"accel_zero_g"`
	AccelOneG       int    `yaml:"accel_one_g"`
	AccelAverage    int    `yaml:"accel_average"`
	CalibrationTime string `yaml:"calibration_time"`
	CalibrationTrim string `yaml:"calibration_trim"`
}

// SafetyConfig аварийный детектор.
type SafetyConfig struct {
	MaxTilt            float64 `yaml:"max_tilt"`
	MaxPositionError   int     `yaml:"max_position_error"`
	TripTicks          int     `yaml:"trip_ticks"`
	Recovery           string  `yaml:"recovery"` // latch, auto
	ClearTilt          float64 `yaml:"clear_tilt"`
	ClearPositionError int     `yaml:"clear_position_error"`
	ClearTicks         int     `yaml:"clear_ticks"`
}

// APIConfig HTTP API.
type APIConfig struct {
	Enable         *bool  `yaml:"enable,omitempty"` // nil = включён
	Listen         string `yaml:"listen"`
	StreamInterval string `yaml:"stream_interval"`
}

// MQTTConfig мост MQTT. Пустой broker отключает мост.
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Prefix         string `yaml:"prefix"`
	StatusInterval string `yaml:"status_interval"`
}

// LogConfig журнал.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Quiet       bool   `yaml:"quiet"`
}

// Enabled сообщает, включён ли HTTP API.
func (a APIConfig) Enabled() bool {
	return a.Enable == nil || *a.Enable
}

func boolPtr(v bool) *bool { return &v }

// Default возвращает конфиг по умолчанию
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Driver:     DriverSim,
			Port:       "auto",
			Baud:       115200,
			SPI:        "SPI0.0",
			RangeEvery: 25,
		},
		Control: ControlConfig{
			MotorHz:       250,
			SensorHz:      250,
			TiltEvery:     25,
			PositionEvery: 25,
		},
		Gains: GainsConfig{
			Position: PIDGains{Kp: 1.5, Kd: 15, Ki: 1.0 / 64},
			Balance:  PIDGains{Kp: 64, Kd: 240, Ki: 3.2},
			Heading:  PIDGains{Kp: 10},
		},
		TiltLimits: TiltLimitsConfig{Min: -5, Max: 5, MaxDelta: 1},
		Heading: HeadingConfig{
			WheelBase:      410,
			Rate:           15,
			UpdateTicks:    62,
			UpdatePercent:  10,
			Band:           30,
			MaxDiff:        10,
			WallSeparation: 38,
		},
		PWM: PWMConfig{Min: 16, Max: 255, Center: 128, LeftFactor: 1.05, RightFactor: 1},
		Kalman: KalmanConfig{Q: 0.01, R: 0.1, P0: 100, Asin: "float"},
		IMU: IMUConfig{
			Variant:         imu.DefaultVariant.Name,
			AccelZeroG:      int(imu.DefaultAccel.ZeroG),
			AccelOneG:       int(imu.DefaultAccel.OneG),
			AccelAverage:    imu.DefaultAccel.Average,
			CalibrationTime: "5s",
			CalibrationTrim: "1s",
		},
		Safety: SafetyConfig{
			MaxTilt:            20,
			MaxPositionError:   6 * 61,
			TripTicks:          25,
			Recovery:           "latch",
			ClearTilt:          0.5,
			ClearPositionError: 100,
			ClearTicks:         125,
		},
		API: APIConfig{
			Enable:         boolPtr(true),
			Listen:         "127.0.0.1:8080",
			StreamInterval: "100ms",
		},
		MQTT: MQTTConfig{
			ClientID:       "balancer",
			Prefix:         "balancer",
			StatusInterval: "1s",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load читает конфиг из YAML
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse разбирает YAML, заполняет пропущенные поля значениями по умолчанию и проверяет результат.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Marshal возвращает конфиг в YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Device.Driver == "" {
		c.Device.Driver = d.Device.Driver
	}
	if c.Device.Port == "" {
		c.Device.Port = d.Device.Port
	}
	if c.Device.Baud == 0 {
		c.Device.Baud = d.Device.Baud
	}
	if c.Device.SPI == "" {
		c.Device.SPI = d.Device.SPI
	}
	if c.Device.PWMHz == 0 {
		c.Device.PWMHz = d.Device.PWMHz
	}
	if c.Control.MotorHz == 0 {
		c.Control.MotorHz = d.Control.MotorHz
	}
	if c.Control.SensorHz == 0 {
		c.Control.SensorHz = d.Control.SensorHz
	}
	if c.Control.TiltEvery == 0 {
		c.Control.TiltEvery = d.Control.TiltEvery
	}
	if c.Control.PositionEvery == 0 {
		c.Control.PositionEvery = d.Control.PositionEvery
	}
	// коэффициенты заменяются только целиком: нулевой ki допустим
	if c.Gains.Position == (PIDGains{}) {
		c.Gains.Position = d.Gains.Position
	}
	if c.Gains.Balance == (PIDGains{}) {
		c.Gains.Balance = d.Gains.Balance
	}
	if c.Gains.Heading == (PIDGains{}) {
		c.Gains.Heading = d.Gains.Heading
	}
	if c.TiltLimits == (TiltLimitsConfig{}) {
		c.TiltLimits = d.TiltLimits
	}
	if c.Heading.WheelBase == 0 {
		c.Heading.WheelBase = d.Heading.WheelBase
	}
	if c.Heading.Rate == 0 {
		c.Heading.Rate = d.Heading.Rate
	}
	if c.Heading.UpdateTicks == 0 {
		c.Heading.UpdateTicks = d.Heading.UpdateTicks
	}
	if c.Heading.UpdatePercent == 0 {
		c.Heading.UpdatePercent = d.Heading.UpdatePercent
	}
	if c.Heading.Band == 0 {
		c.Heading.Band = d.Heading.Band
	}
	if c.Heading.MaxDiff == 0 {
		c.Heading.MaxDiff = d.Heading.MaxDiff
	}
	if c.Heading.WallSeparation == 0 {
		c.Heading.WallSeparation = d.Heading.WallSeparation
	}
	if c.PWM.Min == 0 && c.PWM.Max == 0 {
		c.PWM.Min, c.PWM.Max = d.PWM.Min, d.PWM.Max
	}
	if c.PWM.Center == 0 {
		c.PWM.Center = d.PWM.Center
	}
	if c.PWM.LeftFactor == 0 {
		c.PWM.LeftFactor = d.PWM.LeftFactor
	}
	if c.PWM.RightFactor == 0 {
		c.PWM.RightFactor = d.PWM.RightFactor
	}
	if c.Kalman.Q == 0 {
		c.Kalman.Q = d.Kalman.Q
	}
	if c.Kalman.R == 0 {
		c.Kalman.R = d.Kalman.R
	}
	if c.Kalman.P0 == 0 {
		c.Kalman.P0 = d.Kalman.P0
	}
	if c.Kalman.Asin == "" {
		c.Kalman.Asin = d.Kalman.Asin
	}
	if c.IMU.Variant == "" {
		c.IMU.Variant = d.IMU.Variant
	}
	if c.IMU.AccelZeroG == 0 {
		c.IMU.AccelZeroG = d.IMU.AccelZeroG
	}
	if c.IMU.AccelOneG == 0 {
		c.IMU.AccelOneG = d.IMU.AccelOneG
	}
	if c.IMU.AccelAverage == 0 {
		c.IMU.AccelAverage = d.IMU.AccelAverage
	}
	if c.IMU.CalibrationTime == "" {
		c.IMU.CalibrationTime = d.IMU.CalibrationTime
	}
	if c.IMU.CalibrationTrim == "" {
		c.IMU.CalibrationTrim = d.IMU.CalibrationTrim
	}
	if c.Safety.MaxTilt == 0 {
		c.Safety.MaxTilt = d.Safety.MaxTilt
	}
	if c.Safety.MaxPositionError == 0 {
		c.Safety.MaxPositionError = d.Safety.MaxPositionError
	}
	if c.Safety.TripTicks == 0 {
		c.Safety.TripTicks = d.Safety.TripTicks
	}
	if c.Safety.Recovery == "" {
		c.Safety.Recovery = d.Safety.Recovery
	}
	if c.Safety.ClearTilt == 0 {
		c.Safety.ClearTilt = d.Safety.ClearTilt
	}
	if c.Safety.ClearPositionError == 0 {
		c.Safety.ClearPositionError = d.Safety.ClearPositionError
	}
	if c.Safety.ClearTicks == 0 {
		c.Safety.ClearTicks = d.Safety.ClearTicks
	}
	if c.API.Enable == nil {
		c.API.Enable = boolPtr(*d.API.Enable)
	}
	if c.API.Listen == "" {
		c.API.Listen = d.API.Listen
	}
	if c.API.StreamInterval == "" {
		c.API.StreamInterval = d.API.StreamInterval
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = d.MQTT.Prefix
	}
	if c.MQTT.StatusInterval == "" {
		c.MQTT.StatusInterval = d.MQTT.StatusInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate отклоняет невозможные значения.
func (c *Config) Validate() error {
	switch c.Device.Driver {
	case DriverBoardlink, DriverSPIADC, DriverSim:
	default:
		return fmt.Errorf("device.driver: unknown driver %q", c.Device.Driver)
	}
	if c.Device.Driver == DriverSPIADC && (len(c.Device.EncoderPins) != 4 || len(c.Device.PWMPins) != 2) {
		return fmt.Errorf("device: spiadc needs 4 encoder_pins and 2 pwm_pins")
	}
	if c.Control.MotorHz <= 0 || c.Control.SensorHz <= 0 {
		return fmt.Errorf("control: rates must be positive (motor %d, sensor %d)", c.Control.MotorHz, c.Control.SensorHz)
	}
	if c.Control.TiltEvery <= 0 || c.Control.PositionEvery <= 0 {
		return fmt.Errorf("control: decimation must be positive")
	}
	if c.Control.Priority < 0 || c.Control.Priority > 99 {
		return fmt.Errorf("control.priority: %d out of [0, 99]", c.Control.Priority)
	}
	if c.TiltLimits.Min >= c.TiltLimits.Max {
		return fmt.Errorf("tilt_limits: min %v must be below max %v", c.TiltLimits.Min, c.TiltLimits.Max)
	}
	if c.TiltLimits.MaxDelta <= 0 {
		return fmt.Errorf("tilt_limits.max_delta must be positive")
	}
	if c.PWM.Min >= c.PWM.Max {
		return fmt.Errorf("pwm: min %d must be below max %d", c.PWM.Min, c.PWM.Max)
	}
	if c.PWM.Center < c.PWM.Min || c.PWM.Center > c.PWM.Max {
		return fmt.Errorf("pwm.center %d outside [%d, %d]", c.PWM.Center, c.PWM.Min, c.PWM.Max)
	}
	if c.Heading.WheelBase <= 0 {
		return fmt.Errorf("heading.wheel_base must be positive")
	}
	if c.Kalman.Q <= 0 || c.Kalman.R <= 0 || c.Kalman.P0 < 0 {
		return fmt.Errorf("kalman: q and r must be positive, p0 non-negative")
	}
	if _, err := tilt.LookupAsin(c.Kalman.Asin); err != nil {
		return fmt.Errorf("kalman.asin: %w", err)
	}
	if _, err := imu.LookupVariant(c.IMU.Variant); err != nil {
		return fmt.Errorf("imu.variant: %w", err)
	}
	if c.IMU.AccelOneG == 0 {
		return fmt.Errorf("imu.accel_one_g must be non-zero")
	}
	calTime, err := time.ParseDuration(c.IMU.CalibrationTime)
	if err != nil {
		return fmt.Errorf("imu.calibration_time: %w", err)
	}
	calTrim, err := time.ParseDuration(c.IMU.CalibrationTrim)
	if err != nil {
		return fmt.Errorf("imu.calibration_trim: %w", err)
	}
	if calTime <= 2*calTrim {
		return fmt.Errorf("imu: calibration_time %v must exceed twice calibration_trim %v", calTime, calTrim)
	}
	if _, err := safety.ParsePolicy(c.Safety.Recovery); err != nil {
		return fmt.Errorf("safety.recovery: %w", err)
	}
	for name, s := range map[string]string{
		"api.stream_interval":  c.API.StreamInterval,
		"mqtt.status_interval": c.MQTT.StatusInterval,
	} {
		if d, err := time.ParseDuration(s); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", name, s)
		}
	}
	return nil
}

// Interval разбирает длительность, при ошибке возвращает def.
func Interval(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func f24(v float64) fixed.F24 { return fixed.F24(math.Round(v * 256)) }

func f16(v float64) fixed.F16 { return fixed.F16(math.Round(v * 65536)) }

func gains24(g PIDGains) pid.Gains[fixed.F24] {
	return pid.Gains[fixed.F24]{Kp: f24(g.Kp), Kd: f24(g.Kd), Ki: f24(g.Ki)}
}

// ControlConfig переводит конфиг в параметры контекста управления.
// Вызывать после Validate.
func (c *Config) ControlConfig() (control.Config, error) {
	asin, err := tilt.LookupAsin(c.Kalman.Asin)
	if err != nil {
		return control.Config{}, err
	}
	variant, err := imu.LookupVariant(c.IMU.Variant)
	if err != nil {
		return control.Config{}, err
	}
	policy, err := safety.ParsePolicy(c.Safety.Recovery)
	if err != nil {
		return control.Config{}, err
	}

	out := control.DefaultConfig()
	out.MotorHz = c.Control.MotorHz
	out.SensorHz = c.Control.SensorHz
	out.TiltEvery = c.Control.TiltEvery
	out.PositionEvery = c.Control.PositionEvery

	out.PositionGains = gains24(c.Gains.Position)
	out.BalanceGains = gains24(c.Gains.Balance)
	out.HeadingGains = pid.Gains[fixed.F16]{
		Kp: f16(c.Gains.Heading.Kp),
		Kd: f16(c.Gains.Heading.Kd),
		Ki: f16(c.Gains.Heading.Ki),
	}

	out.Envelope = safety.Envelope{
		Min:      f24(c.TiltLimits.Min),
		Max:      f24(c.TiltLimits.Max),
		MaxDelta: f24(c.TiltLimits.MaxDelta),
	}
	out.Safety = safety.Config{
		MaxTilt:     f24(c.Safety.MaxTilt),
		MaxPosErr:   int32(c.Safety.MaxPositionError),
		TripTicks:   c.Safety.TripTicks,
		Policy:      policy,
		ClearTilt:   f24(c.Safety.ClearTilt),
		ClearPosErr: int32(c.Safety.ClearPositionError),
		ClearTicks:  c.Safety.ClearTicks,
	}

	out.Heading.WheelBase = int32(c.Heading.WheelBase)
	out.Heading.RateHz = c.Control.MotorHz
	out.Heading.Rate = f24(c.Heading.Rate)
	out.Heading.UpdateTicks = uint32(c.Heading.UpdateTicks)
	out.Heading.UpdatePercent = int32(c.Heading.UpdatePercent)
	out.Heading.Band = c.Heading.Band
	out.Heading.MaxDiff = c.Heading.MaxDiff
	out.WallSeparation = int32(c.Heading.WallSeparation)

	out.Kalman = tilt.Config{
		RateHz: c.Control.SensorHz,
		Q:      f16(c.Kalman.Q),
		R:      f16(c.Kalman.R),
		P0:     f16(c.Kalman.P0),
		Asin:   asin,
	}
	out.Gyro = variant
	out.Accel = imu.AccelConfig{
		ZeroG:   int32(c.IMU.AccelZeroG),
		OneG:    int32(c.IMU.AccelOneG),
		Average: c.IMU.AccelAverage,
	}

	out.PWMMin = int32(c.PWM.Min)
	out.PWMMax = int32(c.PWM.Max)
	out.PWMCenter = int32(c.PWM.Center)
	out.LeftFactor = f16(c.PWM.LeftFactor)
	out.RightFactor = f16(c.PWM.RightFactor)

	if out.CalibrationTime, err = time.ParseDuration(c.IMU.CalibrationTime); err != nil {
		return control.Config{}, fmt.Errorf("imu.calibration_time: %w", err)
	}
	if out.CalibrationTrim, err = time.ParseDuration(c.IMU.CalibrationTrim); err != nil {
		return control.Config{}, fmt.Errorf("imu.calibration_trim: %w", err)
	}
	return out, nil
}
