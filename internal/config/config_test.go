package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shiwa/balancer/internal/control"
	"github.com/shiwa/balancer/internal/fixed"
	"github.com/shiwa/balancer/internal/safety"
)

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

// Значения по умолчанию в вещественном виде переводятся ровно в
// константы контура управления.
func TestControlConfig_MatchesBuiltins(t *testing.T) {
	got, err := Default().ControlConfig()
	if err != nil {
		t.Fatal(err)
	}
	want := control.DefaultConfig()
	if got.PositionGains != want.PositionGains {
		t.Errorf("position gains %+v, want %+v", got.PositionGains, want.PositionGains)
	}
	if got.BalanceGains != want.BalanceGains {
		t.Errorf("balance gains %+v, want %+v", got.BalanceGains, want.BalanceGains)
	}
	if got.HeadingGains != want.HeadingGains {
		t.Errorf("heading gains %+v, want %+v", got.HeadingGains, want.HeadingGains)
	}
	if got.Envelope != want.Envelope {
		t.Errorf("envelope %+v, want %+v", got.Envelope, want.Envelope)
	}
	if got.Safety != want.Safety {
		t.Errorf("safety %+v, want %+v", got.Safety, want.Safety)
	}
	if got.Heading != want.Heading {
		t.Errorf("heading %+v, want %+v", got.Heading, want.Heading)
	}
	if got.LeftFactor != 68813 || got.RightFactor != fixed.One {
		t.Errorf("wheel factors %d/%d", got.LeftFactor, got.RightFactor)
	}
	k := got.Kalman
	if k.Q != 655 || k.R != 6554 || k.P0 != 6553600 || k.RateHz != 250 || k.Asin == nil {
		t.Errorf("kalman %+v", k)
	}
	if got.Gyro != want.Gyro || got.Accel != want.Accel {
		t.Errorf("imu %+v %+v", got.Gyro, got.Accel)
	}
	if got.CalibrationTime != 5*time.Second || got.CalibrationTrim != time.Second {
		t.Errorf("calibration %v/%v", got.CalibrationTime, got.CalibrationTrim)
	}
	if got.WallSeparation != 38 || got.PWMMin != 16 || got.PWMMax != 255 || got.PWMCenter != 128 {
		t.Errorf("misc %+v", got)
	}
}

func TestParse_FillsDefaults(t *testing.T) {
	c, err := Parse([]byte(`
device:
  driver: boardlink
  port: /dev/ttyUSB0
gains:
  balance: {kp: 32, kd: 120}
safety:
  recovery: auto
`))
	if err != nil {
		t.Fatal(err)
	}
	if c.Device.Driver != DriverBoardlink || c.Device.Port != "/dev/ttyUSB0" || c.Device.Baud != 115200 {
		t.Errorf("device %+v", c.Device)
	}
	if c.Gains.Balance != (PIDGains{Kp: 32, Kd: 120}) {
		t.Errorf("balance gains %+v: zero ki must survive", c.Gains.Balance)
	}
	if !c.API.Enabled() || c.API.Listen != "127.0.0.1:8080" {
		t.Errorf("api %+v: missing section must keep the API on", c.API)
	}
	if c.Gains.Position != Default().Gains.Position {
		t.Errorf("position gains %+v", c.Gains.Position)
	}
	cc, err := c.ControlConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cc.Safety.Policy != safety.Auto {
		t.Errorf("policy %v", cc.Safety.Policy)
	}
	if cc.BalanceGains.Kp != fixed.FromInt24(32) || cc.BalanceGains.Ki != 0 {
		t.Errorf("converted gains %+v", cc.BalanceGains)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"driver", "device: {driver: parport}", "device.driver"},
		{"spiadc pins", "device: {driver: spiadc, pwm_pins: [PWM0, PWM1]}", "encoder_pins"},
		{"tilt", "tilt_limits: {min: 5, max: 5, max_delta: 1}", "tilt_limits"},
		{"delta", "tilt_limits: {min: -5, max: 5, max_delta: -1}", "max_delta"},
		{"pwm", "pwm: {min: 200, max: 100}", "pwm"},
		{"recovery", "safety: {recovery: retry}", "safety.recovery"},
		{"asin", "kalman: {asin: cordic}", "kalman.asin"},
		{"variant", "imu: {variant: mpu6050}", "imu.variant"},
		{"calibration", "imu: {calibration_time: 2s, calibration_trim: 1s}", "calibration_time"},
		{"priority", "control: {priority: 120}", "control.priority"},
		{"interval", "api: {stream_interval: soon}", "api.stream_interval"},
		{"syntax", "device: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "balancer.yaml")
	if err := os.WriteFile(path, []byte("control: {motor_hz: 200}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Control.MotorHz != 200 || c.Control.SensorHz != 250 {
		t.Errorf("control %+v", c.Control)
	}
	cc, err := c.ControlConfig()
	if err != nil {
		t.Fatal(err)
	}
	// шаг курса по умолчанию пересчитывается на частоту тиков
	if cc.Heading.RateHz != 200 {
		t.Errorf("heading rate hz %d", cc.Heading.RateHz)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestMarshal_ParsesBack(t *testing.T) {
	c := Default()
	data, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c, back) {
		t.Errorf("round trip differs:\n%s", data)
	}
}

func TestInterval(t *testing.T) {
	if got := Interval("250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("Interval = %v", got)
	}
	if got := Interval("", time.Second); got != time.Second {
		t.Errorf("Interval(\"\") = %v", got)
	}
}

func TestParse_APIEnable(t *testing.T) {
	tests := []struct {
		yaml string
		want bool
	}{
		{"log: {level: debug}\n", true},
		{"api:\n  listen: 0.0.0.0:9000\n", true},
		{"api:\n  enable: false\n", false},
		{"api:\n  enable: true\n  listen: :80\n", true},
	}
	for _, tt := range tests {
		c, err := Parse([]byte(tt.yaml))
		if err != nil {
			t.Fatalf("%q: %v", tt.yaml, err)
		}
		if got := c.API.Enabled(); got != tt.want {
			t.Errorf("%q: enabled %v, want %v", tt.yaml, got, tt.want)
		}
	}
}
