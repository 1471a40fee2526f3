package balancer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiwa/balancer/internal/config"
	"github.com/shiwa/balancer/internal/control"
	"github.com/shiwa/balancer/internal/fixed"
	"github.com/shiwa/balancer/internal/hw"
)

type fakeBoard struct {
	counts  [][2]uint16
	encErr  error
	imuErr  error
	sw      []bool
	ranges  int
	pwm     [][2]int32
	closed  bool
	samples int
}

func (f *fakeBoard) ReadEncoders() (uint16, uint16, error) {
	if f.encErr != nil {
		return 0, 0, f.encErr
	}
	c := f.counts[0]
	if len(f.counts) > 1 {
		f.counts = f.counts[1:]
	}
	return c[0], c[1], nil
}

func (f *fakeBoard) WritePWM(l, r int32) error {
	f.pwm = append(f.pwm, [2]int32{l, r})
	return nil
}

func (f *fakeBoard) ReadIMU() (hw.IMUSample, error) {
	if f.imuErr != nil {
		return hw.IMUSample{}, f.imuErr
	}
	f.samples++
	return hw.IMUSample{GyroX: 123, GyroZ: 123, Accel: 20230}, nil
}

func (f *fakeBoard) ReadRanges() (hw.Ranges, error) {
	f.ranges++
	return hw.Ranges{LeftFront: hw.OutOfRange, LeftRear: hw.OutOfRange, RightFront: hw.OutOfRange, RightRear: hw.OutOfRange}, nil
}

func (f *fakeBoard) BalanceSwitch() (bool, error) {
	on := f.sw[0]
	if len(f.sw) > 1 {
		f.sw = f.sw[1:]
	}
	return on, nil
}

func (f *fakeBoard) Close() error {
	f.closed = true
	return nil
}

func newTestDaemon(t *testing.T, f *fakeBoard, mutate func(*config.Config)) *daemon {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	ccfg, err := cfg.ControlConfig()
	if err != nil {
		t.Fatal(err)
	}
	board := &hw.Board{Name: "fake", Encoders: f, PWM: f, IMU: f, Ranges: f}
	if f.sw != nil {
		board.Switch = f
	}
	board.AddCloser(f)
	return newDaemon(cfg, control.New(ccfg), board)
}

func TestMotorTick_EncoderDelta(t *testing.T) {
	f := &fakeBoard{counts: [][2]uint16{{65530, 100}, {4, 97}, {10, 97}}}
	d := newTestDaemon(t, f, nil)
	for i := 0; i < 3; i++ {
		d.motorTick()
	}
	// первое показание только запоминается, затем переход через 0
	st := d.ctl.Status()
	if st.Left != 16 || st.Right != -3 {
		t.Errorf("wheels %d/%d, want 16/-3", st.Left, st.Right)
	}
	if len(f.pwm) != 3 || f.pwm[2] != [2]int32{128, 128} {
		t.Errorf("pwm %v", f.pwm)
	}
}

func TestMotorTick_EncoderError(t *testing.T) {
	f := &fakeBoard{encErr: errors.New("timeout")}
	d := newTestDaemon(t, f, nil)
	d.motorTick()
	d.motorTick()
	st := d.ctl.Status()
	if st.EncoderErrors != 2 || st.Tick != 2 || st.Left != 0 {
		t.Errorf("status %+v", st)
	}
}

func TestMotorTick_RangeEvery(t *testing.T) {
	tests := []struct {
		every int
		want  int
	}{
		{0, 0},
		{25, 2},
		{1, 30},
	}
	for _, tt := range tests {
		f := &fakeBoard{counts: [][2]uint16{{0, 0}}}
		d := newTestDaemon(t, f, func(c *config.Config) { c.Device.RangeEvery = tt.every })
		for i := 0; i < 30; i++ {
			d.motorTick()
		}
		if f.ranges != tt.want {
			t.Errorf("range_every %d: %d reads, want %d", tt.every, f.ranges, tt.want)
		}
	}
}

func TestMotorTick_Switch(t *testing.T) {
	f := &fakeBoard{counts: [][2]uint16{{0, 0}}, sw: []bool{false, false, true}}
	d := newTestDaemon(t, f, nil)
	d.motorTick()
	d.motorTick()
	if d.ctl.Balancing() {
		t.Fatal("balancing before switch edge")
	}
	d.motorTick()
	if !d.ctl.Balancing() {
		t.Error("switch edge did not enable balance")
	}
}

func TestSensorTick(t *testing.T) {
	f := &fakeBoard{}
	d := newTestDaemon(t, f, nil)
	d.sensorTick()
	if f.samples != 1 {
		t.Errorf("samples %d", f.samples)
	}
	f.imuErr = errors.New("bad frame")
	d.sensorTick()
	if st := d.ctl.Status(); st.IMUErrors != 1 {
		t.Errorf("imu errors %d", st.IMUErrors)
	}
}

func TestShutdown(t *testing.T) {
	f := &fakeBoard{counts: [][2]uint16{{0, 0}}}
	d := newTestDaemon(t, f, nil)
	if err := d.shutdown(); err != nil {
		t.Fatal(err)
	}
	if !f.closed || len(f.pwm) != 1 || f.pwm[0] != [2]int32{128, 128} {
		t.Errorf("closed=%v pwm=%v", f.closed, f.pwm)
	}
}

func TestThrottle(t *testing.T) {
	th := throttle{every: 250}
	var n int
	for tick := uint64(0); tick < 1000; tick++ {
		if th.allow(tick) {
			n++
		}
	}
	if n != 4 {
		t.Errorf("allowed %d, want 4", n)
	}
}

func TestOpenBoard(t *testing.T) {
	cfg := config.Default()
	board, err := OpenBoard(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if board.Ranges == nil || board.Switch == nil {
		t.Errorf("sim board %+v", board)
	}
	if err := board.Close(); err != nil {
		t.Error(err)
	}

	cfg.Device.Driver = "stepper"
	if _, err := OpenBoard(cfg); !errors.Is(err, hw.ErrUnknownDriver) {
		t.Errorf("unknown driver: %v", err)
	}
}

func boolPtr(v bool) *bool { return &v }

func TestRunDaemon_Sim(t *testing.T) {
	cfg := config.Default()
	cfg.API.Enable = boolPtr(false)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := RunDaemon(ctx, cfg); err != nil {
		t.Fatal(err)
	}
}

func TestCalibrate_Sim(t *testing.T) {
	cfg := config.Default()
	cfg.IMU.CalibrationTime = "200ms"
	cfg.IMU.CalibrationTrim = "40ms"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	x, z, err := Calibrate(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	// модель в покое выдаёт округлённые нейтрали по умолчанию
	if x != fixed.FromInt(123) || z != fixed.FromInt(119) {
		t.Errorf("neutral %v %v", x, z)
	}
}
