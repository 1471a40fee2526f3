package sim

import (
	"math"
	"testing"

	"github.com/shiwa/balancer/internal/hw"
)

func run(s *Sim, n int, l, r int32) {
	for i := 0; i < n; i++ {
		s.WritePWM(l, r)
	}
}

func TestSim_AtRest(t *testing.T) {
	s := New(DefaultConfig())
	run(s, 100, 128, 128)
	st := s.State()
	if st.Tilt != 0 || st.Position != 0 || st.Steps != 100 {
		t.Errorf("state %+v", st)
	}
	l, r, _ := s.ReadEncoders()
	if l != 0 || r != 0 {
		t.Errorf("encoders %d/%d", l, r)
	}
	imu, _ := s.ReadIMU()
	if imu != (hw.IMUSample{GyroX: 123, GyroZ: 119, Accel: 20230}) {
		t.Errorf("imu %+v", imu)
	}
}

func TestSim_FallsWithoutControl(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tilt0 = 1
	s := New(cfg)
	run(s, 125, 128, 128)
	st := s.State()
	if st.Tilt <= 5 || st.Tilt >= 90 {
		t.Errorf("tilt after 0.5 s = %.2f, want falling forward", st.Tilt)
	}
	imu, _ := s.ReadIMU()
	if imu.GyroX <= 123 || imu.Accel <= 20230 {
		t.Errorf("imu %+v does not show forward fall", imu)
	}
	run(s, 1000, 128, 128)
	if st := s.State(); math.Abs(st.Tilt-90) > 1e-9 {
		t.Errorf("tilt on the ground = %.2f", st.Tilt)
	}
}

func TestSim_DriveForward(t *testing.T) {
	s := New(DefaultConfig())
	run(s, 10, 255, 255)
	st := s.State()
	if st.Position <= 0 || st.Velocity <= 0 {
		t.Errorf("state %+v", st)
	}
	// разгон основания опрокидывает платформу назад
	if st.Tilt >= 0 {
		t.Errorf("tilt %.3f, want backward", st.Tilt)
	}
	l, r, _ := s.ReadEncoders()
	if int16(l) <= 0 || l != r {
		t.Errorf("encoders %d/%d", l, r)
	}
}

func TestSim_TurnLeft(t *testing.T) {
	s := New(DefaultConfig())
	run(s, 10, 78, 178)
	st := s.State()
	if st.Yaw <= 0 {
		t.Errorf("yaw %.2f, want counter-clockwise", st.Yaw)
	}
	l, r, _ := s.ReadEncoders()
	if hw.CounterDelta(0, l) >= 0 || hw.CounterDelta(0, r) <= 0 {
		t.Errorf("encoders %d/%d", int16(l), int16(r))
	}
	imu, _ := s.ReadIMU()
	if imu.GyroZ <= 119 {
		t.Errorf("gyro z %d", imu.GyroZ)
	}
	rg, _ := s.ReadRanges()
	// нос повернул к левой стене
	if rg.LeftFront >= rg.LeftRear || rg.RightFront <= rg.RightRear {
		t.Errorf("ranges %+v", rg)
	}
}

func TestSim_Ranges(t *testing.T) {
	s := New(DefaultConfig())
	rg, _ := s.ReadRanges()
	want := hw.Ranges{LeftFront: 600, LeftRear: 600, RightFront: 600, RightRear: 600}
	if rg != want {
		t.Errorf("centered ranges %+v", rg)
	}

	cfg := DefaultConfig()
	cfg.Corridor = 0
	rg, _ = New(cfg).ReadRanges()
	if rg.LeftFront != hw.OutOfRange || rg.RightRear != hw.OutOfRange {
		t.Errorf("open space ranges %+v", rg)
	}

	cfg = DefaultConfig()
	cfg.Corridor = 3
	rg, _ = New(cfg).ReadRanges()
	if rg.LeftFront != hw.OutOfRange {
		t.Errorf("wall beyond max range: %+v", rg)
	}
}

func TestSim_Switch(t *testing.T) {
	s := New(DefaultConfig())
	b := s.Board()
	if on, _ := b.Switch.BalanceSwitch(); on {
		t.Error("switch on by default")
	}
	s.SetSwitch(true)
	if on, _ := b.Switch.BalanceSwitch(); !on {
		t.Error("switch not toggled")
	}
	if err := b.Close(); err != nil {
		t.Error(err)
	}
}
