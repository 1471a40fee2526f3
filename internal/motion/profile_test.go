package motion

import (
	"math"
	"math/rand"
	"testing"

	"github.com/shiwa/balancer/internal/fixed"
)

func TestSumToN(t *testing.T) {
	var want int64
	for n := int32(0); n <= 2000; n++ {
		want += int64(n)
		if got := SumToN(n); got != want {
			t.Fatalf("SumToN(%d) = %d, want %d", n, got, want)
		}
	}
	if got := SumToN(-1); got != 0 {
		t.Errorf("SumToN(-1) = %d, want 0", got)
	}
	if got := SumToN(2560000); got != 3276801280000 {
		t.Errorf("SumToN(2560000) = %d", got)
	}
}

// Формула пути торможения совпадает с потиковой симуляцией торможения,
// в которой скорость падает на a за тик, а путь копится в 24.8.
func TestStopDistance_MatchesSimulation(t *testing.T) {
	for a := int32(1); a <= 40; a++ {
		for k := int32(0); k <= 60; k++ {
			v := k * a
			var dist int32
			for vel := v; vel > 0; {
				vel -= a
				dist += vel
			}
			want := (dist + 128) / 256
			for _, sign := range []int32{1, -1} {
				if got := StopDistance(fixed.F24(a), fixed.F24(sign*v)); got != want {
					t.Fatalf("StopDistance(a=%d, v=%d) = %d, simulation %d", a, sign*v, got, want)
				}
			}
		}
	}
}

func TestStopDistance_ZeroAccel(t *testing.T) {
	if got := StopDistance(0, 0); got != 0 {
		t.Errorf("StopDistance(0, 0) = %d", got)
	}
	if got := StopDistance(0, 10); got <= 1<<30 {
		t.Errorf("StopDistance(0, 10) = %d, want saturated", got)
	}
}

func TestStopDistance_Large(t *testing.T) {
	tests := []struct {
		a, v fixed.F24
		want int32
	}{
		// 10000 шагов/тик при 1/256 шага/тик²
		{1, fixed.FromInt24(10000), math.MaxInt32},
		{fixed.FromInt24(1), fixed.FromInt24(10000), 49995000},
		{1, fixed.F24(math.MaxInt32), math.MaxInt32},
	}
	for _, tt := range tests {
		if got := StopDistance(tt.a, tt.v); got != tt.want {
			t.Errorf("StopDistance(%d, %d) = %d, want %d", tt.a, tt.v, got, tt.want)
		}
	}
}

func TestProfiler_NeverOvershootsTarget(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	var p Profiler
	tick := uint32(0)
	for round := 0; round < 200; round++ {
		cmd := Command{
			Accel:    fixed.F24(r.Int31n(20) + 1),
			Velocity: fixed.F24(r.Int31n(1024) - 512),
			Tick:     tick,
		}
		p.Submit(cmd)
		for i := 0; i < 50; i++ {
			prev := p.Velocity()
			p.Step(tick)
			tick++
			v, target := p.Velocity(), p.Target()
			if d := fixed.Abs(v - prev); d > p.Accel() {
				t.Fatalf("velocity jumped by %d with accel %d", d, p.Accel())
			}
			if prev <= target && v > target || prev >= target && v < target {
				t.Fatalf("velocity %d overshot target %d (prev %d)", v, target, prev)
			}
		}
	}
}

func TestProfiler_VelocityCommandHasNoStopPoint(t *testing.T) {
	var p Profiler
	p.Submit(Command{Accel: 4, Velocity: 256, Steps: 0, Tick: 0})
	for tick := uint32(0); tick < 500; tick++ {
		p.Step(tick)
		if st, _ := p.Stop(); st != StopNone {
			t.Fatalf("tick %d: stop state %v, want none", tick, st)
		}
	}
	if p.Velocity() != 256 {
		t.Errorf("velocity = %d, want 256", p.Velocity())
	}
	if p.Position() < 400 {
		t.Errorf("position = %d, expected unbounded travel", p.Position())
	}
}

func TestProfiler_Move(t *testing.T) {
	tests := []struct {
		name  string
		accel fixed.F24
		vel   fixed.F24
		steps int32
		want  int32
	}{
		{"forward", 2, 256, 500, 500},
		{"backward", 2, -256, 300, -300},
		{"fast", 5, 700, 1000, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Profiler
			p.Submit(Command{Accel: tt.accel, Velocity: tt.vel, Steps: tt.steps})
			p.Step(0)
			if st, at := p.Stop(); st != StopArmed || at != tt.want {
				t.Fatalf("after activation stop=%v at=%d", st, at)
			}
			committed := false
			for tick := uint32(1); tick < 5000; tick++ {
				p.Step(tick)
				st, _ := p.Stop()
				if st == StopCommitted {
					committed = true
				}
				if committed && st == StopNone {
					break
				}
			}
			if !committed {
				t.Fatal("deceleration never committed")
			}
			if p.Velocity() != 0 {
				t.Errorf("velocity = %d after stop", p.Velocity())
			}
			if d := fixed.Abs(p.Position() - tt.want); d > 2 {
				t.Errorf("position = %d, want %d", p.Position(), tt.want)
			}
		})
	}
}

// После начала торможения новая целевая скорость не задаётся профилем,
// торможение идёт до нуля.
func TestProfiler_CommitIsFinal(t *testing.T) {
	var p Profiler
	p.Submit(Command{Accel: 8, Velocity: 512, Steps: 40})
	var tick uint32
	for ; tick < 1000; tick++ {
		p.Step(tick)
		if st, _ := p.Stop(); st == StopCommitted {
			break
		}
	}
	for ; tick < 1000; tick++ {
		p.Step(tick)
		if p.Target() != 0 {
			t.Fatalf("target changed to %d during committed stop", p.Target())
		}
		if st, _ := p.Stop(); st == StopNone {
			break
		}
	}
	if p.Velocity() != 0 {
		t.Errorf("velocity = %d", p.Velocity())
	}
}

func TestProfiler_PendingActivation(t *testing.T) {
	var p Profiler
	p.Submit(Command{Accel: 1, Velocity: 100, Tick: 10})
	p.Submit(Command{Accel: 3, Velocity: -60, Tick: 10})
	for tick := uint32(0); tick < 10; tick++ {
		p.Step(tick)
		if !p.Pending() || p.Velocity() != 0 {
			t.Fatalf("tick %d: command activated early", tick)
		}
	}
	p.Step(10)
	if p.Pending() {
		t.Fatal("command not activated at its tick")
	}
	if p.Accel() != 3 || p.Target() != -60 {
		t.Errorf("active accel=%d target=%d, want the overwriting command", p.Accel(), p.Target())
	}
}

// Скорость меньше шага за тик всё равно даёт верную среднюю скорость.
func TestProfiler_FractionalPosition(t *testing.T) {
	var p Profiler
	p.Submit(Command{Accel: 0x40, Velocity: 0x40})
	for tick := uint32(0); tick < 400; tick++ {
		p.Step(tick)
	}
	if p.Position() != 100 {
		t.Errorf("position = %d, want 100", p.Position())
	}
	p.ResetPosition()
	if p.Position() != 0 {
		t.Errorf("ResetPosition left %d", p.Position())
	}
}

func TestProfiler_Halt(t *testing.T) {
	var p Profiler
	p.Submit(Command{Accel: 10, Velocity: 300, Steps: 1000})
	for tick := uint32(0); tick < 40; tick++ {
		p.Step(tick)
	}
	p.Submit(Command{Accel: 10, Velocity: 300, Tick: 1000})
	p.Halt()
	if p.Pending() || p.Target() != 0 {
		t.Fatalf("Halt left pending=%v target=%d", p.Pending(), p.Target())
	}
	for tick := uint32(40); tick < 100; tick++ {
		p.Step(tick)
	}
	if p.Velocity() != 0 {
		t.Errorf("velocity = %d after Halt", p.Velocity())
	}
}
