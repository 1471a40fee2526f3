package pid

import (
	"math/rand"
	"testing"

	"github.com/shiwa/balancer/internal/fixed"
)

func TestBalance_ProportionalBitExact(t *testing.T) {
	c := Balance(Gains[fixed.F24]{Kp: 0x4000})
	out, sat := c.Update(256)
	want := int32(fixed.F24(0x4000).Mul(256)) >> 8
	if out != want || out != 64 {
		t.Errorf("Update(1.0) = %d, want %d", out, want)
	}
	if sat {
		t.Error("unexpected saturation")
	}
	if prev, integ := c.State(); prev != 256 || integ != 256 {
		t.Errorf("state prev=%d integ=%d, want 256/256", prev, integ)
	}
}

func TestBalance_AntiWindup(t *testing.T) {
	c := Balance(Gains[fixed.F24]{Kp: 0x4000, Kd: 0xf000, Ki: 0x333})
	c.Update(10)
	_, integBefore := c.State()
	for i := 0; i < 100; i++ {
		out, sat := c.Update(fixed.FromInt24(5))
		if !sat || out != 127 {
			t.Fatalf("tick %d: out=%d sat=%v, want 127 saturated", i, out, sat)
		}
		if _, integ := c.State(); integ != integBefore {
			t.Fatalf("integral grew while saturated: %d -> %d", integBefore, integ)
		}
	}
	out, sat := c.Update(fixed.FromInt24(-5))
	if !sat || out != -127 {
		t.Errorf("negative saturation: out=%d sat=%v", out, sat)
	}
}

func TestBalance_OutputBounded(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	c := Balance(Gains[fixed.F24]{Kp: 0x4000, Kd: 0xf000, Ki: 0x333})
	for i := 0; i < 50000; i++ {
		e := fixed.F24(r.Int31n(20*256) - 10*256)
		_, integBefore := c.State()
		out, sat := c.Update(e)
		if out > 127 || out < -127 {
			t.Fatalf("output %d out of bounds", out)
		}
		_, integ := c.State()
		if sat && integ != integBefore {
			t.Fatalf("integral changed on saturated tick")
		}
		if !sat && integ != integBefore+e {
			t.Fatalf("integral %d, want %d", integ, integBefore+e)
		}
	}
}

func TestHeading(t *testing.T) {
	c := Heading(Gains[fixed.F16]{Kp: 0xa0000})
	if out, sat := c.Update(fixed.FromInt(2)); out != 20 || sat {
		t.Errorf("Update(2deg) = %d sat=%v, want 20", out, sat)
	}
	if out, sat := c.Update(fixed.FromInt(10)); out != 43 || !sat {
		t.Errorf("Update(10deg) = %d sat=%v, want 43 saturated", out, sat)
	}
	if out, _ := c.Update(fixed.FromInt(-10)); out != -43 {
		t.Errorf("Update(-10deg) = %d, want -43", out)
	}
	c.Reset()
	if prev, integ := c.State(); prev != 0 || integ != 0 {
		t.Errorf("Reset left prev=%d integ=%d", prev, integ)
	}
}

func TestPosition_Window(t *testing.T) {
	c := Position(Gains[fixed.F24]{Kp: 0x180, Kd: 0xf00, Ki: 0x4})
	// 1.5*10 + 15*10 = 165 (24.8), внутри окна
	out, sat := c.UpdateWindow(10, -256, 256)
	if out != 165 || sat {
		t.Fatalf("UpdateWindow(10) = %d sat=%v, want 165", out, sat)
	}
	if _, integ := c.State(); integ != 10 {
		t.Errorf("integ = %d, want 10", integ)
	}
	out, sat = c.UpdateWindow(1000, -256, 256)
	if out != 256 || !sat {
		t.Errorf("UpdateWindow(1000) = %d sat=%v, want 256 saturated", out, sat)
	}
	if prev, integ := c.State(); prev != 1000 || integ != 10 {
		t.Errorf("prev=%d integ=%d, want 1000/10", prev, integ)
	}
	out, sat = c.UpdateWindow(-1000, -100, 0)
	if out != -100 || !sat {
		t.Errorf("UpdateWindow(-1000) = %d sat=%v, want -100", out, sat)
	}
}
