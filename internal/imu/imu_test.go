package imu

import (
	"math/rand"
	"testing"

	"github.com/shiwa/balancer/internal/fixed"
)

func TestGyro_Rate(t *testing.T) {
	g := NewGyro(Variant{XNeutral: fixed.FromInt(100), ZNeutral: fixed.FromInt(50), DegsPerBit: fixed.One})
	if got := g.Rate(AxisX, 110); got != fixed.FromInt(10) {
		t.Errorf("Rate(x, 110) = %v, want 10", got)
	}
	if got := g.Rate(AxisZ, 40); got != fixed.FromInt(-10) {
		t.Errorf("Rate(z, 40) = %v, want -10", got)
	}

	d := NewGyro(DefaultVariant)
	if got := d.Rate(AxisX, 123); got != 5555 {
		t.Errorf("default Rate(x, 123) = %d, want 5555", got)
	}
	d.SetNeutral(fixed.FromInt(123), fixed.FromInt(119))
	if x, z := d.Neutral(); x != fixed.FromInt(123) || z != fixed.FromInt(119) {
		t.Errorf("Neutral() = %v, %v", x, z)
	}
	if got := d.Rate(AxisX, 123); got != 0 {
		t.Errorf("Rate at neutral = %d, want 0", got)
	}
}

func TestLookupVariant(t *testing.T) {
	for _, name := range []string{"", "default", "simple-filter", "complex-filter"} {
		if _, err := LookupVariant(name); err != nil {
			t.Errorf("LookupVariant(%q): %v", name, err)
		}
	}
	if _, err := LookupVariant("nope"); err == nil {
		t.Error("expected error for unknown variant")
	}
}

func TestAccel(t *testing.T) {
	a := NewAccel(DefaultAccel)
	if got := a.Read(); got != 0 {
		t.Errorf("Read before first block = %v, want 0", got)
	}
	for i := 0; i < 9; i++ {
		if a.Add(25360) {
			t.Fatalf("published after %d samples", i+1)
		}
	}
	if !a.Add(25360) {
		t.Fatal("expected publish on 10th sample")
	}
	if got := a.Read(); got != fixed.One {
		t.Errorf("Read() = %v, want 1g", got)
	}

	b := NewAccel(AccelConfig{ZeroG: 0, OneG: 1, Average: 10})
	for i := int32(1); i <= 10; i++ {
		b.Add(i)
	}
	// (55 + 5) / 10
	if got := b.Raw(); got != 6 {
		t.Errorf("rounded average = %d, want 6", got)
	}
}

// Калибровка по 1250 отсчётам с отбрасыванием 250 крайних с каждой стороны
// даёт ту же нейтраль, что и прямой расчёт усечённого среднего.
func TestCalibration_TrimmedMean(t *testing.T) {
	var samples []int32
	for i := 0; i < 250; i++ {
		samples = append(samples, 0, 255)
	}
	for i := 0; i < 375; i++ {
		samples = append(samples, 122, 123)
	}
	r := rand.New(rand.NewSource(7))
	r.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })

	c, err := NewCalibration(1250, 250)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range samples {
		done := c.Add(v, v+1)
		if done != (i == len(samples)-1) {
			t.Fatalf("Done=%v at sample %d", done, i)
		}
	}
	x, z := c.Result()
	if want := fixed.FromFloat(122.5); x != want {
		t.Errorf("x neutral = %d, want %d", x, want)
	}
	if want := fixed.FromFloat(123.5); z != want {
		t.Errorf("z neutral = %d, want %d", z, want)
	}
}

func TestTrimmedNeutral(t *testing.T) {
	tests := []struct {
		name    string
		samples []int32
		trim    int
		want    fixed.F16
	}{
		{"thirds", []int32{100, 1, 2, 1, -100}, 1, 65536 + 65536/3},
		{"no trim", []int32{4, 4}, 0, fixed.FromInt(4)},
		{"all trimmed", []int32{1, 2}, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrimmedNeutral(tt.samples, tt.trim); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewCalibration_Invalid(t *testing.T) {
	if _, err := NewCalibration(500, 250); err == nil {
		t.Error("expected error when trim consumes all samples")
	}
}
