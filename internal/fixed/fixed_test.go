package fixed

import (
	"math/rand"
	"testing"
)

func TestF16_Mul(t *testing.T) {
	tests := []struct {
		name string
		a, b F16
		want F16
	}{
		{"one by one", One, One, One},
		{"negative by positive", FromFloat(-1.5), FromInt(2), FromInt(-3)},
		{"both negative", FromFloat(-0.5), FromFloat(-0.5), FromFloat(0.25)},
		{"zero", 0, FromInt(123), 0},
		{"dt step", FromInt(100), 262, 26200},
		{"fraction truncated", 1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Mul(tt.b); got != tt.want {
				t.Errorf("Mul(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestF16_Div(t *testing.T) {
	if got := FromInt(3).Div(FromInt(2)); got != FromFloat(1.5) {
		t.Errorf("3/2 = %v, want 1.5", got)
	}
	if got := FromInt(-3).Div(FromInt(2)); got != FromFloat(-1.5) {
		t.Errorf("-3/2 = %v, want -1.5", got)
	}
	if got := FromInt(180).Div(PI); got.Round() != 57 {
		t.Errorf("180/pi = %v, want ~57.29", got)
	}
}

func TestF16_DivByZero(t *testing.T) {
	for _, a := range []F16{0, 1, -1, One, MaxF16, -MaxF16} {
		if got := a.Div(0); got != MaxF16 {
			t.Errorf("Div(%d, 0) = %d, want %d", a, got, MaxF16)
		}
	}
}

// Деление произведения на тот же множитель возвращает исходное значение
// с точностью до одного младшего разряда.
func TestF16_MulDivRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		a := F16(r.Int31n(1<<21) - 1<<20)
		b := F16(r.Int31n(98<<16) + 2<<16)
		if r.Intn(2) == 0 {
			b = -b
		}
		got := a.Mul(b).Div(b)
		if d := Abs(int32(got - a)); d > 1 {
			t.Fatalf("Div(Mul(%d, %d), %d) = %d, off by %d", a, b, b, got, d)
		}
	}
}

func TestF16_Round(t *testing.T) {
	tests := []struct {
		in   F16
		want int32
	}{
		{FromFloat(1.5), 2},
		{FromFloat(1.49), 1},
		{FromFloat(-1.5), -1},
		{FromFloat(-1.51), -2},
		{FromInt(359), 359},
	}
	for _, tt := range tests {
		if got := tt.in.Round(); got != tt.want {
			t.Errorf("Round(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestF24_Mul(t *testing.T) {
	// коэффициент баланса 0x4000 (64.0) на ошибку 1.0
	if got := F24(0x4000).Mul(256); got != 0x4000 {
		t.Errorf("Mul(0x4000, 256) = %#x, want 0x4000", got)
	}
	if got := F24(0x4000).Mul(256) >> 8; got != 64 {
		t.Errorf("Mul(0x4000, 256)>>8 = %d, want 64", got)
	}
	if got := F24(-256).Mul(256); got != -256 {
		t.Errorf("Mul(-1, 1) = %d, want -256", got)
	}
	// -1/256 * 0.5 округляется вниз
	if got := F24(-1).Mul(128); got != -1 {
		t.Errorf("Mul(-1, 128) = %d, want -1", got)
	}
	if got := F24(0x180).Mul(FromInt24(10)); got != FromInt24(15) {
		t.Errorf("1.5*10 = %v, want 15", got)
	}
}

func TestConversions(t *testing.T) {
	if got := FromInt(5).ToF24(); got != FromInt24(5) {
		t.Errorf("ToF24(5) = %d", got)
	}
	if got := FromInt24(-5).ToF16(); got != FromInt(-5) {
		t.Errorf("ToF16(-5) = %d", got)
	}
	if got := F16(-255).ToF24(); got != 0 {
		t.Errorf("ToF24 should truncate toward zero, got %d", got)
	}
	if s := FromFloat(-1.5).String(); s != "-1.5000" {
		t.Errorf("String() = %q", s)
	}
	if s := F24(384).String(); s != "1.50" {
		t.Errorf("String() = %q", s)
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(200, 16, 255); got != 200 {
		t.Errorf("Clamp in range = %d", got)
	}
	if got := Clamp(F24(-2000), -1280, 1280); got != -1280 {
		t.Errorf("Clamp low = %d", got)
	}
	if got := Clamp(300, 16, 255); got != 255 {
		t.Errorf("Clamp high = %d", got)
	}
}
