// Package trig содержит целочисленную тригонометрию по таблицам с шагом
// в один градус: синус и косинус в формате Q14, арктангенс по таблице
// тангенсов, обратные синус и косинус двоичным поиском, целый корень.
package trig

import "math"

// Q14 единица табличных синуса и косинуса.
const Q14 = 1 << 14

var (
	sinTable [360]int32
	cosTable [360]int32
	// tanTable[i] = atan(i/128) в целых градусах.
	tanTable [129]int32
)

func init() {
	for i := 0; i <= 128; i++ {
		tanTable[i] = int32(math.Atan(float64(i)/128) * 180 / math.Pi)
	}
	for i := 0; i < 360; i++ {
		r := math.Pi / 180 * float64(i)
		sinTable[i] = int32(math.Sin(r) * Q14)
		cosTable[i] = int32(math.Cos(r) * Q14)
	}
}

// Sin возвращает синус угла в градусах (Q14). Угол приводится к [0, 360).
func Sin(deg int) int32 { return sinTable[Normalize(deg)] }

// Cos возвращает косинус угла в градусах (Q14). Угол приводится к [0, 360).
func Cos(deg int) int32 { return cosTable[Normalize(deg)] }

// Normalize приводит угол в целых градусах к [0, 360).
func Normalize(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Atan2 возвращает угол вектора (x, y) в целых градусах [0, 360).
// Октант определяется по знакам и соотношению модулей, отношение меньшей
// компоненты к большей (в единицах 1/128) индексирует таблицу тангенсов.
// Для (0, 0) возвращает 0.
func Atan2(y, x int64) int {
	if x == 0 && y == 0 {
		return 0
	}
	var (
		tan  int64
		add  bool
		base int32
	)
	switch {
	case x >= 0 && y >= 0:
		if x > y {
			tan, add, base = (y<<7)/x, true, 0
		} else {
			tan, add, base = (x<<7)/y, false, 90
		}
	case x >= 0:
		if x > -y {
			tan, add, base = (-y<<7)/x, false, 360
		} else {
			tan, add, base = (x<<7)/-y, true, 270
		}
	case y >= 0:
		if -x > y {
			tan, add, base = (y<<7)/-x, false, 180
		} else {
			tan, add, base = (-x<<7)/y, true, 90
		}
	default:
		if -x > -y {
			tan, add, base = (y<<7)/x, true, 180
		} else {
			tan, add, base = (x<<7)/y, false, 270
		}
	}
	t := tanTable[tan]
	if add {
		t = base + t
	} else {
		t = base - t
	}
	if t == 360 {
		t = 0
	}
	return int(t)
}

// Asin возвращает угол в целых градусах по значению синуса в Q14.
// Для отрицательных значений результат лежит в [270, 359], иначе в [0, 90].
// Из двух соседних табличных значений выбирается ближайшее.
func Asin(v int32) int {
	lo, hi := 0, 90
	if v < 0 {
		lo, hi = 270, 359
	}
	for lo < hi-1 {
		mid := (lo + hi) >> 1
		if sinTable[mid] < v {
			lo = mid
		} else {
			hi = mid
		}
	}
	if v-sinTable[lo] > sinTable[hi]-v {
		return hi
	}
	return lo
}

// Acos возвращает угол в целых градусах [0, 180] по значению косинуса в Q14.
func Acos(v int32) int {
	lo, hi := 0, 180
	for lo < hi-1 {
		mid := (lo + hi) >> 1
		if cosTable[mid] > v {
			lo = mid
		} else {
			hi = mid
		}
	}
	if cosTable[lo]-v > v-cosTable[hi] {
		return hi
	}
	return lo
}

// Sqrt возвращает квадратный корень, округлённый до ближайшего целого.
// Начальное приближение берётся по старшему биту, затем итерации Ньютона.
func Sqrt(x uint32) uint32 {
	if x == 0 {
		return 0
	}
	n := uint64(x)
	shift := 0
	for n>>uint(shift) > 0 {
		shift += 2
	}
	r := uint64(1) << uint(shift/2)
	for {
		next := (r + n/r) >> 1
		if next >= r {
			break
		}
		r = next
	}
	// r = floor(sqrt(x)); середина между r и r+1 лежит в r*r+r+0.25
	if n-r*r > r {
		r++
	}
	return uint32(r)
}
