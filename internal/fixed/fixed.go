// Package fixed содержит арифметику с фиксированной точкой, на которой
// построены все вычисления контура управления: формат 16.16 (углы, скорости
// гироскопа, фильтр Калмана, курс) и формат 24.8 (наклон, ПИД позиции и баланса).
package fixed

import (
	"cmp"
	"fmt"
)

// F16 число в формате 16.16 (16 бит дробной части).
type F16 int32

// F24 число в формате 24.8 (8 бит дробной части).
type F24 int32

const (
	// One единица в формате 16.16.
	One F16 = 1 << 16
	// PI число пи в формате 16.16 (3.14159).
	PI F16 = 205887
	// MaxF16 значение, которое возвращает деление на ноль.
	MaxF16 F16 = 0x7fffffff

	// One24 единица в формате 24.8.
	One24 F24 = 1 << 8
)

// FromInt переводит целое число в 16.16.
func FromInt(i int32) F16 { return F16(i * 65536) }

// FromFloat переводит float64 в 16.16 с отбрасыванием дробного остатка.
func FromFloat(f float64) F16 { return F16(f * 65536) }

// Float возвращает значение как float64.
func (a F16) Float() float64 { return float64(a) / 65536 }

// Mul умножает два числа 16.16. Знак учитывается отдельно: множители
// раскладываются по модулю на целую и дробную части, произведение
// дробных частей сдвигается, знак восстанавливается в конце.
// Переполнение 32 бит заворачивается, как у целочисленной арифметики.
func (a F16) Mul(b F16) F16 {
	x, y := int32(a), int32(b)
	var sign int32 = 1
	if x < 0 {
		sign = -sign
		x = -x
	}
	if y < 0 {
		sign = -sign
		y = -y
	}
	xf := x & 0xffff
	xi := int32((uint32(x) & 0xffff0000) >> 16)
	yf := y & 0xffff
	yi := int32((uint32(y) & 0xffff0000) >> 16)

	ff := int32((uint32(xf) * uint32(yf)) >> 16)
	sum := ff + xf*yi + xi*yf + (xi*yi)<<16
	return F16(sum * sign)
}

// Div делит a на b через 64-битный промежуточный результат с округлением.
// При b == 0 возвращает MaxF16: контур управления не должен падать на этом пути.
func (a F16) Div(b F16) F16 {
	if b == 0 {
		return MaxF16
	}
	num := int64(a) << 16
	den := int64(b)
	return F16(int32((num + den/2) / den))
}

// Round округляет до целого, прибавляя половину младшего разряда.
func (a F16) Round() int32 { return (int32(a) + 32768) >> 16 }

// ToF24 переводит 16.16 в 24.8 (деление с отбрасыванием к нулю).
func (a F16) ToF24() F24 { return F24(int32(a) / 256) }

// String печатает число в виде "-12.3456".
func (a F16) String() string {
	v := int64(a)
	s := ""
	if v < 0 {
		s = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%04d", s, v/65536, ((v%65536)*10000)/65536)
}

// FromInt24 переводит целое число в 24.8.
func FromInt24(i int32) F24 { return F24(i * 256) }

// FromFloat24 переводит float64 в 24.8 с отбрасыванием дробного остатка.
func FromFloat24(f float64) F24 { return F24(f * 256) }

// Float возвращает значение как float64.
func (a F24) Float() float64 { return float64(a) / 256 }

// Mul умножает два числа 24.8 длинным умножением по частям.
// Целая часть берётся арифметическим сдвигом, дробная маской, поэтому
// для отрицательных множителей результат округляется вниз, а не к нулю.
func (a F24) Mul(b F24) F24 {
	x, y := int32(a), int32(b)
	xf, yf := x&0xff, y&0xff
	xi, yi := x>>8, y>>8
	return F24(((xf * yf) >> 8) + xf*yi + xi*yf + (xi*yi)<<8)
}

// Round округляет до целого, прибавляя половину младшего разряда.
func (a F24) Round() int32 { return (int32(a) + 128) >> 8 }

// ToF16 переводит 24.8 в 16.16.
func (a F24) ToF16() F16 { return F16(int32(a) * 256) }

// String печатает число в виде "-1.50".
func (a F24) String() string {
	v := int64(a)
	s := ""
	if v < 0 {
		s = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", s, v/256, ((v%256)*100)/256)
}

// Clamp ограничивает v диапазоном [lo, hi].
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Abs возвращает модуль целого со знаком.
func Abs[T ~int32 | ~int64 | ~int](v T) T {
	if v < 0 {
		return -v
	}
	return v
}
