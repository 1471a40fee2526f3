// Package hw описывает внешнее железо контура управления: энкодеры,
// ШИМ моторов, АЦП гироскопа и акселерометра, дальномеры и выключатель
// баланса. Реализации лежат в подпакетах boardlink, spiadc и sim.
package hw

import (
	"errors"
	"io"

	"go.uber.org/multierr"
)

// ErrUnknownDriver неизвестное имя драйвера в конфиге.
var ErrUnknownDriver = errors.New("unknown hardware driver")

// Encoders квадратурные энкодеры колёс. Возвращает показания 16-битных
// счётчиков; приращения считает CounterDelta.
type Encoders interface {
	ReadEncoders() (left, right uint16, err error)
}

// PWM драйвер моторов: скважность в диапазоне [16, 255], 128 стоп.
type PWM interface {
	WritePWM(left, right int32) error
}

// IMUSample сырые отсчёты АЦП гироскопа и акселерометра.
type IMUSample struct {
	GyroX int32 // тангаж
	GyroZ int32 // рыскание
	Accel int32 // продольная ось
}

// IMU источник сырых отсчётов инерциального датчика.
type IMU interface {
	ReadIMU() (IMUSample, error)
}

// Ranges показания дальномеров в миллиметрах; OutOfRange (-1) если нет отражения.
type Ranges struct {
	LeftFront  int32
	LeftRear   int32
	RightFront int32
	RightRear  int32
}

// OutOfRange показание дальномера без отражения.
const OutOfRange = -1

// RangeFinder дальномеры по бокам платформы.
type RangeFinder interface {
	ReadRanges() (Ranges, error)
}

// BalanceSwitch аппаратный выключатель баланса.
type BalanceSwitch interface {
	BalanceSwitch() (on bool, err error)
}

// Board набор устройств одной платы. Ranges и Switch могут отсутствовать.
type Board struct {
	Name     string
	Encoders Encoders
	PWM      PWM
	IMU      IMU
	Ranges   RangeFinder
	Switch   BalanceSwitch

	closers []io.Closer
}

// AddCloser регистрирует ресурс, закрываемый в Close.
func (b *Board) AddCloser(c io.Closer) {
	b.closers = append(b.closers, c)
}

// Close закрывает все ресурсы платы и объединяет ошибки.
func (b *Board) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.closers[i].Close())
	}
	b.closers = nil
	return err
}

// CounterDelta приращение 16-битного счётчика с учётом переполнения.
func CounterDelta(prev, cur uint16) int32 {
	return int32(int16(cur - prev))
}
