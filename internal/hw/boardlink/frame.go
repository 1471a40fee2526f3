// Package boardlink драйвер платы моторов и АЦП на последовательном порту.
//
// Кадр: 0xA5 0x5A, класс, ID, длина (2 байта LE), данные, контрольная
// сумма Флетчера (2 байта) по классу, ID, длине и данным.
package boardlink

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Sync байты начала кадра
const (
	Sync1 = 0xA5
	Sync2 = 0x5A
)

// Классы и ID сообщений
const (
	ClassSensor = 0x01
	IDEncoders  = 0x01 // 2 x uint16 LE, счётчики левого и правого колеса
	IDIMU       = 0x02 // 3 x uint16 LE: гироскоп X, гироскоп Z, акселерометр
	IDRanges    = 0x03 // 4 x int16 LE, мм; отрицательное значение = нет отражения
	IDSwitch    = 0x04 // 1 байт, 0 или 1

	ClassCmd = 0x02
	IDPWM    = 0x01 // 2 байта: левый, правый
	IDPoll   = 0x02 // 1 байт: ID запрашиваемого сообщения ClassSensor
)

// MaxPayload ограничение длины данных одного кадра.
const MaxPayload = 256

const headerLen = 6

var (
	// ErrChecksum кадр с неверной контрольной суммой.
	ErrChecksum = errors.New("boardlink: checksum mismatch")
	// ErrTooLong длина данных больше MaxPayload.
	ErrTooLong = errors.New("boardlink: payload too long")
)

// Frame разобранный кадр.
type Frame struct {
	Class   uint8
	ID      uint8
	Payload []byte
}

// Checksum вычисляет контрольную сумму (без sync байтов)
func Checksum(data []byte) (ckA, ckB uint8) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// Encode собирает кадр: заголовок + данные + контрольная сумма
func Encode(class, id uint8, payload []byte) []byte {
	buf := make([]byte, 0, headerLen+len(payload)+2)
	buf = append(buf, Sync1, Sync2, class, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	ckA, ckB := Checksum(buf[2:])
	return append(buf, ckA, ckB)
}

// ReadFrame читает один кадр: пропускает байты до sync, затем класс, ID,
// длину, данные и контрольную сумму.
func ReadFrame(r io.Reader) (Frame, error) {
	var prev, b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Frame{}, err
		}
		if prev[0] == Sync1 && b[0] == Sync2 {
			break
		}
		prev = b
	}
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, errors.Wrap(err, "read header")
	}
	length := binary.LittleEndian.Uint16(hdr[2:4])
	if length > MaxPayload {
		return Frame{}, errors.Wrapf(ErrTooLong, "length %d", length)
	}
	rest := make([]byte, int(length)+2)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, errors.Wrap(err, "read payload")
	}
	body := append(hdr[:], rest[:length]...)
	ckA, ckB := Checksum(body)
	if rest[length] != ckA || rest[length+1] != ckB {
		return Frame{}, ErrChecksum
	}
	return Frame{Class: hdr[0], ID: hdr[1], Payload: rest[:length]}, nil
}
