package boardlink

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
	bugst "go.bug.st/serial"

	"github.com/shiwa/balancer/internal/hw"
)

// PortAuto в конфиге означает первый найденный последовательный порт.
const PortAuto = "auto"

// ErrNoPorts в системе нет последовательных портов.
var ErrNoPorts = errors.New("boardlink: no serial ports found")

// Link запрос-ответ с платой. Безопасен для одновременного использования
// из задачи моторов и задачи датчиков: обмены идут по очереди.
type Link struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	name string
}

// New оборачивает уже открытый порт.
func New(name string, port io.ReadWriteCloser) *Link {
	return &Link{port: port, name: name}
}

// Ports список последовательных портов системы.
func Ports() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}
	return ports, nil
}

// Open открывает последовательный порт. device == "auto" выбирает первый
// порт из Ports. timeout ограничивает ожидание ответа платы.
func Open(device string, baud int, timeout time.Duration) (*Link, error) {
	if device == PortAuto || device == "" {
		ports, err := Ports()
		if err != nil {
			return nil, err
		}
		if len(ports) == 0 {
			return nil, ErrNoPorts
		}
		device = ports[0]
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "serial open %s", device)
	}
	return New(device, p), nil
}

// Name путь к порту.
func (l *Link) Name() string { return l.name }

// Close закрывает порт
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

func (l *Link) send(class, id uint8, payload []byte) error {
	if l.port == nil {
		return errors.New("boardlink: port closed")
	}
	_, err := l.port.Write(Encode(class, id, payload))
	return errors.Wrapf(err, "write %02x/%02x", class, id)
}

// poll запрашивает сообщение ClassSensor и ждёт ответ ожидаемой длины.
func (l *Link) poll(id uint8, size int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.send(ClassCmd, IDPoll, []byte{id}); err != nil {
		return nil, err
	}
	f, err := ReadFrame(l.port)
	if err != nil {
		return nil, errors.Wrapf(err, "poll %02x", id)
	}
	if f.Class != ClassSensor || f.ID != id {
		return nil, errors.Errorf("poll %02x: unexpected reply %02x/%02x", id, f.Class, f.ID)
	}
	if len(f.Payload) != size {
		return nil, errors.Errorf("poll %02x: payload %d bytes, want %d", id, len(f.Payload), size)
	}
	return f.Payload, nil
}

// ReadEncoders счётчики колёс.
func (l *Link) ReadEncoders() (left, right uint16, err error) {
	p, err := l.poll(IDEncoders, 4)
	if err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint16(p[0:2]), binary.LittleEndian.Uint16(p[2:4]), nil
}

// ReadIMU отсчёты АЦП гироскопа и акселерометра.
func (l *Link) ReadIMU() (hw.IMUSample, error) {
	p, err := l.poll(IDIMU, 6)
	if err != nil {
		return hw.IMUSample{}, err
	}
	return hw.IMUSample{
		GyroX: int32(binary.LittleEndian.Uint16(p[0:2])),
		GyroZ: int32(binary.LittleEndian.Uint16(p[2:4])),
		Accel: int32(binary.LittleEndian.Uint16(p[4:6])),
	}, nil
}

// ReadRanges показания дальномеров.
func (l *Link) ReadRanges() (hw.Ranges, error) {
	p, err := l.poll(IDRanges, 8)
	if err != nil {
		return hw.Ranges{}, err
	}
	v := func(i int) int32 {
		mm := int32(int16(binary.LittleEndian.Uint16(p[2*i:])))
		if mm < 0 {
			return hw.OutOfRange
		}
		return mm
	}
	return hw.Ranges{LeftFront: v(0), LeftRear: v(1), RightFront: v(2), RightRear: v(3)}, nil
}

// BalanceSwitch положение выключателя баланса.
func (l *Link) BalanceSwitch() (bool, error) {
	p, err := l.poll(IDSwitch, 1)
	if err != nil {
		return false, err
	}
	return p[0] != 0, nil
}

// WritePWM отправляет скважность моторов; плата не подтверждает команду.
func (l *Link) WritePWM(left, right int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.send(ClassCmd, IDPWM, []byte{pwmByte(left), pwmByte(right)})
}

func pwmByte(v int32) byte {
	return byte(min(max(v, 0), 255))
}

// Board плата со всеми устройствами на одном порту.
func (l *Link) Board() *hw.Board {
	b := &hw.Board{
		Name:     "boardlink " + l.name,
		Encoders: l,
		PWM:      l,
		IMU:      l,
		Ranges:   l,
		Switch:   l,
	}
	b.AddCloser(l)
	return b
}
