package spiadc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// edgeTimeout ожидание фронта; ограничивает задержку остановки счётчика.
const edgeTimeout = 100 * time.Millisecond

// InPin вход с прерыванием по фронту; gpio.PinIn подходит.
type InPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// OutPin выход ШИМ; gpio.PinOut подходит.
type OutPin interface {
	Out(l gpio.Level) error
	PWM(duty gpio.Duty, f physic.Frequency) error
}

// Counter программный квадратурный счётчик одного колеса: фронты канала A,
// направление по уровню канала B.
type Counter struct {
	a, b    InPin
	count   atomic.Uint32
	stopped atomic.Bool
	done    chan struct{}
}

// NewCounter настраивает входы и запускает горутину счёта.
func NewCounter(a, b InPin) (*Counter, error) {
	if err := a.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, errors.Wrap(err, "encoder channel A")
	}
	if err := b.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, errors.Wrap(err, "encoder channel B")
	}
	c := &Counter{a: a, b: b, done: make(chan struct{})}
	go c.run()
	return c, nil
}

func (c *Counter) run() {
	defer close(c.done)
	for !c.stopped.Load() {
		if !c.a.WaitForEdge(edgeTimeout) {
			continue
		}
		c.step(c.a.Read(), c.b.Read())
	}
}

// step после фронта A: при разных уровнях вперёд, при равных назад.
func (c *Counter) step(a, b gpio.Level) {
	if a != b {
		c.count.Add(1)
	} else {
		c.count.Add(^uint32(0))
	}
}

// Value младшие 16 бит счётчика.
func (c *Counter) Value() uint16 { return uint16(c.count.Load()) }

// Close останавливает горутину счёта.
func (c *Counter) Close() error {
	c.stopped.Store(true)
	<-c.done
	return nil
}

// Encoders пара счётчиков как hw.Encoders.
type Encoders struct {
	Left, Right *Counter
}

// ReadEncoders показания счётчиков.
func (e Encoders) ReadEncoders() (left, right uint16, err error) {
	return e.Left.Value(), e.Right.Value(), nil
}

// Motors ШИМ двух моторов: скважность 0..255 переводится в gpio.Duty.
type Motors struct {
	mu          sync.Mutex
	left, right OutPin
	freq        physic.Frequency
}

// NewMotors выходы ШИМ с частотой freq.
func NewMotors(left, right OutPin, freq physic.Frequency) *Motors {
	return &Motors{left: left, right: right, freq: freq}
}

// WritePWM задаёт скважность обоих моторов.
func (m *Motors) WritePWM(left, right int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.left.PWM(duty(left), m.freq); err != nil {
		return errors.Wrap(err, "left motor pwm")
	}
	if err := m.right.PWM(duty(right), m.freq); err != nil {
		return errors.Wrap(err, "right motor pwm")
	}
	return nil
}

// Close снимает ШИМ с выходов.
func (m *Motors) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return multierr.Append(m.left.Out(gpio.Low), m.right.Out(gpio.Low))
}

func duty(v int32) gpio.Duty {
	v = min(max(v, 0), 255)
	return gpio.Duty(int64(gpio.DutyMax) * int64(v) / 255)
}

// Switch выключатель баланса на землю: низкий уровень означает включён.
type Switch struct {
	pin InPin
}

// NewSwitch настраивает вход с подтяжкой.
func NewSwitch(pin InPin) (*Switch, error) {
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, errors.Wrap(err, "balance switch")
	}
	return &Switch{pin: pin}, nil
}

// BalanceSwitch положение выключателя.
func (s *Switch) BalanceSwitch() (bool, error) {
	return s.pin.Read() == gpio.Low, nil
}
