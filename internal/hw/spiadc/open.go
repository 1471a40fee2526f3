package spiadc

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/shiwa/balancer/internal/hw"
)

// Config шина и выводы платы.
type Config struct {
	SPI         string    // имя шины spireg, например "SPI0.0"
	EncoderPins [4]string // левый A, левый B, правый A, правый B
	PWMPins     [2]string // левый, правый
	PWMFreq     physic.Frequency
	SwitchPin   string // пусто = выключателя нет
}

// DefaultPWMFreq частота ШИМ моторов по умолчанию.
const DefaultPWMFreq = 20 * physic.KiloHertz

// Open инициализирует periph и собирает плату. При ошибке уже открытые
// ресурсы закрываются.
func Open(cfg Config) (_ *hw.Board, err error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	b := &hw.Board{Name: "spiadc " + cfg.SPI}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	port, err := spireg.Open(cfg.SPI)
	if err != nil {
		return nil, errors.Wrapf(err, "spi open %s", cfg.SPI)
	}
	b.AddCloser(port)
	conn, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, errors.Wrap(err, "spi connect")
	}
	adc := NewADC(conn)
	b.IMU = adc
	b.Ranges = adc

	var pins [4]gpio.PinIO
	for i, name := range cfg.EncoderPins {
		if pins[i], err = pinByName(name); err != nil {
			return nil, err
		}
	}
	left, err := NewCounter(pins[0], pins[1])
	if err != nil {
		return nil, errors.Wrap(err, "left encoder")
	}
	b.AddCloser(left)
	right, err := NewCounter(pins[2], pins[3])
	if err != nil {
		return nil, errors.Wrap(err, "right encoder")
	}
	b.AddCloser(right)
	b.Encoders = Encoders{Left: left, Right: right}

	pwmL, err := pinByName(cfg.PWMPins[0])
	if err != nil {
		return nil, err
	}
	pwmR, err := pinByName(cfg.PWMPins[1])
	if err != nil {
		return nil, err
	}
	freq := cfg.PWMFreq
	if freq == 0 {
		freq = DefaultPWMFreq
	}
	motors := NewMotors(pwmL, pwmR, freq)
	b.AddCloser(motors)
	b.PWM = motors

	if cfg.SwitchPin != "" {
		p, err := pinByName(cfg.SwitchPin)
		if err != nil {
			return nil, err
		}
		sw, err := NewSwitch(p)
		if err != nil {
			return nil, err
		}
		b.Switch = sw
	}
	return b, nil
}

func pinByName(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("gpio pin %q not found", name)
	}
	return p, nil
}
