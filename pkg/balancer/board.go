package balancer

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/shiwa/balancer/internal/config"
	"github.com/shiwa/balancer/internal/hw"
	"github.com/shiwa/balancer/internal/hw/boardlink"
	"github.com/shiwa/balancer/internal/hw/sim"
	"github.com/shiwa/balancer/internal/hw/spiadc"
)

// linkTimeout ожидание ответа платы на один опрос.
const linkTimeout = 20 * time.Millisecond

// OpenBoard открывает железо по device.driver. Энкодеры, ШИМ и датчики
// обязательны; дальномеры и выключатель баланса нет.
func OpenBoard(cfg *config.Config) (*hw.Board, error) {
	dev := cfg.Device
	var board *hw.Board
	switch dev.Driver {
	case config.DriverBoardlink:
		link, err := boardlink.Open(dev.Port, dev.Baud, linkTimeout)
		if err != nil {
			return nil, err
		}
		board = link.Board()
	case config.DriverSPIADC:
		if len(dev.EncoderPins) != 4 || len(dev.PWMPins) != 2 {
			return nil, fmt.Errorf("spiadc: need 4 encoder pins and 2 pwm pins")
		}
		sc := spiadc.Config{
			SPI:       dev.SPI,
			PWMFreq:   physic.Frequency(dev.PWMHz) * physic.Hertz,
			SwitchPin: dev.SwitchPin,
		}
		copy(sc.EncoderPins[:], dev.EncoderPins)
		copy(sc.PWMPins[:], dev.PWMPins)
		if dev.PWMHz == 0 {
			sc.PWMFreq = spiadc.DefaultPWMFreq
		}
		b, err := spiadc.Open(sc)
		if err != nil {
			return nil, err
		}
		board = b
	case config.DriverSim:
		ccfg, err := cfg.ControlConfig()
		if err != nil {
			return nil, err
		}
		sc := sim.DefaultConfig()
		sc.Hz = cfg.Control.MotorHz
		sc.Gyro = ccfg.Gyro
		sc.Accel = ccfg.Accel
		board = sim.New(sc).Board()
	default:
		return nil, fmt.Errorf("%w: %q", hw.ErrUnknownDriver, dev.Driver)
	}

	if board.Encoders == nil || board.PWM == nil || board.IMU == nil {
		board.Close()
		return nil, fmt.Errorf("board %s: encoders, pwm and imu are required", board.Name)
	}
	return board, nil
}
