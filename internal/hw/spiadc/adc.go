// Package spiadc железо одноплатного компьютера через periph: гироскоп,
// акселерометр и ИК-дальномеры на АЦП MCP3208 по SPI, квадратурные
// энкодеры, ШИМ моторов и выключатель баланса на GPIO.
package spiadc

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/shiwa/balancer/internal/hw"
)

// Каналы MCP3208
const (
	ChGyroX = 0
	ChGyroZ = 1
	ChAccel = 2
	// ChRange0 первый из четырёх дальномеров: левый передний, левый задний,
	// правый передний, правый задний.
	ChRange0 = 4
)

const (
	// minRangeCounts ниже этого отсчёта отражения нет.
	minRangeCounts = 80
	// rangeScale отсчёт * мм для ИК-дальномера с обратной характеристикой.
	rangeScale = 250000
)

// Txer полудуплексный обмен по SPI; spi.Conn подходит.
type Txer interface {
	Tx(w, r []byte) error
}

// ADC 12-битный MCP3208.
type ADC struct {
	mu   sync.Mutex
	conn Txer
	tx   [3]byte
	rx   [3]byte
}

// NewADC оборачивает подключение к шине.
func NewADC(conn Txer) *ADC {
	return &ADC{conn: conn}
}

// Read одиночное несимметричное измерение канала 0..7.
func (a *ADC) Read(ch int) (int32, error) {
	if ch < 0 || ch > 7 {
		return 0, errors.Errorf("mcp3208: channel %d out of range", ch)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tx = [3]byte{0x06 | byte(ch>>2)&1, byte(ch&3) << 6, 0}
	if err := a.conn.Tx(a.tx[:], a.rx[:]); err != nil {
		return 0, errors.Wrapf(err, "mcp3208: channel %d", ch)
	}
	return int32(a.rx[1]&0x0f)<<8 | int32(a.rx[2]), nil
}

// ReadIMU отсчёты гироскопа и акселерометра. Шкала приводится к шкале
// платы boardlink: гироскоп 8 бит, акселерометр 16 бит.
func (a *ADC) ReadIMU() (hw.IMUSample, error) {
	var v [3]int32
	for i, ch := range [3]int{ChGyroX, ChGyroZ, ChAccel} {
		var err error
		if v[i], err = a.Read(ch); err != nil {
			return hw.IMUSample{}, err
		}
	}
	return hw.IMUSample{GyroX: v[0] >> 4, GyroZ: v[1] >> 4, Accel: v[2] << 4}, nil
}

// ReadRanges показания четырёх дальномеров в мм.
func (a *ADC) ReadRanges() (hw.Ranges, error) {
	var mm [4]int32
	for i := range mm {
		v, err := a.Read(ChRange0 + i)
		if err != nil {
			return hw.Ranges{}, err
		}
		mm[i] = rangeMM(v)
	}
	return hw.Ranges{LeftFront: mm[0], LeftRear: mm[1], RightFront: mm[2], RightRear: mm[3]}, nil
}

func rangeMM(counts int32) int32 {
	if counts < minRangeCounts {
		return hw.OutOfRange
	}
	return rangeScale / counts
}
