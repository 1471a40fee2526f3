// Package balancer запускает контур управления балансирующей платформы:
// плата, две периодические задачи, HTTP API и мост MQTT.
package balancer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/shiwa/balancer/internal/api"
	"github.com/shiwa/balancer/internal/config"
	"github.com/shiwa/balancer/internal/control"
	"github.com/shiwa/balancer/internal/fixed"
	"github.com/shiwa/balancer/internal/heading"
	"github.com/shiwa/balancer/internal/hw"
	"github.com/shiwa/balancer/internal/logger"
	"github.com/shiwa/balancer/internal/remote"
	"github.com/shiwa/balancer/internal/rt"
)

// RunDaemon открывает плату и выполняет контур управления до отмены ctx.
// При завершении моторы останавливаются, плата закрывается.
func RunDaemon(ctx context.Context, cfg *config.Config) (err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger.Quiet = cfg.Log.Quiet
	ccfg, err := cfg.ControlConfig()
	if err != nil {
		return fmt.Errorf("control config: %w", err)
	}
	if cfg.Control.LockMemory {
		if err := rt.LockMemory(); err != nil {
			return fmt.Errorf("lock memory: %w", err)
		}
	}
	board, err := OpenBoard(cfg)
	if err != nil {
		return fmt.Errorf("open board: %w", err)
	}
	d := newDaemon(cfg, control.New(ccfg), board)
	defer func() {
		err = multierr.Append(err, d.shutdown())
	}()

	logger.Info("balancer: board=%s motor=%dHz sensor=%dHz priority=%d",
		board.Name, cfg.Control.MotorHz, cfg.Control.SensorHz, cfg.Control.Priority)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(gctx, d.motor.Run(gctx, d.motorTick)) })
	g.Go(func() error { return ignoreCancel(gctx, d.sensor.Run(gctx, d.sensorTick)) })
	if cfg.API.Enabled() {
		srv := api.New(d.ctl, config.Interval(cfg.API.StreamInterval, 100*time.Millisecond))
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.API.Listen) })
	}
	if cfg.MQTT.Broker != "" {
		bridge := remote.New(d.ctl, remote.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Prefix:         cfg.MQTT.Prefix,
			StatusInterval: config.Interval(cfg.MQTT.StatusInterval, time.Second),
		})
		g.Go(func() error { return bridge.Run(gctx) })
	}
	return g.Wait()
}

// Calibrate открывает плату, запускает только задачу датчиков и
// определяет нейтрали гироскопа. Платформа должна стоять неподвижно.
func Calibrate(ctx context.Context, cfg *config.Config) (x, z fixed.F16, err error) {
	ccfg, err := cfg.ControlConfig()
	if err != nil {
		return 0, 0, fmt.Errorf("control config: %w", err)
	}
	board, err := OpenBoard(cfg)
	if err != nil {
		return 0, 0, fmt.Errorf("open board: %w", err)
	}
	d := newDaemon(cfg, control.New(ccfg), board)
	defer func() {
		err = multierr.Append(err, d.shutdown())
	}()

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- ignoreCancel(sctx, d.sensor.Run(sctx, d.sensorTick)) }()
	x, z, err = d.ctl.Calibrate(ctx)
	cancel()
	return x, z, multierr.Append(err, <-done)
}

func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// throttle пропускает не больше одного сообщения за every тиков.
type throttle struct {
	every uint64
	next  uint64
}

func (t *throttle) allow(tick uint64) bool {
	if tick < t.next {
		return false
	}
	t.next = tick + t.every
	return true
}

// daemon связывает плату с контекстом управления. Состояние задачи
// моторов трогает только её поток, задачи датчиков только её.
type daemon struct {
	ctl   *control.Context
	board *hw.Board

	motor, sensor *rt.Periodic
	rangeEvery    uint64
	center        int32

	motorTicks uint64
	prevL      uint16
	prevR      uint16
	primed     bool
	motorLog   throttle

	sensorTicks uint64
	sensorLog   throttle
}

func newDaemon(cfg *config.Config, ctl *control.Context, board *hw.Board) *daemon {
	d := &daemon{
		ctl:       ctl,
		board:     board,
		motor:     rt.NewPeriodic("motor", rt.PeriodFor(cfg.Control.MotorHz)),
		sensor:    rt.NewPeriodic("sensor", rt.PeriodFor(cfg.Control.SensorHz)),
		center:    int32(cfg.PWM.Center),
		motorLog:  throttle{every: uint64(cfg.Control.MotorHz)},
		sensorLog: throttle{every: uint64(cfg.Control.SensorHz)},
	}
	if cfg.Device.RangeEvery > 0 {
		d.rangeEvery = uint64(cfg.Device.RangeEvery)
	}
	d.motor.Priority = cfg.Control.Priority
	d.sensor.Priority = cfg.Control.Priority
	d.motor.OnMiss = func(late time.Duration) {
		ctl.RecordMotorMiss()
		if d.motorLog.allow(d.motorTicks) {
			logger.Error("motor task late by %v (misses %d)", late, d.motor.Misses())
		}
	}
	d.sensor.OnMiss = func(late time.Duration) {
		ctl.RecordSensorMiss()
		if d.sensorLog.allow(d.sensorTicks) {
			logger.Error("sensor task late by %v (misses %d)", late, d.sensor.Misses())
		}
	}
	return d
}

// encoderDelta приращения энкодеров с прошлого тика. Первое показание
// только запоминается.
func (d *daemon) encoderDelta() (left, right int32, err error) {
	l, r, err := d.board.Encoders.ReadEncoders()
	if err != nil {
		return 0, 0, err
	}
	if d.primed {
		left = hw.CounterDelta(d.prevL, l)
		right = hw.CounterDelta(d.prevR, r)
	}
	d.prevL, d.prevR, d.primed = l, r, true
	return left, right, nil
}

func (d *daemon) motorTick() {
	tick := d.motorTicks
	d.motorTicks++

	left, right, err := d.encoderDelta()
	if err != nil {
		d.ctl.RecordEncoderError()
		if d.motorLog.allow(tick) {
			logger.Error("encoders: %v", err)
		}
	}
	pwmL, pwmR := d.ctl.MotorTick(left, right)
	if err := d.board.PWM.WritePWM(pwmL, pwmR); err != nil && d.motorLog.allow(tick) {
		logger.Error("pwm: %v", err)
	}

	if d.board.Switch != nil {
		on, err := d.board.Switch.BalanceSwitch()
		if err != nil {
			if d.motorLog.allow(tick) {
				logger.Error("balance switch: %v", err)
			}
		} else {
			d.ctl.PollSwitch(on)
		}
	}

	if d.rangeEvery == 0 || d.board.Ranges == nil || tick%d.rangeEvery != 0 {
		return
	}
	r, err := d.board.Ranges.ReadRanges()
	if err != nil {
		if d.motorLog.allow(tick) {
			logger.Error("ranges: %v", err)
		}
		return
	}
	if v := d.ctl.ObserveWalls(r); v == heading.Accepted {
		logger.Debug("wall heading accepted: %v", d.ctl.Heading())
	}
}

func (d *daemon) sensorTick() {
	tick := d.sensorTicks
	d.sensorTicks++

	s, err := d.board.IMU.ReadIMU()
	if err != nil {
		d.ctl.RecordIMUError()
		if d.sensorLog.allow(tick) {
			logger.Error("imu: %v", err)
		}
		return
	}
	d.ctl.SensorTick(s)
}

// shutdown ставит моторы в нейтраль и закрывает плату.
func (d *daemon) shutdown() error {
	err := d.board.PWM.WritePWM(d.center, d.center)
	if err != nil {
		err = fmt.Errorf("stop motors: %w", err)
	}
	return multierr.Append(err, d.board.Close())
}
