// Package rt запускает периодические задачи контура управления: ожидание
// до границы следующего периода, учёт пропущенных сроков без догоняющих
// запусков и настройка реального времени потока на Linux.
package rt

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// Periodic периодическая задача с фиксированным периодом.
type Periodic struct {
	Name   string
	Period time.Duration
	// Priority приоритет SCHED_FIFO для потока задачи; 0 оставляет обычное планирование.
	Priority int
	// OnMiss вызывается в потоке задачи, когда граница периода уже прошла.
	OnMiss func(late time.Duration)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	ticks  atomic.Uint64
	misses atomic.Uint64
}

// NewPeriodic создаёт задачу с периодом period.
func NewPeriodic(name string, period time.Duration) *Periodic {
	return &Periodic{
		Name:   name,
		Period: period,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// PeriodFor период для частоты hz.
func PeriodFor(hz int) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Second / time.Duration(hz)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run вызывает fn раз в период до отмены ctx. Первый вызов выполняется
// сразу. Если к моменту ожидания граница периода уже прошла, fn
// вызывается немедленно, счётчик пропусков растёт, а следующий период
// отсчитывается от текущего момента: пропущенные тики не догоняются.
func (p *Periodic) Run(ctx context.Context, fn func()) error {
	if p.Priority > 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := setThreadPriority(p.Priority); err != nil {
			return err
		}
	}

	var next time.Time
	for {
		now := p.now()
		switch {
		case next.IsZero():
			next = now.Add(p.Period)
		case !now.After(next):
			if err := p.sleep(ctx, next.Sub(now)); err != nil {
				return err
			}
			next = next.Add(p.Period)
		default:
			p.misses.Add(1)
			if p.OnMiss != nil {
				p.OnMiss(now.Sub(next))
			}
			next = now.Add(p.Period)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fn()
		p.ticks.Add(1)
	}
}

// Ticks число выполненных вызовов.
func (p *Periodic) Ticks() uint64 { return p.ticks.Load() }

// Misses число пропущенных границ периода.
func (p *Periodic) Misses() uint64 { return p.misses.Load() }
