package stream

import (
	"math"
	"math/rand/v2"
	"time"
)

// Pacer computes the live poll cadence: a fast floor while records keep
// arriving, exponential growth toward a ceiling while idle.
type Pacer struct {
	floor       time.Duration
	ceiling     time.Duration
	factor      float64
	jitterRatio float64
	jitterMin   time.Duration
	rand        func() float64

	interval   time.Duration
	idleStreak int
}

// NewPacer builds a Pacer from cfg. rnd must return values in [0, 1); nil
// selects math/rand/v2.
func NewPacer(cfg Config, rnd func() float64) *Pacer {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Pacer{
		floor:       cfg.PollFloor,
		ceiling:     cfg.PollCeiling,
		factor:      cfg.BackoffFactor,
		jitterRatio: cfg.JitterRatio,
		jitterMin:   cfg.JitterMin,
		rand:        rnd,
		interval:    cfg.PollFloor,
	}
}

// Active resets the cadence to the floor after a tick that delivered records.
func (p *Pacer) Active() time.Duration {
	p.idleStreak = 0
	p.interval = p.floor
	return p.interval
}

// Idle records one more idle tick and returns min(ceiling, floor*factor^streak).
func (p *Pacer) Idle() time.Duration {
	p.idleStreak++
	p.interval = Backoff(p.floor, p.ceiling, p.factor, p.idleStreak)
	return p.interval
}

// Interval is the current base interval without jitter.
func (p *Pacer) Interval() time.Duration { return p.interval }

// IdleStreak is the number of consecutive idle ticks.
func (p *Pacer) IdleStreak() int { return p.idleStreak }

// Jitter adds a uniform random delay in [0, max(ratio*d, jitterMin)) to d.
func (p *Pacer) Jitter(d time.Duration) time.Duration {
	span := time.Duration(float64(d) * p.jitterRatio)
	if span < p.jitterMin {
		span = p.jitterMin
	}
	if span <= 0 {
		return d
	}
	return d + time.Duration(p.rand()*float64(span))
}

// Backoff returns min(ceiling, floor*factor^n).
func Backoff(floor, ceiling time.Duration, factor float64, n int) time.Duration {
	grown := float64(floor) * math.Pow(factor, float64(n))
	if grown >= float64(ceiling) || math.IsInf(grown, 1) {
		return ceiling
	}
	return time.Duration(grown)
}
