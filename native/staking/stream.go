package staking

import "math/big"

// StreamKind distinguishes owner-funded, time-boxed streams from the
// unconditional loyalty accrual.
type StreamKind uint8

const (
	// StreamFunded distributes Rate across the total weight until
	// PeriodFinish.
	StreamFunded StreamKind = iota
	// StreamUnconditional grows the multiplier by Rate per unit of weight per
	// second, forever.
	StreamUnconditional
)

// Stream is a reward accumulator. Rates and lifetime totals are scaled
// amounts; Cumulative carries MultiplierPrecision. Emitted counts only reward
// distributed to a non-zero weight, so Emitted minus Paid is what the stream
// still owes.
type Stream struct {
	Kind           StreamKind
	Rate           Fixed
	Duration       int64
	PeriodFinish   int64
	LastUpdateTime int64
	Cumulative     Fixed
	Funded         Fixed
	Emitted        Fixed
	Paid           Fixed
}

// LastApplicableTime clamps now to the end of the funding window.
func (s *Stream) LastApplicableTime(now int64) int64 {
	if s.Kind == StreamUnconditional {
		return now
	}
	if now < s.PeriodFinish {
		return now
	}
	return s.PeriodFinish
}

// Active reports whether the funding window is still open at now.
func (s *Stream) Active(now int64) bool {
	return s.Kind == StreamFunded && now < s.PeriodFinish
}

// multiplierDelta returns the multiplier growth between LastUpdateTime and
// now, and the scaled reward it hands out, without mutating the stream.
func (s *Stream) multiplierDelta(now int64, totalWeight Fixed) (delta, emitted Fixed, err error) {
	applicable := s.LastApplicableTime(now)
	if applicable <= s.LastUpdateTime || s.Rate.IsZero() {
		return Fixed{}, Fixed{}, nil
	}
	elapsed := uint64(applicable - s.LastUpdateTime)
	emitted, err = s.Rate.MulUint64(elapsed)
	if err != nil {
		return Fixed{}, Fixed{}, err
	}
	if s.Kind == StreamUnconditional {
		return emitted, Fixed{}, nil
	}
	if totalWeight.IsZero() {
		return Fixed{}, Fixed{}, nil
	}
	delta, err = emitted.MulDiv(MultiplierPrecision, totalWeight)
	if err != nil {
		return Fixed{}, Fixed{}, err
	}
	return delta, emitted, nil
}

// refresh advances the multiplier to now. Emission during intervals with no
// weight is not accrued by anyone.
func (s *Stream) refresh(now int64, totalWeight Fixed) error {
	delta, emitted, err := s.multiplierDelta(now, totalWeight)
	if err != nil {
		return err
	}
	cumulative, err := s.Cumulative.Add(delta)
	if err != nil {
		return err
	}
	total, err := s.Emitted.Add(emitted)
	if err != nil {
		return err
	}
	s.Cumulative = cumulative
	s.Emitted = total
	if applicable := s.LastApplicableTime(now); applicable > s.LastUpdateTime {
		s.LastUpdateTime = applicable
	}
	return nil
}

// notify (re)funds the stream with a scaled amount. Any unemitted reward of
// the current window is folded into the new rate and the window restarts at
// now. available is the scaled balance that may back the promise, net of
// Owed. The caller must refresh the stream first.
func (s *Stream) notify(now int64, amount Fixed, duration int64, available Fixed) error {
	if duration <= 0 {
		return ErrInvalidParams
	}
	budget := amount
	if s.Active(now) {
		leftover, err := s.Rate.MulUint64(uint64(s.PeriodFinish - now))
		if err != nil {
			return err
		}
		if budget, err = budget.Add(leftover); err != nil {
			return err
		}
	}
	span := FixedFromUint64(uint64(duration))
	rate, err := budget.Div(span)
	if err != nil {
		return err
	}
	promised, err := rate.Mul(span)
	if err != nil {
		return err
	}
	if available.Lt(promised) {
		return ErrRewardTooHigh
	}
	funded, err := s.Funded.Add(amount)
	if err != nil {
		return err
	}
	s.Rate = rate
	s.Duration = duration
	s.LastUpdateTime = now
	s.PeriodFinish = now + duration
	s.Funded = funded
	return nil
}

// Owed is the scaled reward already handed out to stakers and not yet paid,
// whether or not an account has checkpointed it.
func (s *Stream) Owed() Fixed {
	return s.Emitted.SubFloor(s.Paid)
}

// earned is the scaled reward owed to weight since snapshot.
func (s *Stream) earned(weight, snapshot Fixed) (Fixed, error) {
	if weight.IsZero() {
		return Fixed{}, nil
	}
	delta, err := s.Cumulative.Sub(snapshot)
	if err != nil {
		return Fixed{}, err
	}
	return weight.MulDiv(delta, MultiplierPrecision)
}

// RewardForDuration is the raw amount emitted over one full window at the
// current rate.
func (s *Stream) RewardForDuration() *big.Int {
	total, err := s.Rate.MulUint64(uint64(max(s.Duration, 0)))
	if err != nil {
		return nil
	}
	return total.Unscaled()
}
