package geometry

// Scaler normalizes amplitudes into [0, 1] over a fixed value range,
// clipping anything outside. Build one from a Statistics block with
// MinMaxScaler or QuantileScaler.
type Scaler struct {
	lo, hi float32
}

// MinMaxScaler scales over the global min/max range.
func MinMaxScaler(stats *Statistics) (*Scaler, error) {
	if stats == nil {
		return nil, ErrNoStatistics
	}
	return &Scaler{lo: stats.Min, hi: stats.Max}, nil
}

// QuantileScaler scales over the [q, 1-q] quantile range, which is
// robust against amplitude spikes.
func QuantileScaler(stats *Statistics, q float64) (*Scaler, error) {
	if stats == nil {
		return nil, ErrNoStatistics
	}
	return &Scaler{lo: stats.Quantile(q), hi: stats.Quantile(1 - q)}, nil
}

// Apply scales vals in place.
func (s *Scaler) Apply(vals []float32) {
	span := s.hi - s.lo
	if span == 0 {
		for i := range vals {
			vals[i] = 0
		}
		return
	}
	for i, v := range vals {
		x := (v - s.lo) / span
		if x < 0 {
			x = 0
		} else if x > 1 {
			x = 1
		}
		vals[i] = x
	}
}
