package trading

import (
	"math"
	"math/big"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"solana-tp-bot/internal/config"
)

// Rung is one take-profit step
type Rung struct {
	Multiple float64
	Percent  float64
	// OfOriginal sells Percent of the bought amount instead of the remaining one
	OfOriginal bool
}

// Ladder is an ordered list of rungs. With TailFrom > 0 every integer
// multiple from TailFrom upward is an extra rung selling TailPercent of
// whatever remains.
type Ladder struct {
	Rungs       []Rung
	TailFrom    int
	TailPercent float64
}

// DefaultLadder takes half the original amount off at 2x, then 10% of the
// remainder at every whole multiple from 3x.
func DefaultLadder() Ladder {
	return Ladder{
		Rungs:       []Rung{{Multiple: 2.0, Percent: 50, OfOriginal: true}},
		TailFrom:    3,
		TailPercent: 10,
	}
}

// NewLadder builds a fixed ladder from config rungs; the first rung is
// sized against the original amount. No rungs means the default ladder.
func NewLadder(rungs []config.RungConfig) Ladder {
	if len(rungs) == 0 {
		return DefaultLadder()
	}
	out := make([]Rung, 0, len(rungs))
	for _, r := range rungs {
		if r.Multiple <= 0 || r.Percent <= 0 {
			continue
		}
		out = append(out, Rung{Multiple: r.Multiple, Percent: math.Min(r.Percent, 100)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Multiple < out[j].Multiple })
	if len(out) == 0 {
		return DefaultLadder()
	}
	out[0].OfOriginal = true
	return Ladder{Rungs: out}
}

// Next returns the lowest rung at or below multiple that has not fired yet.
// Explicit rungs win ties with the tail.
func (l Ladder) Next(multiple float64, executed []float64) (Rung, bool) {
	var (
		best  Rung
		found bool
	)
	for _, r := range l.Rungs {
		if r.Multiple > multiple {
			break
		}
		if !slices.Contains(executed, r.Multiple) {
			best, found = r, true
			break
		}
	}

	if l.TailFrom > 0 {
		for n := l.TailFrom; float64(n) <= multiple; n++ {
			m := float64(n)
			if found && m >= best.Multiple {
				break
			}
			if !slices.Contains(executed, m) {
				best, found = Rung{Multiple: m, Percent: l.TailPercent}, true
				break
			}
		}
	}
	return best, found
}

// SellAmount sizes a rung in raw token units, never above remaining
func (r Rung) SellAmount(total, remaining uint64) uint64 {
	base := remaining
	if r.OfOriginal {
		base = total
	}
	amount := decimal.NewFromBigInt(new(big.Int).SetUint64(base), 0).
		Mul(decimal.NewFromFloat(r.Percent)).
		Div(decimal.NewFromInt(100)).
		Floor()
	if !amount.IsPositive() {
		return 0
	}
	v := amount.BigInt()
	if !v.IsUint64() || v.Uint64() > remaining {
		return remaining
	}
	return v.Uint64()
}

// Bucket sizes and ladders trades for a score range
type Bucket struct {
	Name         string
	MinScore     int
	MaxScore     int
	AmountSol    float64
	MaxDetection time.Duration
	Ladder       Ladder
}

// LowScoreBucket is used for scores under every configured bucket when
// low-score trading is enabled. It only buys fresh detections.
const LowScoreBucket = "low"

// LadderBook maps scores to buckets. It is built once at startup and
// read-only afterwards.
type LadderBook struct {
	buckets []Bucket
}

// NewLadderBook builds the book from config buckets
func NewLadderBook(cfgs []config.BucketConfig) *LadderBook {
	if len(cfgs) == 0 {
		cfgs = config.DefaultBuckets()
	}
	b := &LadderBook{buckets: make([]Bucket, 0, len(cfgs))}
	for _, c := range cfgs {
		b.buckets = append(b.buckets, Bucket{
			Name:         c.Name,
			MinScore:     c.MinScore,
			MaxScore:     c.MaxScore,
			AmountSol:    c.AmountSol,
			MaxDetection: time.Duration(c.MaxDetectionMinutes) * time.Minute,
			Ladder:       NewLadder(c.Ladder),
		})
	}
	return b
}

// BucketFor finds the bucket covering score
func (b *LadderBook) BucketFor(score int) (Bucket, bool) {
	for _, bk := range b.buckets {
		if score >= bk.MinScore && score <= bk.MaxScore {
			return bk, true
		}
	}
	return Bucket{}, false
}

// For returns the ladder of a named bucket, the default ladder when unknown
func (b *LadderBook) For(name string) Ladder {
	for _, bk := range b.buckets {
		if bk.Name == name {
			return bk.Ladder
		}
	}
	return DefaultLadder()
}

// lowest is the smallest configured minimum score
func (b *LadderBook) lowest() int {
	low := math.MaxInt
	for _, bk := range b.buckets {
		low = min(low, bk.MinScore)
	}
	return low
}
