// Package progression holds the XP formula, progression records and the
// per-guild progression config.
package progression

import (
	"fmt"
	"math"
)

// MaxLevel bounds level searches; thresholds beyond it saturate.
const MaxLevel = 1 << 20

// Formula maps levels to XP thresholds: floor(BaseXP * (level-1)^Multiplier).
type Formula struct {
	BaseXP     float64 `json:"baseXP"`
	Multiplier float64 `json:"multiplier"`
}

// Validate rejects formulas whose thresholds would not strictly grow.
func (f Formula) Validate() error {
	switch {
	case math.IsNaN(f.BaseXP) || math.IsInf(f.BaseXP, 0) || math.IsNaN(f.Multiplier) || math.IsInf(f.Multiplier, 0):
		return fmt.Errorf("%w: level formula must be finite", ErrConfig)
	case f.Multiplier <= 1:
		return fmt.Errorf("%w: level multiplier must exceed 1, got %v", ErrConfig, f.Multiplier)
	case f.BaseXP < 1:
		// Below 1 Threshold(2) floors to 0 and level 2 would start at zero XP.
		return fmt.Errorf("%w: level base XP must be at least 1, got %v", ErrConfig, f.BaseXP)
	}
	return nil
}

// Threshold returns the XP needed to reach level. Levels <= 1 need nothing.
func (f Formula) Threshold(level int) int64 {
	if level <= 1 {
		return 0
	}
	v := math.Floor(f.BaseXP * math.Pow(float64(level-1), f.Multiplier))
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// LevelForXP returns the level L with Threshold(L) <= xp < Threshold(L+1).
// When consecutive thresholds coincide the highest such level wins.
func (f Formula) LevelForXP(xp int64) int {
	if xp < 0 {
		xp = 0
	}
	lo, hi := 1, 2
	for hi < MaxLevel && f.Threshold(hi) <= xp {
		lo = hi
		hi *= 2
	}
	if hi > MaxLevel {
		hi = MaxLevel
	}
	// Invariant: Threshold(lo) <= xp, and Threshold(hi) > xp unless hi hit MaxLevel.
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if f.Threshold(mid) <= xp {
			lo = mid
		} else {
			hi = mid
		}
	}
	if f.Threshold(hi) <= xp {
		return hi
	}
	return lo
}

// Progress describes where an XP total sits inside its level.
type Progress struct {
	Level        int     `json:"level"`
	XP           int64   `json:"xp"`
	LevelStartXP int64   `json:"levelStartXp"`
	NextLevelXP  int64   `json:"nextLevelXp"`
	XPIntoLevel  int64   `json:"xpIntoLevel"`
	XPToNext     int64   `json:"xpToNext"`
	Percent      float64 `json:"percent"`
}

// Progress computes the informational progress view for xp.
func (f Formula) Progress(xp int64) Progress {
	if xp < 0 {
		xp = 0
	}
	level := f.LevelForXP(xp)
	start := f.Threshold(level)
	next := f.Threshold(level + 1)
	p := Progress{
		Level:        level,
		XP:           xp,
		LevelStartXP: start,
		NextLevelXP:  next,
		XPIntoLevel:  xp - start,
		XPToNext:     next - xp,
	}
	if span := next - start; span > 0 {
		p.Percent = math.Round(float64(p.XPIntoLevel)/float64(span)*10000) / 100
	}
	return p
}
