// Package growth maps a hydration counter onto the plant's growth stage.
package growth

// Stage names one growth band.
type Stage string

const (
	StageSeed    Stage = "Seed"
	StageSprout  Stage = "Sprout"
	StageSapling Stage = "Sapling"
	StageBloom   Stage = "Bloom"
)

// Band is the half-open counter range [Start, End) of a stage. The final band
// has End == 0 and is unbounded.
type Band struct {
	Stage Stage
	Start int64
	End   int64
}

// Unbounded reports whether the band has no upper limit.
func (b Band) Unbounded() bool {
	return b.End == 0
}

var bands = []Band{
	{Stage: StageSeed, Start: 0, End: 5},
	{Stage: StageSprout, Start: 5, End: 15},
	{Stage: StageSapling, Start: 15, End: 30},
	{Stage: StageBloom, Start: 30},
}

// Progress is the stage reached by a counter and the fraction of that
// stage's band already covered.
type Progress struct {
	Stage    Stage
	Fraction float64
}

// Percent returns Fraction scaled to [0, 100].
func (p Progress) Percent() float64 {
	return p.Fraction * 100
}

// Stages returns a copy of the ordered band table.
func Stages() []Band {
	out := make([]Band, len(bands))
	copy(out, bands)
	return out
}

// StageFor maps count to its stage. Negative counts map like zero.
func StageFor(count int64) Progress {
	if count < 0 {
		count = 0
	}
	for _, band := range bands {
		if band.Unbounded() {
			return Progress{Stage: band.Stage, Fraction: 1}
		}
		if count < band.End {
			fraction := float64(count-band.Start) / float64(band.End-band.Start)
			return Progress{Stage: band.Stage, Fraction: clamp(fraction)}
		}
	}
	return Progress{Stage: StageBloom, Fraction: 1}
}

func clamp(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}
