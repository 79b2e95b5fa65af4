package statlake

import "math/rand"

// SampleWithoutReplacement draws a uniform random sample of exactly n
// records. When recs has n or fewer records the whole set is returned
// (copied), so callers always own the result.
func SampleWithoutReplacement(recs []Record, n int, rnd *rand.Rand) []Record {
	if n >= len(recs) {
		out := make([]Record, len(recs))
		copy(out, recs)
		return out
	}
	out := make([]Record, 0, n)
	for _, i := range rnd.Perm(len(recs))[:n] {
		out = append(out, recs[i])
	}
	return out
}

// Shuffle returns a copy of recs in uniformly random order.
func Shuffle(recs []Record, rnd *rand.Rand) []Record {
	out := make([]Record, len(recs))
	copy(out, recs)
	rnd.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
