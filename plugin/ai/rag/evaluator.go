package rag

// DefaultMinScore is the combined score below which evidence is not used.
const DefaultMinScore = 0.2

// Evaluation is the verdict on a retrieved candidate list.
type Evaluation struct {
	// Insufficient is set when no candidate reaches the minimum score.
	Insufficient bool
	// Kept holds the usable candidates in their input order.
	Kept     []Candidate
	Dropped  int
	TopScore float32
}

// Evaluate drops candidates scoring below minScore (DefaultMinScore when
// minScore <= 0) and reports whether anything usable remains.
func Evaluate(candidates []Candidate, minScore float32) *Evaluation {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}

	evaluation := &Evaluation{Kept: make([]Candidate, 0, len(candidates))}
	for _, c := range candidates {
		if c.Score > evaluation.TopScore {
			evaluation.TopScore = c.Score
		}
		if c.Score < minScore {
			evaluation.Dropped++
			continue
		}
		evaluation.Kept = append(evaluation.Kept, c)
	}
	evaluation.Insufficient = len(evaluation.Kept) == 0
	return evaluation
}
