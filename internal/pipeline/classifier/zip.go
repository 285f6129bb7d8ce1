package classifier

import "matching-client/internal/models"

// Pair couples a message with the result at the same request position.
type Pair struct {
	Message *models.Message
	Result  models.ClassificationResult
}

// Zip pairs batch[i] with results[i]. Messages past the end of results are
// paired with models.Unmatched(); surplus results are dropped.
func Zip(batch []*models.Message, results []models.ClassificationResult) []Pair {
	pairs := make([]Pair, len(batch))
	for i, msg := range batch {
		r := models.Unmatched()
		if i < len(results) {
			r = results[i]
		}
		pairs[i] = Pair{Message: msg, Result: r}
	}
	return pairs
}

// Apply writes each result onto its message.
func Apply(pairs []Pair) {
	for _, p := range pairs {
		p.Message.Apply(p.Result)
	}
}
