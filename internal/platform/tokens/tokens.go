package tokens

// Estimate approximates the token count of text at ~4 characters per token.
// Always at least 1 so budget arithmetic never divides by zero.
func Estimate(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// EstimateAll sums Estimate over texts.
func EstimateAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += Estimate(t)
	}
	return total
}
