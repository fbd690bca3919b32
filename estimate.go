package chatgate

// EstimateInputTokens gives a rough prompt size for metering before the
// provider reports real usage: ~4 chars per token plus per-turn framing.
func EstimateInputTokens(messages []Message) int64 {
	var total int64 = 3
	for _, m := range messages {
		total += int64(len(m.Content)+len(m.Role))/4 + 4
	}
	return total
}
