package capacity

import (
	"encoding/json"
	"math"

	"github.com/apexhq/apex/internal/task"
)

// Session recommendations, ordered by severity.
const (
	RecommendContinue   = "continue"
	RecommendSummarize  = "summarize"
	RecommendCheckpoint = "checkpoint"
	RecommendHandoff    = "handoff"
)

// DefaultContextWindowThreshold is the utilization at which a session
// counts as near its limit.
const DefaultContextWindowThreshold = 0.8

// charsPerToken is the rough text-to-token ratio used for estimation.
const charsPerToken = 4

// SessionStatus is the result of a session-pressure check.
type SessionStatus struct {
	CurrentTokens  int     `json:"current_tokens"`
	Utilization    float64 `json:"utilization"`
	NearLimit      bool    `json:"near_limit"`
	Recommendation string  `json:"recommendation"`
	Message        string  `json:"message"`
}

// EstimateTokens approximates the token count of a conversation at four
// characters per token. Structured tool-result content is JSON-serialised
// before counting; nil content contributes nothing.
func EstimateTokens(conversation []task.Message) int {
	total := 0
	for _, msg := range conversation {
		total += len(contentText(msg.Content)) / charsPerToken
	}
	return total
}

func contentText(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// CheckSession evaluates context-window pressure for a conversation.
// threshold ≤ 0 falls back to the default. A zero context window yields
// infinite utilization and an immediate handoff.
func CheckSession(conversation []task.Message, contextWindow int, threshold float64) SessionStatus {
	if threshold <= 0 {
		threshold = DefaultContextWindowThreshold
	}

	tokens := EstimateTokens(conversation)
	var utilization float64
	if contextWindow <= 0 {
		utilization = math.Inf(1)
	} else {
		utilization = float64(tokens) / float64(contextWindow)
	}

	status := SessionStatus{
		CurrentTokens: tokens,
		Utilization:   utilization,
		NearLimit:     utilization >= threshold,
	}

	switch {
	case utilization < 0.6:
		status.Recommendation = RecommendContinue
		status.Message = "Session healthy"
	case utilization < threshold:
		status.Recommendation = RecommendSummarize
		status.Message = "Consider summarization to free context"
	case utilization < 0.95:
		status.Recommendation = RecommendCheckpoint
		status.Message = "Context pressure high, checkpoint recommended"
	default:
		status.Recommendation = RecommendHandoff
		status.Message = "Context nearly exhausted, handoff required"
	}
	return status
}
