package retrieval

import "strconv"

// ContextType is the learning situation a student turn falls into. It
// selects the dialogue rules of the system prompt and filters teaching
// examples.
type ContextType int

const (
	// ContextUnknown means classification failed or was inconclusive.
	ContextUnknown ContextType = iota
	ContextWantsAnswer
	ContextNoIdea
	ContextStuckMidway
	ContextWrongAnswer
	ContextNoProgress
	ContextConceptGap
	ContextSolved
	ContextOffTopic
)

// AnyContext disables the context-type filter of a search.
const AnyContext ContextType = -1

var contextNames = map[ContextType]string{
	ContextUnknown:     "unknown",
	ContextWantsAnswer: "wants_answer",
	ContextNoIdea:      "no_idea",
	ContextStuckMidway: "stuck_midway",
	ContextWrongAnswer: "wrong_answer",
	ContextNoProgress:  "no_progress",
	ContextConceptGap:  "concept_gap",
	ContextSolved:      "solved",
	ContextOffTopic:    "off_topic",
}

func (c ContextType) String() string {
	if name, ok := contextNames[c]; ok {
		return name
	}
	return "context_" + strconv.Itoa(int(c))
}

// Valid reports whether c is one of the eight situations.
func (c ContextType) Valid() bool {
	return c >= ContextWantsAnswer && c <= ContextOffTopic
}

// ParseContextType returns the first digit 1-8 found in a classifier reply,
// or ContextUnknown.
func ParseContextType(reply string) ContextType {
	for _, r := range reply {
		if r >= '1' && r <= '8' {
			return ContextType(r - '0')
		}
	}
	return ContextUnknown
}
