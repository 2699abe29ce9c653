package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/llm"
)

// Classifier maps a student turn to a learning situation.
type Classifier interface {
	Classify(ctx context.Context, history []llm.Message, input string) (ContextType, error)
}

// ExampleSource supplies retrieved classification examples.
type ExampleSource interface {
	ContextExamples(ctx context.Context, input string) (string, error)
}

const classifierPrompt = `Role: you are a learning-situation classifier for a math tutor.
Task: the input is something a student wrote. Reply with one number (1-8) for the learning situation.
Output: the number only. No words, no punctuation.

Situations:
1 = the student only pasted a problem and asks for the answer or the steps, without describing any difficulty
2 = the student says they do not know where to start, or asks for a hint on the key step
3 = the student tried but is stuck at an intermediate step
4 = the student's answer is wrong
5 = the student keeps trying with no progress at all
6 = the student lacks understanding of a basic concept or definition
7 = the student worked the whole problem and the answer is correct
8 = the input is unrelated to mathematics

Examples (student => situation):
"Problem: compute \(\int_0^1 x^2 dx\)" => 1
"I have no idea what the question is asking." => 2
"I haven't learned this type of problem before, where do I start?" => 2
"I set up the equation but I don't know how to simplify the next step." => 3
"I used substitution but the middle result looks wrong and now I'm stuck." => 3
"I did the whole thing and got 5, but I think something is off." => 4
"My answer is y=2" => 4
"I've tried several methods and every one fails, I'm getting nowhere." => 5
"What's the difference between exponents and logarithms?" => 6
"The final answer is \(x=2\), I checked it and it's correct." => 7
"I finished and confirmed the result, can you summarize the key points?" => 7
"What should I eat tonight?" => 8
`

// LLMClassifier asks a chat model for the situation digit. Retrieved
// examples similar to the input are appended to the fixed few-shot set.
type LLMClassifier struct {
	provider llm.Provider
	examples ExampleSource
	model    string
	log      *zap.Logger
}

// NewLLMClassifier creates a classifier. examples may be nil.
func NewLLMClassifier(provider llm.Provider, examples ExampleSource, model string, log *zap.Logger) *LLMClassifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMClassifier{provider: provider, examples: examples, model: model, log: log.Named("classifier")}
}

// Classify returns ContextUnknown with a nil error when the reply holds no
// digit 1-8. Retrieval failures are logged and classification continues
// with the fixed examples only.
func (c *LLMClassifier) Classify(ctx context.Context, history []llm.Message, input string) (ContextType, error) {
	system := classifierPrompt
	if c.examples != nil {
		extra, err := c.examples.ContextExamples(ctx, input)
		if err != nil {
			c.log.Warn("classification examples unavailable", zap.Error(err))
		} else if extra != "" {
			system += "\n" + extra
		}
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: input})

	reply, err := llm.Complete(ctx, c.provider, &llm.ChatRequest{
		Model:        c.model,
		SystemPrompt: system,
		Messages:     msgs,
		MaxTokens:    512,
	})
	if err != nil {
		return ContextUnknown, fmt.Errorf("classify: %w", err)
	}

	ct := ParseContextType(reply)
	if ct == ContextUnknown {
		c.log.Debug("unparseable classification", zap.String("reply", reply))
	}
	return ct, nil
}
