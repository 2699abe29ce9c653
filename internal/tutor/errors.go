package tutor

import (
	"context"
	"errors"

	"github.com/tainanafeng/math-coach/internal/llm"
	"github.com/tainanafeng/math-coach/internal/memory"
)

// FormatErrorMessage renders a turn failure for the student.
func FormatErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrTurnInProgress):
		return "I'm still working on your previous question. Please wait for that answer first."
	case errors.Is(err, ErrEmptyInput):
		return "Please type a question or attach a problem."
	case errors.Is(err, context.DeadlineExceeded):
		return "⚠ The answer took too long. Please try again."
	case errors.Is(err, memory.ErrStoreUnavailable):
		return "⚠ The chat history is busy right now. Please try again in a moment."
	}
	switch llm.ErrorTypeOf(err) {
	case llm.ErrorRateLimit:
		return "⚠ The tutor is receiving too many requests. Please try again in a minute."
	case llm.ErrorAuth:
		return "⚠ The tutor is not configured correctly. Please contact the developer."
	}
	return "⚠ Something unexpected went wrong. Please try again later.\n\n" +
		"If this keeps happening, please contact the developer.\n\n" +
		"(error: " + err.Error() + ")"
}
