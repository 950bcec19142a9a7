// Package dispatch turns a task's type, prompt and optional dialogue history
// into a single backend-ready prompt. It is pure: identical inputs always
// produce byte-identical output, which keeps retries safe and tests simple.
package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/phrazzld/orchestra-api/internal/domain"
)

// Category is the semantic grouping of a task type, carried on logs and
// operational rollups. It is derived from the same table as the template.
type Category string

// Dispatch categories
const (
	CategoryTextTransform Category = "text_transform"
	CategoryCoding        Category = "coding"
	CategoryDialogue      Category = "dialogue"
)

// ErrUnknownTaskType is returned when a task type has no template. This is a
// client input error, never a backend error, and must not be retried.
var ErrUnknownTaskType = errors.New("unknown task type")

// Rendering markers for prompts that carry dialogue history.
const (
	historyHeader    = "Previous conversation:"
	newRequestHeader = "New request:"
)

type promptTemplate struct {
	instruction string
	category    Category
}

// templates is the closed table of serviceable task types. Adding a type here
// is the single change needed to route it.
var templates = map[domain.TaskType]promptTemplate{
	domain.TaskTypeSummarization:  {"Summarize the following text:", CategoryTextTransform},
	domain.TaskTypeTranslation:    {"Translate the following text to English:", CategoryTextTransform},
	domain.TaskTypeCodeGeneration: {"You are a programmer. Generate code for the following task:", CategoryCoding},
	domain.TaskTypeProgrammer:     {"You are a programmer. Help with the following coding task:", CategoryCoding},
	domain.TaskTypeAnalyst:        {"You are an analyst. Analyze the following and provide insights:", CategoryDialogue},
	domain.TaskTypeInterviewer:    {"You are an interviewer. Ask thoughtful questions about the following:", CategoryDialogue},
}

// BuildPrompt maps a task type, prompt and optional history to the final text
// sent to the backend, plus the category used for routing and metrics.
//
// Without history the output is the type's instruction followed by the raw
// prompt. With history, each prior turn is rendered as a "role: content" line
// in original order under a fixed header, followed by a header introducing
// the new request and the raw prompt.
func BuildPrompt(taskType domain.TaskType, prompt string, history []domain.Message) (string, Category, error) {
	tmpl, ok := templates[taskType]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}

	var b strings.Builder
	b.WriteString(tmpl.instruction)
	b.WriteString("\n")

	if len(history) > 0 {
		b.WriteString(historyHeader)
		b.WriteString("\n")
		for _, m := range history {
			b.WriteString(m.Role)
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(newRequestHeader)
		b.WriteString("\n")
	}

	b.WriteString(prompt)

	return b.String(), tmpl.category, nil
}

// Known reports whether the dispatcher has a template for the given type.
func Known(taskType domain.TaskType) bool {
	_, ok := templates[taskType]
	return ok
}

// KnownTaskTypes returns the serviceable task types in lexical order.
func KnownTaskTypes() []domain.TaskType {
	types := make([]domain.TaskType, 0, len(templates))
	for t := range templates {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
