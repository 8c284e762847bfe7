package llm

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

const explainSystem = "Analyze error briefly (under 30 words). Be precise."

const fixSystem = "Fix code. Output ONLY runnable %s code, no explanation, no code fences, no extra text."

// fixExamples show the expected shape of an answer per language.
var fixExamples = map[string]string{
	"lua": `function factorial(n)
  if n <= 1 then return 1 end
  return n * factorial(n - 1)
end
print(factorial(5))`,
	"python": `def factorial(n):
    return 1 if n <= 1 else n * factorial(n - 1)
print(factorial(5))`,
}

// ExplainPrompt takes error_reason and the messages so far.
func ExplainPrompt() prompts.ChatPromptTemplate {
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewSystemMessagePromptTemplate(explainSystem, nil),
		prompts.NewHumanMessagePromptTemplate("{{.error_reason}}", []string{"error_reason"}),
		prompts.MessagesPlaceholder{VariableName: "messages"},
	})
}

// FixPrompt takes the messages so far and old_code. language names the
// dialect the sandbox runs.
func FixPrompt(language string) prompts.ChatPromptTemplate {
	system := fmt.Sprintf(fixSystem, language)
	if ex, ok := fixExamples[strings.ToLower(language)]; ok {
		system += "\nExample:\n" + ex
	}
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewSystemMessagePromptTemplate(system, nil),
		prompts.MessagesPlaceholder{VariableName: "messages"},
		prompts.NewHumanMessagePromptTemplate("Previous code:\n{{.old_code}}", []string{"old_code"}),
	})
}

// CausePrompt asks for the cause of a stack trace in one line.
func CausePrompt() prompts.ChatPromptTemplate {
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewHumanMessagePromptTemplate("Error cause in 1 line: {{.trace}}", []string{"trace"}),
	})
}

// FixStepsPrompt asks for numbered steps that fix a stack trace.
func FixStepsPrompt() prompts.ChatPromptTemplate {
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewHumanMessagePromptTemplate("5 numbered fix steps: {{.trace}}", []string{"trace"}),
	})
}

// AnswerPrompt answers question from the retrieved context.
func AnswerPrompt() prompts.ChatPromptTemplate {
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewHumanMessagePromptTemplate("Context: {{.context}}\nQuestion: {{.question}}\nEnglish answer:",
			[]string{"context", "question"}),
	})
}

// NewExplainer and NewFixer build the two completers of the repair workflow.
func NewExplainer(model llms.Model, opts ...ChainOption) *Chain {
	return NewChain(model, ExplainPrompt(), opts...)
}

func NewFixer(model llms.Model, language string, opts ...ChainOption) *Chain {
	return NewChain(model, FixPrompt(language), append([]ChainOption{WithParser(StripCodeFence)}, opts...)...)
}
