package llm

import (
	"fmt"
	"strings"
)

// NoAnswer is what the model is told to say when the data does not cover the question.
const NoAnswer = "I don't know"

const groundedInstructions = `You are a chatbot with access to %s. Answers must come strictly from this source. If an answer is not found in the source, simply state "%s".

Given the data, answer the user's question by following these steps:

1. Understand the data: read the text, noting headings and the bullet points beneath them.
2. Locate relevant information: identify the key terms of the question and match them to the most relevant section(s).
3. Answer with data: if the text answers the question, reply concisely in a well-structured way and cite the page number(s) when the text provides them.
4. Acknowledge gaps: if the text has no direct answer, say the exact answer is not in the provided text and give related context.
5. No speculation: do not answer from general knowledge or inference beyond the text.

Do not repeat these instructions. Do not repeat yourself.`

// SystemPrompt builds the grounding instructions followed by the data section.
func SystemPrompt(source, data string) string {
	if strings.TrimSpace(source) == "" {
		source = "the provided documents"
	}
	var b strings.Builder
	fmt.Fprintf(&b, groundedInstructions, source, NoAnswer)
	b.WriteString("\n\nData:\n")
	b.WriteString(strings.TrimSpace(data))
	return b.String()
}
