package retrieval

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/orgrag/internal/vectorindex"
)

// NoResultsMessage is returned when a tenant's index has nothing relevant.
func NoResultsMessage(tenant string) string {
	return fmt.Sprintf("I couldn't find any relevant information in organization '%s' documents.", tenant)
}

// SystemPrompt confines the model to the supplied context.
func SystemPrompt(tenant string) string {
	return fmt.Sprintf(`You are an intelligent assistant for organization '%s'.
You answer user questions based on the context provided from the organization's documents.
If the information is not in the context, say that you cannot answer based on the available documents.
Always be helpful and provide accurate information based on the organization's data.`, tenant)
}

// UserPrompt combines the grounding context and the question.
func UserPrompt(tenant, context, question string) string {
	return fmt.Sprintf("Context from organization '%s' documents:\n%s\n\nQuestion:\n%s", tenant, context, question)
}

// BuildContext renders results as "From <provenance>:\n<content>" blocks
// separated by blank lines, in result order.
func BuildContext(results []vectorindex.Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		provenance := r.Provenance
		if provenance == "" {
			provenance = "Unknown file"
		}
		content := r.Content
		if content == "" {
			content = "No content available"
		}
		parts[i] = "From " + provenance + ":\n" + content
	}
	return strings.Join(parts, "\n\n")
}
