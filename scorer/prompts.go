package scorer

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var (
	systemPromptTemplate = template.Must(template.ParseFS(promptFS, "prompts/system_prompt.tmpl"))
	chunkPromptTemplate  = template.Must(template.ParseFS(promptFS, "prompts/chunk_prompt.tmpl"))
)

// PromptData is the data available to prompt templates
type PromptData struct {
	Chunk    string // Chunk text
	Query    string // Query the chunk is scored against
	MaxScore int    // Upper end of the scoring range
}

// DefaultSystemPrompt renders the built-in system prompt for a scoring range
func DefaultSystemPrompt(maxScore int) string {
	prompt, err := renderPrompt(systemPromptTemplate, PromptData{MaxScore: maxScore})
	if err != nil {
		// The embedded template only references MaxScore.
		panic(err)
	}
	return prompt
}

// parsePromptTemplate returns the user prompt template, custom or built-in
func parsePromptTemplate(text string) (*template.Template, error) {
	if text == "" {
		return chunkPromptTemplate, nil
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, data PromptData) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %q: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}
