package backend

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"agntschat/internal/domain"
)

// Persona is a parsed persona file: YAML front matter followed by a system
// prompt body.
type Persona struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Model       struct {
		Parameters struct {
			MaxTokens   int      `yaml:"max_tokens"`
			Temperature *float64 `yaml:"temperature"`
		} `yaml:"parameters"`
	} `yaml:"model"`
	Body string `yaml:"-"`
}

// Prompt is the rendered system prompt for one agent call.
type Prompt struct {
	System      string
	MaxTokens   int
	Temperature *float64
}

// PromptLibrary loads agent instruction and persona files. Relative
// references resolve against dir.
type PromptLibrary struct {
	dir string
}

// NewPromptLibrary creates a library rooted at dir.
func NewPromptLibrary(dir string) *PromptLibrary {
	return &PromptLibrary{dir: dir}
}

// Render builds the system prompt for agent, substituting args into both
// files. An agent without files gets a prompt built from its description.
func (l *PromptLibrary) Render(agent domain.AgentDescriptor, args map[string]string) (Prompt, error) {
	var parts []string
	var p Prompt

	if agent.InstructionsRef != "" {
		text, err := l.read(agent.InstructionsRef)
		if err != nil {
			return p, fmt.Errorf("agent %q instructions: %w", agent.Name, err)
		}
		parts = append(parts, substitute(text, args))
	}
	if agent.PersonaRef != "" {
		text, err := l.read(agent.PersonaRef)
		if err != nil {
			return p, fmt.Errorf("agent %q persona: %w", agent.Name, err)
		}
		persona, err := ParsePersona(text)
		if err != nil {
			return p, fmt.Errorf("agent %q persona: %w", agent.Name, err)
		}
		parts = append(parts, substitute(persona.Body, args))
		p.MaxTokens = persona.Model.Parameters.MaxTokens
		p.Temperature = persona.Model.Parameters.Temperature
	}
	if len(parts) == 0 {
		parts = append(parts, fallbackPrompt(agent))
	}

	p.System = strings.TrimSpace(strings.Join(parts, "\n\n"))
	return p, nil
}

func (l *PromptLibrary) read(ref string) (string, error) {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, ref)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var frontMatterDelim = []byte("---")

// ParsePersona splits a persona file into its front matter and body. A
// leading "system:" role marker in the body is dropped.
func ParsePersona(text string) (Persona, error) {
	var p Persona
	data := bytes.TrimLeft([]byte(text), "\ufeff \t\r\n")
	body := data

	if bytes.HasPrefix(data, frontMatterDelim) {
		rest := data[len(frontMatterDelim):]
		end := bytes.Index(rest, []byte("\n---"))
		if end < 0 {
			return p, fmt.Errorf("unterminated front matter")
		}
		if err := yaml.Unmarshal(rest[:end], &p); err != nil {
			return p, fmt.Errorf("parse front matter: %w", err)
		}
		body = rest[end+len("\n---"):]
	}

	s := strings.TrimSpace(string(body))
	if after, ok := strings.CutPrefix(s, "system:"); ok {
		s = strings.TrimSpace(after)
	}
	p.Body = s
	return p, nil
}

// templateVar matches {{name}}, {{ name }} and {{$name}} placeholders.
var templateVar = regexp.MustCompile(`\{\{\s*\$?([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// substitute replaces placeholders with their argument values. Unknown
// names render empty.
func substitute(text string, args map[string]string) string {
	return templateVar.ReplaceAllStringFunc(text, func(m string) string {
		name := templateVar.FindStringSubmatch(m)[1]
		return args[name]
	})
}

func fallbackPrompt(agent domain.AgentDescriptor) string {
	if agent.Description == "" {
		return "You are " + agent.Name + "."
	}
	return fmt.Sprintf("You are %s. %s", agent.Name, agent.Description)
}
