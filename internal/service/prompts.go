package service

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/alphaledger/internal/llm"
)

//go:embed prompts.yaml
var promptsYAML []byte

// PromptTemplate is one generation prompt with its output schema.
type PromptTemplate struct {
	Name        string  `yaml:"name"`
	Temperature float32 `yaml:"temperature"`
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
	Schema      string  `yaml:"schema"`

	tmpl *template.Template
}

// Prompts holds every prompt the services send.
type Prompts struct {
	Extraction         PromptTemplate `yaml:"extraction"`
	SemanticComparison PromptTemplate `yaml:"semantic_comparison"`
	Horizon            PromptTemplate `yaml:"horizon"`
	Synthesis          PromptTemplate `yaml:"synthesis"`
}

// LoadPrompts parses the embedded prompt set.
func LoadPrompts() (*Prompts, error) {
	return ParsePrompts(promptsYAML)
}

// MustLoadPrompts panics if the embedded prompt set is invalid.
func MustLoadPrompts() *Prompts {
	p, err := LoadPrompts()
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePrompts parses a prompt set and compiles its templates.
func ParsePrompts(raw []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	for key, t := range map[string]*PromptTemplate{
		"extraction":          &p.Extraction,
		"semantic_comparison": &p.SemanticComparison,
		"horizon":             &p.Horizon,
		"synthesis":           &p.Synthesis,
	} {
		if err := t.compile(key); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (t *PromptTemplate) compile(key string) error {
	if strings.TrimSpace(t.User) == "" {
		return fmt.Errorf("prompt %s: user template is empty", key)
	}
	if t.Name == "" {
		t.Name = key
	}
	if t.Schema != "" && !json.Valid([]byte(t.Schema)) {
		return fmt.Errorf("prompt %s: schema is not valid JSON", key)
	}
	tmpl, err := template.New(key).Option("missingkey=error").Parse(t.User)
	if err != nil {
		return fmt.Errorf("prompt %s: %w", key, err)
	}
	t.tmpl = tmpl
	return nil
}

// Request renders the user template with data.
func (t *PromptTemplate) Request(data any) (llm.StructuredRequest, error) {
	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, data); err != nil {
		return llm.StructuredRequest{}, fmt.Errorf("render prompt %s: %w", t.Name, err)
	}
	req := llm.StructuredRequest{
		Name:        t.Name,
		System:      strings.TrimSpace(t.System),
		Prompt:      sb.String(),
		Temperature: t.Temperature,
	}
	if t.Schema != "" {
		req.Schema = json.RawMessage(t.Schema)
	}
	return req, nil
}
