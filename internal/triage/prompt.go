package triage

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var rawPrompts []byte

type promptFile struct {
	Versions map[string]promptTexts `yaml:"versions"`
}

type promptTexts struct {
	Pass1System string `yaml:"pass1_system"`
	Pass1User   string `yaml:"pass1_user"`
	Pass2System string `yaml:"pass2_system"`
	Pass2User   string `yaml:"pass2_user"`
	Retry       string `yaml:"retry"`
}

// Pass1Data feeds the extraction prompt. Projects and Areas are the user's
// existing names, fetched best-effort; empty slices render nothing.
type Pass1Data struct {
	Dump       string
	Bullets    int
	Paragraphs int
	Headings   int
	Projects   []string
	Areas      []string
}

// Pass2Data feeds the enrichment prompt. Both payloads arrive pre-marshaled
// so callers keep their storage types out of this package.
type Pass2Data struct {
	CandidatesJSON string
	ContextsJSON   string
}

// RetryData feeds the correction prompt sent after a contract violation.
type RetryData struct {
	Prompt   string
	Response string
	Error    string
}

// PromptSet is one parsed version of the registry.
type PromptSet struct {
	Version     string
	pass1System string
	pass2System string
	pass1User   *template.Template
	pass2User   *template.Template
	retry       *template.Template
}

var promptFuncs = template.FuncMap{
	"join": strings.Join,
}

// LoadPrompts parses the embedded registry and returns the named version.
func LoadPrompts(version string) (*PromptSet, error) {
	var file promptFile
	if err := yaml.Unmarshal(rawPrompts, &file); err != nil {
		return nil, fmt.Errorf("parse prompt registry: %w", err)
	}
	texts, ok := file.Versions[version]
	if !ok {
		return nil, fmt.Errorf("unknown prompt version %q", version)
	}

	ps := &PromptSet{
		Version:     version,
		pass1System: strings.TrimSpace(texts.Pass1System),
		pass2System: strings.TrimSpace(texts.Pass2System),
	}
	for _, t := range []struct {
		name string
		text string
		dst  **template.Template
	}{
		{"pass1_user", texts.Pass1User, &ps.pass1User},
		{"pass2_user", texts.Pass2User, &ps.pass2User},
		{"retry", texts.Retry, &ps.retry},
	} {
		tmpl, err := template.New(t.name).Funcs(promptFuncs).Parse(t.text)
		if err != nil {
			return nil, fmt.Errorf("parse %s template (version %s): %w", t.name, version, err)
		}
		*t.dst = tmpl
	}
	return ps, nil
}

// Pass1System returns the extraction system text.
func (p *PromptSet) Pass1System() string { return p.pass1System }

// Pass2System returns the enrichment system text.
func (p *PromptSet) Pass2System() string { return p.pass2System }

// Pass1User renders the extraction user prompt.
func (p *PromptSet) Pass1User(data Pass1Data) (string, error) {
	return render(p.pass1User, data)
}

// Pass2User renders the enrichment user prompt.
func (p *PromptSet) Pass2User(data Pass2Data) (string, error) {
	return render(p.pass2User, data)
}

// Retry renders the correction prompt around a failed exchange.
func (p *PromptSet) Retry(data RetryData) (string, error) {
	return render(p.retry, data)
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
