package runner

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
)

// TemplateEngine renders request body templates. It is safe for concurrent use.
type TemplateEngine struct {
	fileCache map[string][]string
	mu        sync.RWMutex
	funcMap   template.FuncMap
}

// TemplateData is the execution context of a body template.
type TemplateData struct {
	Username string
	Password string
	UUID     string
	Attempt  int
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		fileCache: make(map[string][]string),
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   e.randomUUID,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
	}

	return e
}

// Preprocess converts the short placeholders {{username}}, {{password}},
// {{uuid}} and {{attempt}} to field references.
func (e *TemplateEngine) Preprocess(input string) string {
	return strings.NewReplacer(
		"{{username}}", "{{.Username}}",
		"{{password}}", "{{.Password}}",
		"{{uuid}}", "{{.UUID}}",
		"{{attempt}}", "{{.Attempt}}",
	).Replace(input)
}

func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(e.funcMap).Option("missingkey=error").Parse(e.Preprocess(text))
}

func (e *TemplateEngine) Execute(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *TemplateEngine) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return rand.IntN(max-min) + min
}

func (e *TemplateEngine) randomUUID() string {
	return uuid.NewString()
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.IntN(len(choices))]
}

func (e *TemplateEngine) randomLine(filename string) (string, error) {
	e.mu.RLock()
	lines, ok := e.fileCache[filename]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if lines, ok = e.fileCache[filename]; !ok {
			loaded, err := LoadWordlist(filename)
			if err != nil {
				e.mu.Unlock()
				return "", fmt.Errorf("randomLine: %w", err)
			}
			e.fileCache[filename] = loaded
			lines = loaded
		}
		e.mu.Unlock()
	}

	if len(lines) == 0 {
		return "", nil
	}
	return lines[rand.IntN(len(lines))], nil
}
