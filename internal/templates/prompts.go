package templates

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/l0p7/domainscout/internal/opportunity"
)

// Template file names, embedded and looked up in the override folder.
const (
	SystemTemplate = "system.tmpl"
	UserTemplate   = "user.tmpl"
)

//go:embed defaults/*.tmpl
var defaults embed.FS

// PromptData is the value both prompt templates execute against.
type PromptData struct {
	Domain     string
	TLD        string
	Label      string
	Currency   string
	Categories []string
	Enrichment opportunity.Enrichment
}

// NewPromptData derives the template input for one opportunity.
func NewPromptData(opp opportunity.Opportunity) PromptData {
	label := strings.TrimSuffix(opp.Name, "."+opp.TLD)
	categories := make([]string, 0, len(opportunity.Categories))
	for _, c := range opportunity.Categories {
		categories = append(categories, string(c))
	}
	return PromptData{
		Domain:     opp.Name,
		TLD:        opp.TLD,
		Label:      label,
		Currency:   "CLP",
		Categories: categories,
		Enrichment: opp.Enrichment,
	}
}

type promptSet struct {
	system *Template
	user   *Template
}

// Prompts holds the active system and user templates. Reload swaps both
// atomically so a render never mixes two generations.
type Prompts struct {
	renderer *Renderer
	active   atomic.Pointer[promptSet]
}

// NewPrompts compiles the embedded prompts, overridden by any system.tmpl or
// user.tmpl present in folder. An empty folder uses the embedded prompts only.
func NewPrompts(folder string) (*Prompts, error) {
	var sandbox *Sandbox
	if strings.TrimSpace(folder) != "" {
		sb, err := NewSandbox(folder)
		if err != nil {
			return nil, err
		}
		sandbox = sb
	}
	p := &Prompts{renderer: NewRenderer(sandbox)}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Folder returns the override folder, or "" when only embedded prompts apply.
func (p *Prompts) Folder() string {
	if p.renderer.Sandbox() == nil {
		return ""
	}
	return p.renderer.Sandbox().Root()
}

// Reload recompiles both prompts. The previous set stays active on error.
func (p *Prompts) Reload() error {
	system, err := p.compile(SystemTemplate)
	if err != nil {
		return err
	}
	user, err := p.compile(UserTemplate)
	if err != nil {
		return err
	}
	p.active.Store(&promptSet{system: system, user: user})
	return nil
}

func (p *Prompts) compile(name string) (*Template, error) {
	if sb := p.renderer.Sandbox(); sb != nil && sb.Exists(name) {
		return p.renderer.CompileFile(name)
	}
	source, err := defaults.ReadFile("defaults/" + name)
	if err != nil {
		return nil, fmt.Errorf("templates: embedded %q: %w", name, err)
	}
	return p.renderer.Compile(name, string(source))
}

// Render produces the system and user messages for data.
func (p *Prompts) Render(data PromptData) (system, user string, err error) {
	set := p.active.Load()
	if set == nil {
		return "", "", errors.New("templates: prompts not loaded")
	}
	if system, err = set.system.Render(data); err != nil {
		return "", "", err
	}
	if user, err = set.user.Render(data); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(system), strings.TrimSpace(user), nil
}

// Watch reloads the prompts whenever a template in the override folder
// changes. Reload failures go to onError and keep the previous prompts.
func (p *Prompts) Watch(ctx context.Context, onReload func(), onError func(error)) (*Watcher, error) {
	folder := p.Folder()
	if folder == "" {
		return nil, errors.New("templates: no prompt folder configured for watching")
	}
	return watchFolder(ctx, folder, func() {
		if err := p.Reload(); err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onReload != nil {
			onReload()
		}
	}, onError)
}
