package templates

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// seedFile is the YAML layout of a template seed file:
//
//	templates:
//	  - name: Freight inquiry reply
//	    category: email
//	    subject: "Re: {{company_name}}"
//	    content: "Hi {{name}}, ..."
//	    variables:
//	      - {name: name, type: string, required: true}
type seedFile struct {
	Templates []models.TemplateDraft `yaml:"templates"`
}

// LoadSeedFile creates every template in the YAML file for tenantID,
// skipping names the tenant already has. It returns the number created.
func (e *Engine) LoadSeedFile(ctx context.Context, path, tenantID string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read template seed: %w", err)
	}
	return e.LoadSeed(ctx, data, tenantID)
}

// LoadSeed is LoadSeedFile over an in-memory document.
func (e *Engine) LoadSeed(ctx context.Context, data []byte, tenantID string) (int, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse template seed: %w", err)
	}

	existing, err := e.List(ctx, tenantID, models.TemplateFilter{})
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t.Name] = true
	}

	created := 0
	for _, d := range seed.Templates {
		if have[d.Name] {
			continue
		}
		if _, err := e.Create(ctx, tenantID, "seed", d); err != nil {
			return created, fmt.Errorf("seed template %q: %w", d.Name, err)
		}
		have[d.Name] = true
		created++
	}
	log.Info().Str("tenant", tenantID).Int("created", created).Msg("Template seed loaded")
	return created, nil
}
