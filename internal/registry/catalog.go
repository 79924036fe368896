package registry

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ad/go-telegram-tutor/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Flows []flowFile `yaml:"flows"`
}

type flowFile struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Steps       []stepFile `yaml:"steps"`
}

type stepFile struct {
	ID                string     `yaml:"id"`
	Title             string     `yaml:"title"`
	Description       string     `yaml:"description"`
	EstimatedDuration string     `yaml:"estimated_duration"`
	Kind              string     `yaml:"kind"`
	InputPrompt       string     `yaml:"input_prompt"`
	Items             []itemFile `yaml:"items"`
}

type itemFile struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
}

// Catalog is the set of flows offered by the bot, in menu order.
type Catalog struct {
	flows []*Registry
	byID  map[string]*Registry
}

func NewCatalog(flows ...*Registry) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Registry, len(flows))}
	for _, flow := range flows {
		if _, dup := c.byID[flow.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate flow %s", ErrInvalidCatalog, flow.ID())
		}
		c.byID[flow.ID()] = flow
		c.flows = append(c.flows, flow)
	}
	return c, nil
}

func (c *Catalog) Flow(id string) (*Registry, bool) {
	r, ok := c.byID[id]
	return r, ok
}

func (c *Catalog) Flows() []*Registry {
	return append([]*Registry(nil), c.flows...)
}

// Default returns the embedded restaurant website tutorial.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	if len(file.Flows) == 0 {
		return nil, fmt.Errorf("%w: no flows defined", ErrInvalidCatalog)
	}

	flows := make([]*Registry, 0, len(file.Flows))
	for _, f := range file.Flows {
		steps := make([]models.Step, 0, len(f.Steps))
		for _, s := range f.Steps {
			step := models.Step{
				ID:                s.ID,
				Title:             s.Title,
				Description:       s.Description,
				EstimatedDuration: s.EstimatedDuration,
				Kind:              models.StepKind(s.Kind),
				InputPrompt:       s.InputPrompt,
			}
			for _, it := range s.Items {
				step.Items = append(step.Items, models.ChecklistItem{
					ID:          it.ID,
					Label:       it.Label,
					Description: it.Description,
				})
			}
			steps = append(steps, step)
		}
		reg, err := New(f.ID, f.Title, f.Description, steps)
		if err != nil {
			return nil, err
		}
		flows = append(flows, reg)
	}

	return NewCatalog(flows...)
}
