package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mi6Fsoc/reroom-prototype/domain"
)

//go:embed styles.yaml
var embeddedStyles []byte

var ErrInvalidCatalog = errors.New("invalid style catalog")

// Catalog is an immutable, ordered style list.
type Catalog struct {
	styles []domain.Style
	byID   map[string]int
}

type catalogFile struct {
	Styles []domain.Style `yaml:"styles"`
}

// Default returns the catalog shipped with the binary.
func Default() (*Catalog, error) {
	return Parse(embeddedStyles)
}

// Parse builds a catalog from YAML. Every style needs a unique id, a name and
// a prompt fragment.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(file.Styles) == 0 {
		return nil, fmt.Errorf("%w: no styles", ErrInvalidCatalog)
	}

	c := &Catalog{
		styles: make([]domain.Style, 0, len(file.Styles)),
		byID:   make(map[string]int, len(file.Styles)),
	}
	for i, s := range file.Styles {
		s.ID = strings.TrimSpace(s.ID)
		s.Name = strings.TrimSpace(s.Name)
		s.PromptFragment = strings.TrimSpace(s.PromptFragment)
		if s.ID == "" || s.Name == "" || s.PromptFragment == "" {
			return nil, fmt.Errorf("%w: style %d is incomplete", ErrInvalidCatalog, i)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate style id %q", ErrInvalidCatalog, s.ID)
		}
		c.byID[s.ID] = len(c.styles)
		c.styles = append(c.styles, s)
	}
	return c, nil
}

// List returns the styles in display order. The slice is a copy.
func (c *Catalog) List() []domain.Style {
	return append([]domain.Style(nil), c.styles...)
}

func (c *Catalog) Get(id string) (domain.Style, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Style{}, false
	}
	return c.styles[i], true
}
