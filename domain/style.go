package domain

// Style is a pre-authored design direction.
type Style struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	PromptFragment string `json:"prompt_fragment" yaml:"prompt"`
}

// StyleCatalog is the fixed, ordered set of styles known at startup.
type StyleCatalog interface {
	List() []Style
	Get(id string) (Style, bool)
}
