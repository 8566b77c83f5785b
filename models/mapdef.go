package models

// MapDefinition is the declarative, Git-backed definition of an architecture
// map as exchanged by the export/import/diff workflow. It is author-facing:
// components are addressed by external identifier only.
type MapDefinition struct {
	MapID      string                `yaml:"mapId" json:"mapId" validate:"required"`
	Name       string                `yaml:"name,omitempty" json:"name,omitempty"`
	Components []ComponentDefinition `yaml:"components" json:"components" validate:"dive"`
}

// ComponentDefinition is one component in a map definition.
type ComponentDefinition struct {
	ExternalID string          `yaml:"id" json:"externalId" validate:"required"`
	Name       string          `yaml:"name" json:"name" validate:"required"`
	Type       string          `yaml:"type" json:"type" validate:"required"`
	Config     ComponentConfig `yaml:"config" json:"config"`
	Position   Position        `yaml:"position,omitempty" json:"position"`
}

// Fingerprint returns the stable configuration hash of the definition entry,
// computed identically to Component.ConfigFingerprint so snapshot diffs can
// compare the two sides.
func (d ComponentDefinition) Fingerprint() string {
	c := Component{
		ExternalID: d.ExternalID,
		Name:       d.Name,
		Type:       d.Type,
		Config:     d.Config,
	}
	return c.ConfigFingerprint()
}

// Definition converts a stored component back to its author-facing form.
func (c *Component) Definition() ComponentDefinition {
	return ComponentDefinition{
		ExternalID: c.ExternalID,
		Name:       c.Name,
		Type:       c.Type,
		Config:     c.Config,
		Position:   c.Position,
	}
}
