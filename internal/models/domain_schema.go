package models

// FieldDescriptor describes one payload field a domain expects.
type FieldDescriptor struct {
	ID        string `yaml:"id" json:"id"`
	Label     string `yaml:"label" json:"label"`
	Required  bool   `yaml:"required" json:"required"`
	MaxLength int    `yaml:"max_length" json:"max_length"`
}

// DomainSchema is the ordered field list for a (category, domain) pair.
type DomainSchema struct {
	Category Category          `yaml:"category" json:"category"`
	Domain   string            `yaml:"domain" json:"domain"`
	Fields   []FieldDescriptor `yaml:"fields" json:"fields"`
}
