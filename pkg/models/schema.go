package models

// JSONSchema describes the configuration a step type accepts
type JSONSchema struct {
	Type        string               `json:"type"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Property represents a JSON Schema property
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// StepTypeInfo is the public description of a registered step handler
type StepTypeInfo struct {
	Type        StepType    `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	FanOut      bool        `json:"fan_out"`
	Schema      *JSONSchema `json:"schema"`
}
