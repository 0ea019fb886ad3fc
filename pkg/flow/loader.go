package flow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Definition is the YAML authoring shape of a flow. Node ids are the
// map keys, which makes them unique by construction.
type Definition struct {
	Metadata MetadataDefinition        `yaml:"metadata"`
	Nodes    map[string]NodeDefinition `yaml:"nodes"`
}

// MetadataDefinition holds flow-level metadata.
type MetadataDefinition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Tenant      string `yaml:"tenant"`
	Active      *bool  `yaml:"active"`
}

// NodeDefinition is the YAML shape of a single node.
type NodeDefinition struct {
	Kind     string                 `yaml:"kind"`
	Content  string                 `yaml:"content"`
	Config   map[string]interface{} `yaml:"config"`
	Next     []string               `yaml:"next"`
	Position Position               `yaml:"position"`
}

var nodeKinds = map[NodeKind]bool{
	KindTrigger:      true,
	KindCondition:    true,
	KindResponse:     true,
	KindRetrieval:    true,
	KindAction:       true,
	KindExternalCall: true,
}

// Parse unmarshals a YAML flow definition.
func Parse(source []byte) (*Definition, error) {
	def := &Definition{}
	if err := yaml.Unmarshal(source, def); err != nil {
		return nil, fmt.Errorf("invalid flow YAML: %w", err)
	}
	if def.Metadata.Name == "" {
		return nil, fmt.Errorf("%w: flow requires metadata.name", ErrInvalidConfig)
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("%w: flow requires at least one node", ErrInvalidConfig)
	}
	return def, nil
}

// Compile validates a definition and produces an immutable Flow. All
// configuration errors (unknown kinds, dangling connections, malformed
// condition rules, missing required retrieval settings) are reported
// here so they never surface mid-conversation.
func Compile(id string, def *Definition) (*Flow, error) {
	active := true
	if def.Metadata.Active != nil {
		active = *def.Metadata.Active
	}

	f := &Flow{
		ID:          id,
		TenantID:    def.Metadata.Tenant,
		Name:        def.Metadata.Name,
		Description: def.Metadata.Description,
		Active:      active,
		Nodes:       make(map[string]*Node, len(def.Nodes)),
	}

	for nodeID, nodeDef := range def.Nodes {
		kind := NodeKind(nodeDef.Kind)
		if !nodeKinds[kind] {
			return nil, fmt.Errorf("%w: %q on node %q", ErrUnknownNodeKind, nodeDef.Kind, nodeID)
		}

		node := &Node{
			ID:       nodeID,
			Kind:     kind,
			Content:  nodeDef.Content,
			Next:     nodeDef.Next,
			Position: nodeDef.Position,
		}

		config := nodeDef.Config
		if config == nil {
			config = map[string]interface{}{}
		}
		if err := decodeConfig(node, config); err != nil {
			return nil, err
		}

		f.Nodes[nodeID] = node
	}

	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Load parses and compiles a YAML definition in one step.
func Load(id string, source []byte) (*Flow, error) {
	def, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return Compile(id, def)
}
