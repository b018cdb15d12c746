package report

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is an ordered set of YAML fields rendered at the top of a
// markdown report.
type Frontmatter struct {
	keys   []string
	values map[string]interface{}
}

// NewFrontmatter creates an empty frontmatter.
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{values: make(map[string]interface{})}
}

// Set adds or replaces a field, keeping first-insertion order.
func (f *Frontmatter) Set(key string, value interface{}) {
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Render produces the frontmatter block with delimiters, or "" when empty.
func (f *Frontmatter) Render() (string, error) {
	if len(f.keys) == 0 {
		return "", nil
	}
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range f.keys {
		var v yaml.Node
		if err := v.Encode(f.values[k]); err != nil {
			return "", err
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &v)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(out)
	sb.WriteString("---\n\n")
	return sb.String(), nil
}
