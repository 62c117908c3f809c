package bundle

import (
	"fmt"

	"github.com/marcohefti/multiproc-lab/internal/codes"
	"gopkg.in/yaml.v3"
)

// ParseYAML reads a flat YAML mapping of scalars. The resolved YAML tag
// decides the kind, so `count: 3` is an int and `count: "3"` a string.
func ParseYAML(raw []byte) (Bundle, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Bundle{}, codes.Wrap(codes.MalformedBundle, err, "invalid bundle yaml")
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return Bundle{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return Bundle{}, malformed("bundle yaml must be a mapping")
	}
	in := make(map[string]any, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		kn, vn := root.Content[i], root.Content[i+1]
		if kn.Kind != yaml.ScalarNode {
			return Bundle{}, malformed("line %d: keys must be scalars", kn.Line)
		}
		if _, dup := in[kn.Value]; dup {
			return Bundle{}, malformed("line %d: duplicate key %q", kn.Line, kn.Value)
		}
		v, err := scalarFromNode(vn)
		if err != nil {
			return Bundle{}, malformed("line %d: key %q: %v", vn.Line, kn.Value, err)
		}
		in[kn.Value] = v
	}
	return Of(in)
}

func scalarFromNode(n *yaml.Node) (any, error) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if n.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("nested values are not supported")
	}
	switch n.ShortTag() {
	case "!!str":
		return n.Value, nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return nil, err
		}
		return i, nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return b, nil
	case "!!null":
		return nil, fmt.Errorf("null values are not supported")
	default:
		return nil, fmt.Errorf("unsupported yaml tag %s", n.ShortTag())
	}
}
