package graph

import (
	"fmt"
	"strings"
)

// resolveBindings builds a vertex's input map from its declared bindings,
// the run Context, and an auxiliary input map (the caller- or
// parent-supplied inputs of the run, which the scheduler hands to every
// vertex of that run alike). Aux entries not shadowed
// by a binding pass through verbatim.
func resolveBindings(rc *Context, bindings []Binding, aux map[string]any) (map[string]any, error) {
	input := make(map[string]any, len(bindings)+len(aux))
	for k, v := range aux {
		input[k] = v
	}

	for _, b := range bindings {
		value, err := resolveOne(rc, b, aux)
		if err != nil {
			return nil, err
		}
		input[b.LocalVar] = value
	}
	return input, nil
}

func resolveOne(rc *Context, b Binding, aux map[string]any) (any, error) {
	var (
		raw   any
		found bool
	)

	switch b.SourceScope {
	case "":
		raw, found = aux[b.SourceVar]
		if b.SourceVar == "" {
			raw, found = aux[b.LocalVar]
		}
	case ScopeSubgraphSource:
		raw, found = rc.parentLookup(b.SourceVar)
		if !found && b.SourceVar == "" {
			raw, found = rc.parentLookup(b.LocalVar)
		}
	case ScopeEnv:
		raw, found = rc.Env()[b.SourceVar]
		if !found && b.SourceVar == "" {
			raw, found = rc.Env()[b.LocalVar]
		}
	default:
		output, ok := rc.Output(b.SourceScope)
		if !ok {
			return nil, &VertexError{Tag: ErrMissingDependency, Cause: fmt.Errorf("producer %s has not completed", b.SourceScope)}
		}
		raw = output
		found = true
		if b.SourceVar != "" {
			if field, ok := output[b.SourceVar]; ok {
				raw = field
			} else {
				return nil, &VertexError{Tag: ErrMissingDependency, Cause: fmt.Errorf("producer %s output has no field %q", b.SourceScope, b.SourceVar)}
			}
		}
	}

	if !found {
		return nil, &VertexError{Tag: ErrMissingDependency, Cause: fmt.Errorf("no value for binding %+v", b)}
	}
	return raw, nil
}

// substituteTemplate performs one-pass {{name}} substitution on s using
// values from input. Names not found in input raise MissingTemplateVariable
// before the task runs. Recursive expansion is never attempted, so a
// substituted value containing {{...}} is left untouched.
func substituteTemplate(s string, input map[string]any) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "{{")
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		start += i
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		end += start

		b.WriteString(s[i:start])
		name := strings.TrimSpace(s[start+2 : end])
		value, ok := input[name]
		if !ok {
			return "", &VertexError{Tag: ErrMissingTemplateVariable, Cause: fmt.Errorf("template variable %q not found in resolved input", name)}
		}
		b.WriteString(stringify(value))
		i = end + 2
	}
	return b.String(), nil
}

// stringify renders an arbitrary resolved value as text for template
// interpolation. Strings pass through unchanged; everything else uses its
// default formatting.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
