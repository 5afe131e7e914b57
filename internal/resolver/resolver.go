// ABOUTME: Path-addressed template resolver over workflow input and task outputs
// ABOUTME: Provides zero-copy passthrough for whole-output substitution via gjson

package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/forgeflow/core/pkg/types"
)

// exprPattern matches a single {{...}} occurrence inside a template
// string, capturing the expression body.
var exprPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolve substitutes every {{expression}} occurrence in tmpl against
// ctx. A template containing exactly one expression and no surrounding
// text resolves to the passthrough form when the expression is
// "tasks.<id>.output" with no further path: the stored raw bytes are
// returned verbatim, without parsing or reserializing. Any other shape
// resolves each leaf to its string form and splices it into the
// surrounding text.
func Resolve(tmpl string, ctx *types.TemplateContext) (string, error) {
	matches := exprPattern.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return tmpl, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(tmpl) {
		expr := tmpl[matches[0][2]:matches[0][3]]
		return resolveSingle(expr, ctx)
	}

	var out strings.Builder
	last := 0
	for _, m := range matches {
		out.WriteString(tmpl[last:m[0]])
		expr := tmpl[m[2]:m[3]]
		val, err := resolveSingle(expr, ctx)
		if err != nil {
			return "", err
		}
		out.WriteString(val)
		last = m[1]
	}
	out.WriteString(tmpl[last:])
	return out.String(), nil
}

// resolveSingle resolves one expression body (without the surrounding
// {{ }}) to its string form, applying the passthrough rule when the
// expression addresses a whole task output with no further path.
func resolveSingle(expr string, ctx *types.TemplateContext) (string, error) {
	expr = strings.TrimSpace(expr)
	root, rest, _ := strings.Cut(expr, ".")

	switch root {
	case "input":
		return resolveInput(expr, rest, ctx)
	case "tasks":
		return resolveTask(expr, rest, ctx)
	default:
		return "", types.NewTemplateResolutionError(expr, root, "unknown root, expected 'input' or 'tasks'", nil)
	}
}

func resolveInput(expr, path string, ctx *types.TemplateContext) (string, error) {
	val, err := navigateMap(ctx.Input, path)
	if err != nil {
		return "", types.NewTemplateResolutionError(expr, path, err.Error(), err)
	}
	return formatLeaf(val), nil
}

// resolveTask handles the "tasks." root. rest is everything after
// "tasks.", e.g. "X.output", "X.output.value", "X.output[0].value".
func resolveTask(expr, rest string, ctx *types.TemplateContext) (string, error) {
	taskID, outputRest, ok := strings.Cut(rest, ".output")
	if !ok {
		return "", types.NewTemplateResolutionError(expr, rest, "expected 'tasks.<id>.output'", nil)
	}

	if ctx.TaskOutputs == nil {
		return "", types.NewTemplateResolutionError(expr, taskID, "unknown task id", nil)
	}
	raw, found := ctx.TaskOutputs.GetRawJson(taskID)
	if !found {
		return "", types.NewTemplateResolutionError(expr, taskID, "unknown task id", nil)
	}

	// outputRest is either "" (passthrough), "[n]..." (array index
	// immediately after output), or ".path..." (object field).
	if outputRest == "" {
		return string(raw), nil
	}

	path := strings.TrimPrefix(outputRest, ".")
	// bracket notation directly after "output", e.g. output[0].x
	if strings.HasPrefix(outputRest, "[") {
		path = outputRest
	}

	value, err := ctx.TaskOutputs.GetValue(taskID, path)
	if err != nil {
		return "", types.NewTemplateResolutionError(expr, path, err.Error(), err)
	}
	return formatLeaf(value), nil
}

// navigateMap walks a dotted/bracketed path through a plain Go map,
// used for the "input" root (which is not backed by gjson since the
// caller supplies it as a live map, not raw JSON bytes).
func navigateMap(root map[string]any, path string) (any, error) {
	if path == "" {
		return root, nil
	}

	var cur any = root
	for _, seg := range splitPath(path) {
		name, idx, hasIdx := parseSegment(seg)

		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot navigate through non-container at '%s'", name)
		}
		val, exists := m[name]
		if !exists {
			return nil, fmt.Errorf("missing segment '%s'", name)
		}
		cur = val

		if hasIdx {
			arr, ok := cur.([]any)
			if !ok {
				return nil, fmt.Errorf("cannot index non-array at '%s'", name)
			}
			if idx < 0 || idx >= len(arr) {
				return nil, fmt.Errorf("index %d out of range at '%s'", idx, name)
			}
			cur = arr[idx]
		}
	}
	return cur, nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// parseSegment splits "name[3]" into ("name", 3, true), or "name"
// into ("name", 0, false).
func parseSegment(seg string) (name string, idx int, hasIdx bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, 0, false
	}
	name = seg[:open]
	close := strings.IndexByte(seg, ']')
	if close < open {
		return seg, 0, false
	}
	fmt.Sscanf(seg[open+1:close], "%d", &idx)
	return name, idx, true
}

// formatLeaf converts a resolved leaf value to its template-substituted
// string form per the resolver's formatting rules: strings unquoted,
// booleans lowercase, numbers shortest round-trippable, null as empty
// string, and objects/arrays as canonical JSON.
func formatLeaf(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case gjson.Result:
		return formatGjson(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatGjson(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return ""
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	case gjson.String:
		return r.String()
	case gjson.Number:
		return r.Raw
	case gjson.JSON:
		return r.Raw
	default:
		return r.String()
	}
}
