package convert

import (
	"encoding/json"
	"sort"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
)

// ToolDef records a tool declared in the client request: its name and the
// top-level parameter keys of its JSON schema. Stream converters use these
// to name a tool call when the upstream sends argument deltas before the
// tool name.
type ToolDef struct {
	Name string
	Keys []string
}

// NewToolDef extracts the schema property keys from a parameters schema.
func NewToolDef(name string, parameters json.RawMessage) ToolDef {
	def := ToolDef{Name: name}
	props := gjson.GetBytes(parameters, "properties")
	if props.IsObject() {
		props.ForEach(func(key, _ gjson.Result) bool {
			def.Keys = append(def.Keys, key.String())
			return true
		})
	}
	sort.Strings(def.Keys)
	return def
}

// InferToolName guesses which declared tool an argument payload belongs to
// by comparing JSON key sets. An exact key-set match wins; otherwise a
// subset match is used only when exactly one tool qualifies. Returns ""
// when the arguments are undecidable.
func InferToolName(arguments string, defs []ToolDef) string {
	keys := argumentKeys(arguments)
	if len(keys) == 0 || len(defs) == 0 {
		return ""
	}

	var exact, subset []string
	for _, def := range defs {
		switch {
		case equalKeySets(keys, def.Keys):
			exact = append(exact, def.Name)
		case isKeySubset(keys, def.Keys):
			subset = append(subset, def.Name)
		}
	}
	if len(exact) == 1 {
		return exact[0]
	}
	if len(exact) == 0 && len(subset) == 1 {
		return subset[0]
	}
	return ""
}

// jsonRepair wraps the jsonrepair library for use across the package.
func jsonRepair(s string) (string, error) {
	return jsonrepair.JSONRepair(s)
}

// argumentKeys extracts sorted top-level keys from an argument string,
// repairing truncated mid-stream JSON when needed.
func argumentKeys(arguments string) []string {
	s := arguments
	if !json.Valid([]byte(s)) {
		repaired, err := jsonrepair.JSONRepair(s)
		if err != nil {
			return nil
		}
		s = repaired
	}
	parsed := gjson.Parse(s)
	if !parsed.IsObject() {
		return nil
	}
	var keys []string
	parsed.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	sort.Strings(keys)
	return keys
}

func equalKeySets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isKeySubset reports whether every key of sub appears in super (both sorted).
func isKeySubset(sub, super []string) bool {
	i := 0
	for _, k := range sub {
		for i < len(super) && super[i] < k {
			i++
		}
		if i >= len(super) || super[i] != k {
			return false
		}
		i++
	}
	return true
}
