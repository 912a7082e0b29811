package engine

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed rules.schema.json
var rulesSchemaJSON []byte

// rulesSchema is compiled once; a broken embedded schema is a programming error.
var rulesSchema = mustCompileSchema(rulesSchemaJSON)

func mustCompileSchema(raw []byte) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("rules schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("rules.schema.json", doc); err != nil {
		panic(fmt.Sprintf("rules schema: %v", err))
	}
	sch, err := c.Compile("rules.schema.json")
	if err != nil {
		panic(fmt.Sprintf("rules schema: %v", err))
	}
	return sch
}

// Rules is an ordered, read-only rule set. Order is significant: it breaks
// priority ties during advice selection.
type Rules []Rule

// LoadRules reads the rule set from path. It never fails: a missing or
// malformed source yields an empty rule set, which makes every transcript
// fall back to DefaultAdvice.
func LoadRules(path string, logger *zap.Logger) Rules {
	rules, err := ParseRulesFile(path)
	if err != nil {
		logger.Warn("rule store unavailable, continuing with no rules",
			zap.String("path", path),
			zap.Error(err),
		)
		return Rules{}
	}
	logger.Info("rules loaded",
		zap.String("path", path),
		zap.Int("count", len(rules)),
	)
	return rules
}

// ParseRulesFile reads and decodes a rule file, choosing the format by extension.
func ParseRulesFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ParseRulesFile: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseRulesYAML(data)
	default:
		return ParseRulesJSON(data)
	}
}

// ParseRulesJSON validates data against the rule schema and decodes it.
func ParseRulesJSON(data []byte) (Rules, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ParseRulesJSON: %w", err)
	}
	if err := rulesSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("ParseRulesJSON: %w", err)
	}

	var rules Rules
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("ParseRulesJSON: %w", err)
	}
	return normalizeRules(rules), nil
}

// ParseRulesYAML decodes a YAML rule list. The same structural checks as the
// JSON schema are applied after decoding.
func ParseRulesYAML(data []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("ParseRulesYAML: %w", err)
	}
	for i, r := range rules {
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("ParseRulesYAML: rule %d has no keywords", i)
		}
	}
	return normalizeRules(rules), nil
}

// normalizeRules lower-cases keywords and fills title/name from each other.
func normalizeRules(rules Rules) Rules {
	out := make(Rules, 0, len(rules))
	for _, r := range rules {
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			kws = append(kws, kw)
		}
		r.Keywords = kws
		if r.Title == "" {
			r.Title = r.Name
		}
		if r.Name == "" {
			r.Name = r.Title
		}
		out = append(out, r)
	}
	return out
}
