package runner

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hearthward/warden/pkg/contracts"
)

// Firewall validates intent parameters against per-action JSON Schemas
// before dispatch. Actions without a registered schema pass through.
type Firewall struct {
	schemas map[contracts.ActionType]*jsonschema.Schema
}

// NewFirewall creates an empty parameter firewall.
func NewFirewall() *Firewall {
	return &Firewall{schemas: make(map[contracts.ActionType]*jsonschema.Schema)}
}

// Register compiles and installs a JSON Schema for an action type.
func (f *Firewall) Register(action contracts.ActionType, schema string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://warden.schemas.local/runner/%s.schema.json", strings.ToLower(string(action)))
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("runner: schema load for %s failed: %w", action, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("runner: schema compile for %s failed: %w", action, err)
	}
	f.schemas[action] = compiled
	return nil
}

// Check validates params for the action. A schema violation is a
// validation-class failure, distinct from authorization failures.
func (f *Firewall) Check(action contracts.ActionType, params map[string]any) error {
	schema, ok := f.schemas[action]
	if !ok {
		return nil
	}
	// jsonschema validates generic values; a nil map is an empty object.
	var doc any = map[string]any{}
	if params != nil {
		generic := make(map[string]any, len(params))
		for k, v := range params {
			generic[k] = v
		}
		doc = generic
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: parameters for %s: %v", contracts.ErrValidation, action, err)
	}
	return nil
}

// DefaultWriteFileSchema requires file writes to declare their content.
const DefaultWriteFileSchema = `{
	"type": "object",
	"properties": {
		"content": {"type": "string"}
	},
	"required": ["content"]
}`

// DefaultWriteMemorySchema requires memory writes to carry a fact.
const DefaultWriteMemorySchema = `{
	"type": "object",
	"properties": {
		"fact": {"type": "string", "minLength": 1},
		"sanitized": {"type": "boolean"}
	},
	"required": ["fact"]
}`
