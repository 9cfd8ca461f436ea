package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/zankora/agw/internal/domain"
)

// ValidateArgs checks args against the JSON Schema in the spec's Parameters
// field. A spec without a schema accepts anything. An uncompilable schema
// fails open so a bad plugin schema doesn't brick its tool.
func ValidateArgs(spec domain.ToolSpec, args map[string]any) error {
	if len(spec.Parameters) == 0 {
		return nil
	}

	schema, err := compileSchema(spec.Parameters)
	if err != nil {
		return nil
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("tool %s arguments invalid: %w", spec.Name, err)
	}
	return nil
}

// compileSchema compiles a schema document with a fresh compiler each call,
// avoiding resource-name collisions between tools.
func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	const url = "mem://tool/schema"
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}
