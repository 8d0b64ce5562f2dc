// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the generated configuration schema.
const SchemaID = "https://github.com/NyaDerator/DiscordBridgeMC/schemas/config.schema.json"

var (
	schemaMu    sync.Mutex
	schemaCache *jschema.Schema
)

// GenerateSchema generates a JSON Schema from the Config struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		FieldNameTag:               "yaml",
	}
	schema := r.Reflect(&Config{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "bridgemc configuration"
	schema.Description = "Schema for the bridgemc config.yaml file"
	schema.Required = []string{"version"}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Wrapf(err, "failed to marshal schema")
	}
	return data, nil
}

// ValidateSchema validates YAML data against the configuration schema.
func ValidateSchema(data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return oops.Code(CodeInvalidConfig).Errorf("config data is empty")
	}

	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return oops.Code(CodeInvalidConfig).Wrapf(err, "invalid YAML")
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}

	if err := sch.Validate(toJSONTypes(yamlData)); err != nil {
		return oops.Code(CodeInvalidConfig).Wrapf(err, "schema validation failed")
	}
	return nil
}

// FormatSchemaError formats a schema validation error for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.Index(msg, "schema validation failed: "); i >= 0 {
		msg = msg[i+len("schema validation failed: "):]
	}
	return msg
}

func compiledSchema() (*jschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if schemaCache != nil {
		return schemaCache, nil
	}

	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, oops.Wrapf(err, "failed to parse schema JSON")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("config.schema.json", schemaData); err != nil {
		return nil, oops.Wrapf(err, "failed to add schema resource")
	}
	sch, err := c.Compile("config.schema.json")
	if err != nil {
		return nil, oops.Wrapf(err, "failed to compile schema")
	}

	schemaCache = sch
	return sch, nil
}

// toJSONTypes converts YAML-decoded values into the types the validator
// expects. Integer map keys (limit indices written unquoted) become strings.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = toJSONTypes(v)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[fmt.Sprint(k)] = toJSONTypes(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = toJSONTypes(v)
		}
		return out
	case string, bool, int, int64, uint64, float64, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var out any
			if err := json.Unmarshal(b, &out); err == nil {
				return out
			}
		}
		return val
	}
}
