package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}
	s := r.Reflect(&Config{})
	s.Version = "https://json-schema.org/draft/2020-12/schema"
	s.Title = "DittoRPC Configuration"
	s.Description = "Configuration schema for the DittoRPC server"
	return json.MarshalIndent(s, "", "  ")
}
