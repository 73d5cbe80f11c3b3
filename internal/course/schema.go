package course

import (
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const descriptorSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "required": ["id", "version", "modules"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "title": {"type": "string"},
    "est_minutes": {"type": "integer", "minimum": 0},
    "roles": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {"id": {"type": "string", "minLength": 1}, "label": {"type": "string"}}
      }
    },
    "exam_prerequisites": {"type": "array", "items": {"type": "string"}},
    "certificate_gates": {"type": "array", "items": {"type": "string"}},
    "legacy_storage_keys": {"type": "array", "items": {"type": "string"}},
    "modules": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "steps"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "legacy_ids": {"type": "array", "items": {"type": "string"}},
          "steps": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["id", "type"],
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "title": {"type": "string"},
                "type": {"enum": ["overview", "runtime", "quiz", "exam"]},
                "pass_percent": {"type": "integer", "minimum": 0, "maximum": 100},
                "required_for_roles": {"type": "array", "items": {"type": "string"}},
                "legacy_ids": {"type": "array", "items": {"type": "string"}},
                "questions": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["prompt", "options", "correct_index"],
                    "properties": {
                      "prompt": {"type": "string"},
                      "options": {"type": "array", "minItems": 2, "items": {"type": "string"}},
                      "correct_index": {"type": "integer", "minimum": 0}
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
)

func descriptorSchema() *gojsonschema.Schema {
	schemaOnce.Do(func() {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(descriptorSchemaJSON))
		if err != nil {
			panic("course: invalid descriptor schema: " + err.Error())
		}
		schema = s
	})
	return schema
}
