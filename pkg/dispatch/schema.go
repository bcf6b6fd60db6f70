package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tfarhan00/tahu-program/pkg/dao"
)

const updateDAOSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"dao_id": {"type": "string", "minLength": 1},
		"new_name": {"type": "string"},
		"new_description": {"type": "string"},
		"new_members": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		},
		"new_voting_thresholds": {
			"type": "object",
			"additionalProperties": false,
			"required": [
				"proposal_creation_threshold",
				"vote_approval_threshold",
				"vote_participation_threshold"
			],
			"properties": {
				"proposal_creation_threshold": {"type": "integer", "minimum": 0},
				"vote_approval_threshold": {"type": "integer", "minimum": 0},
				"vote_participation_threshold": {"type": "integer", "minimum": 0}
			}
		}
	}
}`

const memberUpdateSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"required": ["action"],
	"properties": {
		"dao_id": {"type": "string", "minLength": 1},
		"action": {"enum": ["add", "remove", "replace"]},
		"replacement": {"type": "string", "minLength": 1}
	},
	"if": {"properties": {"action": {"const": "replace"}}},
	"then": {"required": ["replacement"]}
}`

var schemaSources = map[dao.ChangeKind]string{
	dao.ChangeKindUpdateDAO:    updateDAOSchema,
	dao.ChangeKindUpdateMember: memberUpdateSchema,
}

var (
	schemasOnce sync.Once
	schemas     map[dao.ChangeKind]*jsonschema.Schema
	schemasErr  error
)

func compiledSchemas() (map[dao.ChangeKind]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		out := make(map[dao.ChangeKind]*jsonschema.Schema, len(schemaSources))
		for kind, src := range schemaSources {
			c := jsonschema.NewCompiler()
			c.Draft = jsonschema.Draft2020
			url := fmt.Sprintf("https://tahu.schemas.local/changes/%s.schema.json", strings.ToLower(string(kind)))
			if err := c.AddResource(url, strings.NewReader(src)); err != nil {
				schemasErr = fmt.Errorf("change schema load failed: %w", err)
				return
			}
			compiled, err := c.Compile(url)
			if err != nil {
				schemasErr = fmt.Errorf("change schema compile failed: %w", err)
				return
			}
			out[kind] = compiled
		}
		schemas = out
	})
	return schemas, schemasErr
}

// decodePayload validates payload against the schema for kind and decodes
// it into dst, rejecting unknown fields and trailing data.
func decodePayload(kind dao.ChangeKind, payload []byte, dst any) error {
	all, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := all[kind]
	if !ok {
		return fmt.Errorf("%w: no schema for %s", dao.ErrMalformedChangePayload, kind)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %s payload is not JSON: %v", dao.ErrMalformedChangePayload, kind, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s payload has trailing data", dao.ErrMalformedChangePayload, kind)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s payload: %v", dao.ErrMalformedChangePayload, kind, err)
	}

	strict := json.NewDecoder(bytes.NewReader(payload))
	strict.DisallowUnknownFields()
	if err := strict.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", dao.ErrMalformedChangePayload, kind, err)
	}
	return nil
}
