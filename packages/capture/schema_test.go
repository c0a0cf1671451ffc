package capture

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `{
	"type": "object",
	"required": ["id", "name"],
	"properties": {
		"id": {"type": "integer"},
		"name": {"type": "string"}
	}
}`

func TestValidateSchema(t *testing.T) {
	assert.NoError(t, ValidateSchema([]byte(userSchema), []byte(`{"id":1,"name":"ada"}`)))

	err := ValidateSchema([]byte(userSchema), []byte(`{"id":"x"}`))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Len(t, schemaErr.Violations, 2)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestValidateSchema_InvalidDocument(t *testing.T) {
	err := ValidateSchema([]byte(userSchema), []byte(`not json`))

	require.Error(t, err)
	var schemaErr *SchemaError
	assert.False(t, errors.As(err, &schemaErr))
}

func TestValidateSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, os.WriteFile(path, []byte(userSchema), 0o644))

	assert.NoError(t, ValidateSchemaFile(path, []byte(`{"id":1,"name":"ada"}`)))
	assert.Error(t, ValidateSchemaFile(filepath.Join(t.TempDir(), "missing.json"), nil))
}
