package campaign

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONBare(t *testing.T) {
	out, err := ExtractJSON(`{"summary": "ok", "done": true}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "ok", "done": true}`, out)
}

func TestExtractJSONFenced(t *testing.T) {
	raw := "Here is the plan:\n```json\n{\"summary\": \"ok\"}\n```\nDone."
	out, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "ok"}`, out)
}

func TestExtractJSONFenceWithoutLanguage(t *testing.T) {
	raw := "```\n{\"a\": 1}\n```"
	out, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, out)
}

func TestExtractJSONSurroundingProse(t *testing.T) {
	raw := `Sure! The result is {"tasks": [{"id": "t1"}]} — let me know.`
	out, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tasks": [{"id": "t1"}]}`, out)
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	raw := `{"detail": "use {curly} braces", "n": 1}`
	out, err := ExtractJSON(raw)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "use {curly} braces", parsed["detail"])
}

func TestExtractJSONRepairsTrailingCommas(t *testing.T) {
	raw := `{"tasks": ["a", "b",], "done": false,}`
	out, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)))
	assert.JSONEq(t, `{"tasks": ["a", "b"], "done": false}`, out)
}

func TestExtractJSONRepairsSingleQuotedKeys(t *testing.T) {
	raw := `{'summary': "ok", 'done': true}`
	out, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "ok", "done": true}`, out)
}

func TestExtractJSONNoObject(t *testing.T) {
	_, err := ExtractJSON("no json here")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}

func TestExtractJSONUnbalanced(t *testing.T) {
	_, err := ExtractJSON(`{"summary": "truncated`)
	require.Error(t, err)
}

func TestExtractJSONUnrepairable(t *testing.T) {
	_, err := ExtractJSON(`{broken: [}]}`)
	require.Error(t, err)
}
