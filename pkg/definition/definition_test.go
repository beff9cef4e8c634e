package definition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/nest"
	"github.com/wehubfusion/Daedalus/pkg/rows"
	"github.com/wehubfusion/Daedalus/pkg/script"
)

const authorsDoc = `{
  "definitions": {
    "book": {"key": "bookId", "shape": "named", "properties": ["bookId", "title"]}
  },
  "root": {
    "key": "authorId",
    "shape": "named",
    "properties": [
      "authorId",
      {"name": {"expr": "row.first + ' ' + row.last"}},
      {"books": [{"ref": "book"}]}
    ]
  }
}`

func testEngine(t *testing.T) *script.Engine {
	t.Helper()
	eng, err := script.NewEngine(script.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestCompile_NamedWithRefAndExpression(t *testing.T) {
	doc, err := Compile([]byte(authorsDoc), WithEngine(testEngine(t)))
	require.NoError(t, err)

	got, err := doc.Root.Group([]rows.Row{
		rows.Record{"authorId": 1, "first": "Ursula", "last": "Le Guin", "bookId": 10, "title": "The Dispossessed"},
		rows.Record{"authorId": 1, "first": "Ursula", "last": "Le Guin", "bookId": 11, "title": "The Lathe of Heaven"},
		rows.Record{"authorId": 2, "first": "Octavia", "last": "Butler", "bookId": 20, "title": "Kindred"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0].(map[string]any)
	assert.Equal(t, 1, first["authorId"])
	assert.Equal(t, "Ursula Le Guin", first["name"])
	assert.Equal(t, []any{
		map[string]any{"bookId": 10, "title": "The Dispossessed"},
		map[string]any{"bookId": 11, "title": "The Lathe of Heaven"},
	}, first["books"])

	second := got[1].(map[string]any)
	assert.Equal(t, "Octavia Butler", second["name"])
	assert.Len(t, second["books"], 1)
}

func TestCompile_Positional(t *testing.T) {
	doc, err := Compile([]byte(`{
	  "root": {
	    "shape": "positional",
	    "properties": {
	      "id": 0,
	      "name": 1,
	      "address": {"key": 2, "shape": "positional", "properties": {"id": 2, "city": 3}},
	      "colors": [{"key": 4, "shape": "scalar"}]
	    }
	  }
	}`))
	require.NoError(t, err)
	assert.Equal(t, nest.ShapePositional, doc.Root.Shape())
	assert.Equal(t, rows.Index(0), doc.Root.Key())

	got, err := doc.Root.Group([]rows.Row{
		rows.Values{1, "Pascal", 7, "Lyon", "Blue"},
		rows.Values{1, "Pascal", 7, "Lyon", "Green"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{
		"id":      1,
		"name":    "Pascal",
		"address": map[string]any{"id": 7, "city": "Lyon"},
		"colors":  []any{"Blue", "Green"},
	}}, got)
}

func TestCompile_SharedDefinition(t *testing.T) {
	doc, err := Compile([]byte(`{
	  "definitions": {"tag": {"key": "tag", "shape": "scalar"}},
	  "root": {"key": "id", "shape": "named", "properties": [
	    {"tags": [{"ref": "tag"}]},
	    {"labels": [{"ref": "tag"}]}
	  ]}
	}`))
	require.NoError(t, err)

	tag, ok := doc.Lookup("tag")
	require.True(t, ok)
	assert.Equal(t, []string{"tag"}, doc.Names())
	assert.Equal(t, rows.Name("tag"), tag.Key())

	got, err := doc.Root.Group([]rows.Row{
		rows.Record{"id": 1, "tag": "a"},
		rows.Record{"id": 1, "tag": "b"},
	})
	require.NoError(t, err)
	obj := got[0].(map[string]any)
	assert.Equal(t, []any{"a", "b"}, obj["tags"])
	assert.Equal(t, []any{"a", "b"}, obj["labels"])
}

func TestCompile_ScriptProperty(t *testing.T) {
	doc, err := Compile([]byte(`{
	  "root": {"shape": "positional", "properties": {
	    "id": 0,
	    "total": {"script": "var s = 0; for (var i = 1; i < row.length; i++) { s += row[i]; } return s;"}
	  }}
	}`), WithEngine(testEngine(t)))
	require.NoError(t, err)

	got, err := doc.Root.Group([]rows.Row{rows.Values{1, 2, 3, 4}})
	require.NoError(t, err)
	assert.EqualValues(t, 9, got[0].(map[string]any)["total"])
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		sentinel error
		contains string
	}{
		{
			name:     "not json",
			doc:      `{"root":`,
			sentinel: derrors.ErrInvalidDefinition,
			contains: "not valid JSON",
		},
		{
			name:     "missing root",
			doc:      `{"definitions": {}}`,
			sentinel: derrors.ErrInvalidDefinition,
			contains: "root",
		},
		{
			name:     "unknown shape",
			doc:      `{"root": {"shape": "tabular"}}`,
			sentinel: derrors.ErrInvalidDefinition,
		},
		{
			name:     "scalar without key",
			doc:      `{"root": {"shape": "scalar"}}`,
			sentinel: derrors.ErrInvalidDefinition,
		},
		{
			name:     "negative index",
			doc:      `{"root": {"shape": "positional", "properties": {"id": -1}}}`,
			sentinel: derrors.ErrInvalidDefinition,
		},
		{
			name:     "two element list",
			doc:      `{"root": {"shape": "positional", "properties": {"xs": [{"ref": "a"}, {"ref": "b"}]}}}`,
			sentinel: derrors.ErrInvalidDefinition,
		},
		{
			name:     "unknown ref",
			doc:      `{"root": {"key": "id", "shape": "named", "properties": [{"x": {"ref": "nope"}}]}}`,
			sentinel: derrors.ErrUnknownReference,
			contains: `root.x: no definition named "nope"`,
		},
		{
			name: "cycle",
			doc: `{"definitions": {
			  "a": {"key": "a", "shape": "named", "properties": [{"b": {"ref": "b"}}]},
			  "b": {"key": "b", "shape": "named", "properties": [{"a": {"ref": "a"}}]}
			}, "root": {"key": "id", "shape": "named"}}`,
			sentinel: derrors.ErrInvalidDefinition,
			contains: "cyclic reference a -> b -> a",
		},
		{
			name:     "named without key",
			doc:      `{"root": {"shape": "named", "properties": ["id"]}}`,
			sentinel: derrors.ErrMissingKey,
			contains: "root",
		},
		{
			name:     "shape mismatch",
			doc:      `{"root": {"shape": "positional", "properties": ["id"]}}`,
			sentinel: derrors.ErrInvalidShape,
		},
		{
			name:     "expression without engine",
			doc:      `{"root": {"shape": "positional", "properties": {"x": {"expr": "1"}}}}`,
			sentinel: derrors.ErrInvalidProperty,
			contains: "root.x",
		},
		{
			name:     "duplicate property",
			doc:      `{"root": {"key": "id", "shape": "named", "properties": ["id", {"id": "other"}]}}`,
			sentinel: derrors.ErrInvalidProperty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.True(t, derrors.IsConfigError(err))
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestCompile_ScriptSyntaxError(t *testing.T) {
	_, err := Compile([]byte(`{"root": {"shape": "positional", "properties": {"x": {"expr": "row[0] +"}}}}`),
		WithEngine(testEngine(t)))
	require.Error(t, err)
	assert.ErrorIs(t, err, derrors.ErrInvalidProperty)
	assert.Contains(t, err.Error(), "root.x")

	var serr *script.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, script.ErrorTypeSyntax, serr.Type)
}

func TestValidate_ReportsLocation(t *testing.T) {
	err := Validate([]byte(`{"root": {"shape": "named", "key": "id", "extra": true}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, derrors.ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "/root")
}

func TestLoad(t *testing.T) {
	doc, err := Load(strings.NewReader(`{"root": {"key": "id", "shape": "named", "properties": ["id"]}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, doc.Root.Properties())
	assert.Empty(t, doc.Names())
}

func TestSchema_IsACopy(t *testing.T) {
	s := Schema()
	s[0] = 'x'
	assert.Equal(t, byte('{'), Schema()[0])
}
