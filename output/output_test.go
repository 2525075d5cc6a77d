package output

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type movieScript struct {
	Setting    string   `json:"setting" jsonschema_description:"Provide a nice setting for a blockbuster movie."`
	Characters []string `json:"characters"`
	Rating     int      `json:"rating,omitempty"`
}

func TestSchemaFor(t *testing.T) {
	s, err := SchemaFor(movieScript{})
	require.NoError(t, err)

	assert.Equal(t, []string{"setting", "characters", "rating"}, s.Fields)
	setting := s.Properties["setting"].(map[string]any)
	assert.Equal(t, "string", setting["type"])
	assert.Equal(t, "Provide a nice setting for a blockbuster movie.", setting["description"])

	_, err = SchemaFor(nil)
	assert.Error(t, err)
}

func TestSchemaFor_AnonymousStruct(t *testing.T) {
	s, err := SchemaFor(struct {
		Title string `json:"title"`
		Year  int    `json:"year"`
	}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "year"}, s.Fields)

	v, err := s.Parse(`{"title": "Heat", "year": 1995}`)
	require.NoError(t, err)
	assert.Equal(t, struct {
		Title string `json:"title"`
		Year  int    `json:"year"`
	}{Title: "Heat", Year: 1995}, v)
}

func TestSchema_Prompt(t *testing.T) {
	s, err := SchemaFor(&movieScript{})
	require.NoError(t, err)

	p := s.Prompt()
	assert.Contains(t, p, "\nProvide your output as a JSON containing the following fields:")
	assert.Contains(t, p, "<json_fields>\n[\"setting\",\"characters\",\"rating\"]\n</json_fields>")
	assert.Contains(t, p, "<json_field_properties>")
	assert.Contains(t, p, "\nStart your response with `{` and end it with `}`.")
	assert.Equal(t, p, s.Prompt())

	plain := FieldsSchema("name", "age").Prompt()
	assert.Contains(t, plain, `["name","age"]`)
	assert.NotContains(t, plain, "<json_field_properties>")
}

func TestSchema_Parse(t *testing.T) {
	s, err := SchemaFor(movieScript{})
	require.NoError(t, err)

	t.Run("plain json", func(t *testing.T) {
		v, err := s.Parse(`{"setting":"Mars","characters":["Ada"]}`)
		require.NoError(t, err)
		assert.Equal(t, movieScript{Setting: "Mars", Characters: []string{"Ada"}}, v)
	})

	t.Run("fenced json", func(t *testing.T) {
		v, err := s.Parse("```json\n{\"setting\":\"Moon\",\"characters\":[],\"rating\":4}\n```")
		require.NoError(t, err)
		assert.Equal(t, movieScript{Setting: "Moon", Characters: []string{}, Rating: 4}, v)
	})

	t.Run("fence with prose", func(t *testing.T) {
		v, err := s.Parse("Here you go:\n```\n{\"setting\":\"Venus\"}\n```\nEnjoy!")
		require.NoError(t, err)
		assert.Equal(t, "Venus", v.(movieScript).Setting)
	})

	t.Run("unparseable", func(t *testing.T) {
		_, err := s.Parse("I cannot answer that.")
		assert.True(t, errors.Is(err, ErrUnparseable))

		_, err = s.Parse("```json\nnot json\n```")
		assert.True(t, errors.Is(err, ErrUnparseable))
	})

	t.Run("field list decodes into map", func(t *testing.T) {
		v, err := FieldsSchema("name").Parse(`{"name":"Ada"}`)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "Ada"}, v)
	})
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripFences("  {\"a\":1}  "))
}
