package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	t.Parallel()

	out, err := RenderTemplate("hello {{.name}}", TemplateFormatGoTemplate, map[string]any{
		"name": "world",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	out, err = RenderTemplate("hello {{ name }}", TemplateFormatJinja2, map[string]any{
		"name": "world",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	_, err = RenderTemplate("hello {{.name}}", "f-string", map[string]any{
		"name": "world",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplateFormat)

	// missing variables fail the render
	_, err = RenderTemplate("hello {{.name}}", TemplateFormatGoTemplate, map[string]any{})
	require.Error(t, err)
}

func TestPromptTemplate(t *testing.T) {
	t.Parallel()

	p := NewPromptTemplate("answer in {{.lang}}: {{.question}}", []string{"lang", "question"})
	assert.Equal(t, []string{"lang", "question"}, p.GetInputVariables())

	val, err := p.FormatPrompt(map[string]any{
		"lang":     "English",
		"question": "what is a gene?",
	})
	require.NoError(t, err)
	assert.Equal(t, "answer in English: what is a gene?", val.String())

	msgs := val.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "answer in English: what is a gene?\n", msgs[0].GetContent())
}

func TestPromptTemplatePartials(t *testing.T) {
	t.Parallel()

	p := PromptTemplate{
		Template:       "{{.greeting}}, {{.name}}",
		InputVariables: []string{"name"},
		TemplateFormat: TemplateFormatGoTemplate,
		PartialVariables: map[string]any{
			"greeting": "hello",
		},
	}
	out, err := p.Format(map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello, world", out)

	p.PartialVariables = map[string]any{
		"greeting": func() string { return "hi" },
	}
	out, err = p.Format(map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hi, world", out)

	p.PartialVariables = map[string]any{
		"greeting": 42,
	}
	_, err = p.Format(map[string]any{"name": "world"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPartialVariableType)
}
