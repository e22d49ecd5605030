package prompts

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
	"github.com/nikolalohinski/gonja"
)

// TemplateFormat is the format of the template.
type TemplateFormat string

const (
	// TemplateFormatGoTemplate is the format for go templates.
	TemplateFormatGoTemplate TemplateFormat = "go-template"
	// TemplateFormatJinja2 is the format for jinja2 templates.
	TemplateFormatJinja2 TemplateFormat = "jinja2"
)

var (
	// ErrInvalidTemplateFormat is returned for unknown template formats.
	ErrInvalidTemplateFormat = errors.New("invalid template format")
	// ErrInvalidPartialVariableType is returned when a partial variable is
	// neither a string nor a func() string.
	ErrInvalidPartialVariableType = errors.New("invalid partial variable type")
)

type interpolator func(tmpl string, values map[string]any) (string, error)

var defaultFormatterMapping = map[TemplateFormat]interpolator{
	TemplateFormatGoTemplate: interpolateGoTemplate,
	TemplateFormatJinja2:     interpolateJinja2,
}

func interpolateGoTemplate(tmpl string, values map[string]any) (string, error) {
	parsedTmpl, err := template.New("template").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "parse template")
	}
	sb := new(bytes.Buffer)
	err = parsedTmpl.Execute(sb, values)
	if err != nil {
		return "", errors.Wrap(err, "execute template")
	}
	return sb.String(), nil
}

func interpolateJinja2(tmpl string, values map[string]any) (string, error) {
	tpl, err := gonja.FromString(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "parse template")
	}
	out, err := tpl.Execute(values)
	if err != nil {
		return "", errors.Wrap(err, "execute template")
	}
	return out, nil
}

// RenderTemplate renders the template with the given values.
func RenderTemplate(tmpl string, tmplFormat TemplateFormat, values map[string]any) (string, error) {
	formatter, ok := defaultFormatterMapping[tmplFormat]
	if !ok {
		return "", errors.WithMessagef(ErrInvalidTemplateFormat, "%s", tmplFormat)
	}
	return formatter(tmpl, values)
}

// CheckValidTemplate checks that the template format is supported and the
// template renders with dummy inputs.
func CheckValidTemplate(tmpl string, tmplFormat TemplateFormat, inputVariables []string) error {
	_, ok := defaultFormatterMapping[tmplFormat]
	if !ok {
		return errors.WithMessagef(ErrInvalidTemplateFormat, "%s", tmplFormat)
	}

	dummyInputs := make(map[string]any, len(inputVariables))
	for _, v := range inputVariables {
		dummyInputs[v] = "foo"
	}

	_, err := RenderTemplate(tmpl, tmplFormat, dummyInputs)
	return err
}
