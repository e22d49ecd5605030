// Package schema reflects Go types into JSON schemas used for tool
// parameter definitions and structured-output response formats.
package schema

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Faker is implemented by types that can produce a populated example
// of themselves, used when rendering format instructions.
type Faker interface {
	Fake() any
}

// Schema holds the reflected schema of a type in two shapes:
// the raw reflector output and the flattened function-parameters form.
type Schema struct {
	RawSchema *jsonschema.Schema
	// Parameters is the flattened schema suitable for a tool
	// function definition, with all $refs resolved inline.
	Parameters *jsonschema.Schema
}

var (
	cacheMu sync.Mutex
	cache   = map[reflect.Type]*Schema{}
)

// New reflects t into a Schema. Results are cached per type.
func New(t reflect.Type) (*Schema, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if s, ok := cache[t]; ok {
		return s, nil
	}

	raw := JSONSchema(t)
	s := &Schema{
		RawSchema:  raw,
		Parameters: ToFunctionSchema(raw),
	}
	cache[t] = s

	return s, nil
}

func (s *Schema) String() string {
	js, _ := json.MarshalIndent(s.Parameters, "", "\t")
	return string(js)
}

// NameFromRef returns the definition name from the root $ref,
// e.g. 'MyStruct' from '#/$defs/MyStruct'.
func (s *Schema) NameFromRef() string {
	return strings.Split(s.RawSchema.Ref, "/")[2]
}

// ToFunctionSchema flattens the reflector output into a single object
// schema: the root definition is lifted to the top level and every
// $ref in properties or array items is replaced by its definition.
func ToFunctionSchema(tSchema *jsonschema.Schema) *jsonschema.Schema {
	rootName := strings.TrimPrefix(tSchema.Ref, "#/$defs/")

	root := tSchema
	defs := make(map[string]*jsonschema.Schema, len(tSchema.Definitions))
	for name, def := range tSchema.Definitions {
		if name == rootName {
			root = def
			continue
		}
		defs[name] = def
	}

	res := &jsonschema.Schema{
		Type:       root.Type,
		Properties: root.Properties,
		Required:   root.Required,
	}
	resolveRefs(res.Properties, defs)

	return res
}

func resolveRefs(props *orderedmap.OrderedMap[string, *jsonschema.Schema], defs map[string]*jsonschema.Schema) {
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		child := pair.Value
		if child.Ref != "" {
			pair.Value = mustDef(defs, child.Ref)
			child = pair.Value
		}
		if child.Items != nil && child.Items.Ref != "" {
			child.Items = mustDef(defs, child.Items.Ref)
		}
		if child.Properties != nil {
			resolveRefs(child.Properties, defs)
		}
	}
}

func mustDef(defs map[string]*jsonschema.Schema, ref string) *jsonschema.Schema {
	name := strings.TrimPrefix(ref, "#/$defs/")
	def, ok := defs[name]
	if !ok {
		panic("schema: unresolved definition " + name)
	}
	return def
}

// JSONSchema reflects t with the reflector settings shared by every
// schema in this package.
func JSONSchema(t reflect.Type) *jsonschema.Schema {
	// draft 2020-12 is poorly supported by editors and some providers
	jsonschema.Version = "http://json-schema.org/draft-07/schema#"

	r := &jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}

	// Struct names collide across packages, which corrupts $ref targets
	// (https://github.com/invopop/jsonschema/issues/42). Disambiguate by
	// hashing the fully qualified name into the definition name.
	r.Namer = func(t reflect.Type) string {
		if t.Kind() != reflect.Struct {
			return t.Name()
		}
		full := t.PkgPath() + "/" + t.Name()
		return t.Name() + "@" + strconv.FormatUint(xxhash.Sum64String(full), 10)
	}

	return r.ReflectFromType(t)
}

// FromAny converts an arbitrary schema-shaped value, such as a
// map[string]any or raw JSON bytes decoded into one, into a
// jsonschema.Schema by round-tripping it through JSON.
func FromAny(t any) (*jsonschema.Schema, error) {
	js, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(js, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// MustFromAny is FromAny that panics on error.
func MustFromAny(t any) *jsonschema.Schema {
	schema, err := FromAny(t)
	if err != nil {
		panic(err)
	}
	return schema
}
