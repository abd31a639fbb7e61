package mapping

import (
	"sort"
	"sync"

	"github.com/graphql-go/graphql"
)

type FieldType int

const (
	TypeString FieldType = iota
	TypeNumber
	TypeBoolean
	TypeObject
)

// ESType returns the Elasticsearch mapping type name for t.
func (t FieldType) ESType() string {
	switch t {
	case TypeString:
		return "text"
	case TypeNumber:
		return "double"
	case TypeBoolean:
		return "boolean"
	default:
		return "object"
	}
}

// Mapping records the first type seen for every top-level document field.
type Mapping struct {
	fields map[string]FieldType
	mu     sync.RWMutex
}

func NewMapping() *Mapping {
	return &Mapping{
		fields: make(map[string]FieldType),
	}
}

// FromFields restores a mapping persisted with Fields.
func FromFields(fields map[string]FieldType) *Mapping {
	m := NewMapping()
	for k, t := range fields {
		m.fields[k] = t
	}
	return m
}

// Sniff adds the fields of data not seen before and reports whether any were added.
func (m *Mapping) Sniff(data map[string]interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for k, v := range data {
		if k == "_source" {
			continue
		}
		var detected FieldType
		switch v.(type) {
		case string:
			detected = TypeString
		case float64, float32, int, int64:
			detected = TypeNumber
		case bool:
			detected = TypeBoolean
		case map[string]interface{}:
			detected = TypeObject
		default:
			continue
		}

		if _, ok := m.fields[k]; !ok {
			m.fields[k] = detected
			changed = true
		}
	}
	return changed
}

// Fields returns a copy of the known fields.
func (m *Mapping) Fields() map[string]FieldType {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields := make(map[string]FieldType, len(m.fields))
	for k, t := range m.fields {
		fields[k] = t
	}
	return fields
}

func (m *Mapping) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fields)
}

// Properties renders the mapping as Elasticsearch "properties".
func (m *Mapping) Properties() map[string]interface{} {
	props := make(map[string]interface{})
	for k, t := range m.Fields() {
		props[k] = map[string]interface{}{"type": t.ESType()}
	}
	return props
}

func (m *Mapping) BuildGraphQLType(name string) *graphql.Object {
	fieldTypes := m.Fields()

	names := make([]string, 0, len(fieldTypes))
	for k := range fieldTypes {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := graphql.Fields{
		"id": &graphql.Field{Type: graphql.ID},
	}

	for _, k := range names {
		if k == "id" {
			continue
		}
		var gqlType graphql.Output
		switch fieldTypes[k] {
		case TypeNumber:
			gqlType = graphql.Float
		case TypeBoolean:
			gqlType = graphql.Boolean
		default:
			// objects are exposed as their string form
			gqlType = graphql.String
		}
		fields[k] = &graphql.Field{Type: gqlType}
	}

	return graphql.NewObject(graphql.ObjectConfig{
		Name:   name,
		Fields: fields,
	})
}
