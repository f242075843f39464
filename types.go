// Package mtdynamo implements the core of a multi-tenant front end to a
// DynamoDB-shaped key-value store: virtual tables are presented to each
// tenant while, underneath, either table-per-tenant or shared-table
// physical layout is used.
package mtdynamo

import "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

// KeyKind is the DynamoDB attribute type a hash or range key is stored as.
type KeyKind string

const (
	KeyKindS KeyKind = "S"
	KeyKindN KeyKind = "N"
	KeyKindB KeyKind = "B"
)

// KeyDef names a single hash or range key attribute and its type.
type KeyDef struct {
	Name string
	Kind KeyKind
}

// KeySchema is the primary key shape of a table or index: a required hash
// key and an optional range key.
type KeySchema struct {
	Hash  KeyDef
	Range KeyDef // Range.Name == "" means no range key.
}

func (s KeySchema) HasRange() bool { return s.Range.Name != "" }

// ProjectionKind mirrors DynamoDB's secondary index projection types.
type ProjectionKind string

const (
	ProjectAll     ProjectionKind = "ALL"
	ProjectKeys    ProjectionKind = "KEYS_ONLY"
	ProjectInclude ProjectionKind = "INCLUDE"
)

// IndexDescription describes one secondary index, virtual or physical.
type IndexDescription struct {
	Name       string
	Keys       KeySchema
	Projection ProjectionKind
	// NonKeyAttributes is only meaningful when Projection == ProjectInclude.
	NonKeyAttributes []string
}

// VirtualTableDescription is the table shape presented to a tenant. It is
// immutable once persisted via a tablerepo.Repository.
type VirtualTableDescription struct {
	TableName string
	Keys      KeySchema
	Indexes   []IndexDescription
}

// Index looks up a virtual secondary index by name.
func (d VirtualTableDescription) Index(name string) (IndexDescription, bool) {
	for _, idx := range d.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDescription{}, false
}

// PhysicalTableDescription is the table shape actually created in the
// underlying store. In shared-table mode its hash key type must be S.
type PhysicalTableDescription struct {
	TableName string
	Keys      KeySchema
	Indexes   []IndexDescription
}

func (d PhysicalTableDescription) Index(name string) (IndexDescription, bool) {
	for _, idx := range d.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDescription{}, false
}

// Item is a DynamoDB item: attribute name to attribute value.
type Item = map[string]types.AttributeValue
