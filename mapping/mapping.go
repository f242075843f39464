// Package mapping assembles the key codec, secondary-index mapper, and
// expression rewriter into one materialized plan per virtual table: a
// TableMapping. It plays the role the dynamodb/index package
// plays for one hard-coded table (PrimaryIndex tying together key
// extractors and GSI definitions), generalized to be built at request time
// from any (virtual, physical) description pair rather than declared as Go
// literals ahead of time.
package mapping

import (
	"fmt"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/expr"
	"github.com/acksell/mtdynamo/indexmap"
	"github.com/acksell/mtdynamo/keycodec"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// FieldMapping governs how one key attribute is translated between its
// virtual and physical representations.
type FieldMapping struct {
	VirtualField  string
	PhysicalField string
	VirtualType   mtdynamo.KeyKind
	PhysicalType  mtdynamo.KeyKind
	IsHashKey     bool
}

// secondaryIndexMapping is the resolved physical index for one virtual
// secondary index, plus the field mappings for its key attributes.
type secondaryIndexMapping struct {
	PhysicalName string
	Hash         FieldMapping
	Range        *FieldMapping
}

// Layout selects how a TableMapping's primary key maps virtual row
// identity onto a physical hash/range key pair.
type Layout int

const (
	// HashPerRow folds the virtual hash value into the physical hash key
	// (via Codec.Encode), so the physical hash key is unique per virtual
	// hash value and a virtual Scan has no physical hash value to query by.
	// This is the layout DefaultCreateTableRequestFactory produces.
	HashPerRow Layout = iota
	// HashPerTable folds only (tenant, virtual table) into the physical
	// hash key (via Codec.EncodeTablePrefix), leaving it constant across
	// every row of one virtual table, and instead packs the virtual hash
	// (and range) value into the physical range key via
	// Codec.EncodeRangeValue. Every row of a virtual table then shares one
	// physical hash key value, so a virtual Scan can be served by a
	// physical Query on that constant hash instead of a full physical
	// Scan. In exchange, expressions referencing the virtual table's own
	// hash or range key attribute by name cannot be rewritten (the
	// physical range key is an opaque composite string), so Query and any
	// Condition/Filter expression touching a primary key attribute are not
	// supported under this layout; see PrefixQueryCreateTableRequestFactory.
	HashPerTable
)

// TableMapping is the derived plan for one (tenant, virtual table): the
// virtual and physical descriptions, the primary-key field mappings, and a
// resolved mapping per secondary index. It is immutable once built.
type TableMapping struct {
	Tenant   string
	Virtual  mtdynamo.VirtualTableDescription
	Physical mtdynamo.PhysicalTableDescription
	Codec    keycodec.Codec
	Layout   Layout

	primaryHash  FieldMapping
	primaryRange *FieldMapping
	secondary    map[string]secondaryIndexMapping
}

// New builds a TableMapping for tenant from a virtual and physical table
// description under layout, resolving each virtual secondary index against
// the physical table via strategy. It returns IncompatibleSchema if the
// primary key shapes are incompatible, or wraps a NoCompatibleIndex error
// from strategy.
func New(tenant string, virtual mtdynamo.VirtualTableDescription, physical mtdynamo.PhysicalTableDescription, layout Layout, codec keycodec.Codec, strategy indexmap.Strategy) (*TableMapping, error) {
	if physical.Keys.Hash.Kind != mtdynamo.KeyKindS {
		return nil, mtdynamo.Errorf(mtdynamo.KindIncompatibleSchema,
			"physical table %q hash key must be type S for shared-table mode, got %q", physical.TableName, physical.Keys.Hash.Kind)
	}
	switch layout {
	case HashPerTable:
		if !physical.Keys.HasRange() || physical.Keys.Range.Kind != mtdynamo.KeyKindS {
			return nil, mtdynamo.Errorf(mtdynamo.KindIncompatibleSchema,
				"physical table %q must declare an S range key to host virtual table %q under a per-table hash key layout", physical.TableName, virtual.TableName)
		}
	default:
		if virtual.Keys.HasRange() != physical.Keys.HasRange() {
			return nil, mtdynamo.Errorf(mtdynamo.KindIncompatibleSchema,
				"virtual table %q range key presence does not match physical table %q", virtual.TableName, physical.TableName)
		}
		if virtual.Keys.HasRange() && virtual.Keys.Range.Kind != physical.Keys.Range.Kind {
			return nil, mtdynamo.Errorf(mtdynamo.KindIncompatibleSchema,
				"virtual table %q range key type %q does not match physical table %q range key type %q",
				virtual.TableName, virtual.Keys.Range.Kind, physical.TableName, physical.Keys.Range.Kind)
		}
	}

	m := &TableMapping{
		Tenant:   tenant,
		Virtual:  virtual,
		Physical: physical,
		Codec:    codec,
		Layout:   layout,
		secondary: map[string]secondaryIndexMapping{},
	}
	if layout != HashPerTable {
		m.primaryHash = FieldMapping{
			VirtualField:  virtual.Keys.Hash.Name,
			PhysicalField: physical.Keys.Hash.Name,
			VirtualType:   virtual.Keys.Hash.Kind,
			PhysicalType:  mtdynamo.KeyKindS,
			IsHashKey:     true,
		}
		if virtual.Keys.HasRange() {
			m.primaryRange = &FieldMapping{
				VirtualField:  virtual.Keys.Range.Name,
				PhysicalField: physical.Keys.Range.Name,
				VirtualType:   virtual.Keys.Range.Kind,
				PhysicalType:  physical.Keys.Range.Kind,
			}
		}
	}

	for _, idx := range virtual.Indexes {
		resolved, err := strategy.Resolve(idx, physical)
		if err != nil {
			return nil, fmt.Errorf("mapping: resolving secondary index %q: %w", idx.Name, err)
		}
		sim := secondaryIndexMapping{
			PhysicalName: resolved.Name,
			Hash: FieldMapping{
				VirtualField:  idx.Keys.Hash.Name,
				PhysicalField: resolved.Keys.Hash.Name,
				VirtualType:   idx.Keys.Hash.Kind,
				PhysicalType:  mtdynamo.KeyKindS,
				IsHashKey:     true,
			},
		}
		if idx.Keys.HasRange() {
			sim.Range = &FieldMapping{
				VirtualField:  idx.Keys.Range.Name,
				PhysicalField: resolved.Keys.Range.Name,
				VirtualType:   idx.Keys.Range.Kind,
				PhysicalType:  resolved.Keys.Range.Kind,
			}
		}
		m.secondary[idx.Name] = sim
	}
	return m, nil
}

// primaryFieldMappings returns the primary key's field mappings, or nil
// under HashPerTable, whose primary key is handled jointly by
// packPrimaryKeyForward/unpackPrimaryKeyInverse instead of one field at a
// time.
func (m *TableMapping) primaryFieldMappings() []FieldMapping {
	if m.Layout == HashPerTable {
		return nil
	}
	fms := []FieldMapping{m.primaryHash}
	if m.primaryRange != nil {
		fms = append(fms, *m.primaryRange)
	}
	return fms
}

// allFieldMappings returns every key field mapping: primary key plus every
// secondary index's key attributes.
func (m *TableMapping) allFieldMappings() []FieldMapping {
	fms := m.primaryFieldMappings()
	for _, sim := range m.secondary {
		fms = append(fms, sim.Hash)
		if sim.Range != nil {
			fms = append(fms, *sim.Range)
		}
	}
	return fms
}

// ApplyItemToPhysical rewrites every key attribute present in a virtual
// item (primary key and any secondary index key attributes) to its
// physical name and, for hash key attributes, its composite-encoded value.
// Attributes absent from item are left absent, preserving sparse secondary
// index behavior. item is not mutated.
func (m *TableMapping) ApplyItemToPhysical(item mtdynamo.Item) (mtdynamo.Item, error) {
	physical, err := m.rewriteForward(item, m.allFieldMappings())
	if err != nil {
		return nil, err
	}
	if m.Layout == HashPerTable {
		return m.packPrimaryKeyForward(item, physical)
	}
	return physical, nil
}

// ApplyItemToVirtual is the inverse of ApplyItemToPhysical.
func (m *TableMapping) ApplyItemToVirtual(item mtdynamo.Item) (mtdynamo.Item, error) {
	rest, err := m.rewriteInverse(item, m.allFieldMappings())
	if err != nil {
		return nil, err
	}
	if m.Layout != HashPerTable {
		return rest, nil
	}
	primary, err := m.unpackPrimaryKeyInverse(item)
	if err != nil {
		return nil, err
	}
	delete(rest, m.Physical.Keys.Hash.Name)
	delete(rest, m.Physical.Keys.Range.Name)
	for k, v := range primary {
		rest[k] = v
	}
	return rest, nil
}

// ApplyKeyToPhysical rewrites a primary key map (hash[, range]) to its
// physical form.
func (m *TableMapping) ApplyKeyToPhysical(key mtdynamo.Item) (mtdynamo.Item, error) {
	if m.Layout == HashPerTable {
		return m.packPrimaryKeyForward(key, mtdynamo.Item{})
	}
	return m.rewriteForward(key, m.primaryFieldMappings())
}

// ApplyKeyToVirtual is the inverse of ApplyKeyToPhysical.
func (m *TableMapping) ApplyKeyToVirtual(key mtdynamo.Item) (mtdynamo.Item, error) {
	if m.Layout == HashPerTable {
		return m.unpackPrimaryKeyInverse(key)
	}
	return m.rewriteInverse(key, m.primaryFieldMappings())
}

// packPrimaryKeyForward computes the composite (hash, range) physical
// primary key for a HashPerTable mapping from virtualItem's hash (and, if
// present, range) key attribute, and merges it into physicalRest — the
// already-rewritten non-primary-key attributes of the same item. Any
// leftover copy of the virtual key attributes under their virtual names is
// dropped from the result.
func (m *TableMapping) packPrimaryKeyForward(virtualItem, physicalRest mtdynamo.Item) (mtdynamo.Item, error) {
	hashAV, ok := virtualItem[m.Virtual.Keys.Hash.Name]
	if !ok {
		return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey,
			"item missing hash key attribute %q", m.Virtual.Keys.Hash.Name)
	}
	hashText, err := keycodec.StringifyHashValue(hashAV)
	if err != nil {
		return nil, err
	}
	hasRange := m.Virtual.Keys.HasRange()
	var rangeText string
	if hasRange {
		rangeAV, ok := virtualItem[m.Virtual.Keys.Range.Name]
		if !ok {
			return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey,
				"item missing range key attribute %q", m.Virtual.Keys.Range.Name)
		}
		rangeText, err = keycodec.StringifyHashValue(rangeAV)
		if err != nil {
			return nil, err
		}
	}
	hk, err := m.Codec.EncodeTablePrefix(m.Tenant, m.Virtual.TableName)
	if err != nil {
		return nil, err
	}

	out := make(mtdynamo.Item, len(physicalRest)+2)
	for k, v := range physicalRest {
		if k == m.Virtual.Keys.Hash.Name || (hasRange && k == m.Virtual.Keys.Range.Name) {
			continue
		}
		out[k] = v
	}
	out[m.Physical.Keys.Hash.Name] = &types.AttributeValueMemberS{Value: hk}
	out[m.Physical.Keys.Range.Name] = &types.AttributeValueMemberS{Value: m.Codec.EncodeRangeValue(hashText, rangeText, hasRange)}
	return out, nil
}

// unpackPrimaryKeyInverse recovers the virtual hash (and range) key
// attribute from a HashPerTable mapping's physical hash/range key
// attributes. It is the inverse of packPrimaryKeyForward.
func (m *TableMapping) unpackPrimaryKeyInverse(physical mtdynamo.Item) (mtdynamo.Item, error) {
	rkAV, ok := physical[m.Physical.Keys.Range.Name]
	if !ok {
		return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey,
			"physical item missing range key attribute %q", m.Physical.Keys.Range.Name)
	}
	rkS, ok := rkAV.(*types.AttributeValueMemberS)
	if !ok {
		return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey,
			"physical range field %q holds non-string value %T", m.Physical.Keys.Range.Name, rkAV)
	}
	hasRange := m.Virtual.Keys.HasRange()
	hashText, rangeText, err := m.Codec.DecodeRangeValue(rkS.Value, hasRange)
	if err != nil {
		return nil, err
	}
	hashVal, err := keycodec.ParseHashValue(hashText, m.Virtual.Keys.Hash.Kind)
	if err != nil {
		return nil, err
	}
	out := mtdynamo.Item{m.Virtual.Keys.Hash.Name: hashVal}
	if hasRange {
		rangeVal, err := keycodec.ParseHashValue(rangeText, m.Virtual.Keys.Range.Kind)
		if err != nil {
			return nil, err
		}
		out[m.Virtual.Keys.Range.Name] = rangeVal
	}
	return out, nil
}

// BelongsTo reports whether a physical item's hash key decodes to this
// mapping's (tenant, virtual table) — the defensive check a Query or Scan
// against a shared physical index applies to every row it gets back, since
// a shared physical index can host rows from other virtual tables and
// tenants.
func (m *TableMapping) BelongsTo(item mtdynamo.Item) bool {
	av, ok := item[m.Physical.Keys.Hash.Name]
	if !ok {
		return false
	}
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return false
	}
	if m.Layout == HashPerTable {
		tenant, table, err := m.Codec.DecodeTablePrefix(s.Value)
		if err != nil {
			return false
		}
		return tenant == m.Tenant && table == m.Virtual.TableName
	}
	tenant, table, _, err := m.Codec.Decode(s.Value)
	if err != nil {
		return false
	}
	return tenant == m.Tenant && table == m.Virtual.TableName
}

// PhysicalTablePrefix returns the constant physical hash key value every
// row of this mapping's virtual table shares under HashPerTable, suitable
// as an EQ key-condition value for a physical Query that serves a virtual
// Scan. It is only meaningful when m.Layout == HashPerTable.
func (m *TableMapping) PhysicalTablePrefix() (string, error) {
	return m.Codec.EncodeTablePrefix(m.Tenant, m.Virtual.TableName)
}

func (m *TableMapping) rewriteForward(src mtdynamo.Item, mappings []FieldMapping) (mtdynamo.Item, error) {
	mapped := make(map[string]bool, len(mappings))
	for _, fm := range mappings {
		mapped[fm.VirtualField] = true
	}
	out := make(mtdynamo.Item, len(src))
	for k, v := range src {
		if !mapped[k] {
			out[k] = v
		}
	}
	for _, fm := range mappings {
		v, ok := src[fm.VirtualField]
		if !ok {
			continue
		}
		if !fm.IsHashKey {
			out[fm.PhysicalField] = v
			continue
		}
		text, err := keycodec.StringifyHashValue(v)
		if err != nil {
			return nil, fmt.Errorf("mapping: stringifying hash value for %q: %w", fm.VirtualField, err)
		}
		encoded, err := m.Codec.Encode(m.Tenant, m.Virtual.TableName, text)
		if err != nil {
			return nil, err
		}
		out[fm.PhysicalField] = &types.AttributeValueMemberS{Value: encoded}
	}
	return out, nil
}

func (m *TableMapping) rewriteInverse(src mtdynamo.Item, mappings []FieldMapping) (mtdynamo.Item, error) {
	mapped := make(map[string]bool, len(mappings))
	for _, fm := range mappings {
		mapped[fm.PhysicalField] = true
	}
	out := make(mtdynamo.Item, len(src))
	for k, v := range src {
		if !mapped[k] {
			out[k] = v
		}
	}
	for _, fm := range mappings {
		v, ok := src[fm.PhysicalField]
		if !ok {
			continue
		}
		if !fm.IsHashKey {
			out[fm.VirtualField] = v
			continue
		}
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey,
				"physical hash field %q holds non-string value %T", fm.PhysicalField, v)
		}
		_, _, hashText, err := m.Codec.Decode(s.Value)
		if err != nil {
			return nil, err
		}
		virtualVal, err := keycodec.ParseHashValue(hashText, fm.VirtualType)
		if err != nil {
			return nil, err
		}
		out[fm.VirtualField] = virtualVal
	}
	return out, nil
}

// fieldRewriter adapts a TableMapping to expr.FieldRewriter.
type fieldRewriter struct{ m *TableMapping }

func (r fieldRewriter) RewriteField(virtualName string) (string, bool, bool) {
	for _, fm := range r.m.allFieldMappings() {
		if fm.VirtualField == virtualName {
			return fm.PhysicalField, fm.IsHashKey, true
		}
	}
	return "", false, false
}

func (r fieldRewriter) RewriteHashValue(v types.AttributeValue) (types.AttributeValue, error) {
	text, err := keycodec.StringifyHashValue(v)
	if err != nil {
		return nil, err
	}
	encoded, err := r.m.Codec.Encode(r.m.Tenant, r.m.Virtual.TableName, text)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberS{Value: encoded}, nil
}

// RewriteExpression rewrites a condition, filter, key-condition,
// projection, or update expression against this mapping's key attributes.
// An empty text is returned unchanged.
func (m *TableMapping) RewriteExpression(role expr.Role, text string, names map[string]string, values map[string]types.AttributeValue) (string, map[string]string, map[string]types.AttributeValue, error) {
	if text == "" {
		return text, names, values, nil
	}
	return expr.Rewrite(role, text, names, values, fieldRewriter{m})
}

// ResolveIndex returns the physical index name for a virtual secondary
// index name, or reports isPrimary=true if virtualIndexName is empty
// (meaning the primary index). It returns NoCompatibleIndex if
// virtualIndexName does not name a known secondary index.
func (m *TableMapping) ResolveIndex(virtualIndexName string) (physicalIndexName string, isPrimary bool, err error) {
	if virtualIndexName == "" {
		return "", true, nil
	}
	sim, ok := m.secondary[virtualIndexName]
	if !ok {
		return "", false, mtdynamo.Errorf(mtdynamo.KindNoCompatibleIndex,
			"virtual table %q has no secondary index named %q", m.Virtual.TableName, virtualIndexName)
	}
	return sim.PhysicalName, false, nil
}
