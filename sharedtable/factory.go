package sharedtable

import (
	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/mapping"
)

// CreateTableRequestFactory derives the physical table description a
// virtual table description should be hosted on, given the façade's
// configuration, and the Layout that description requires the resulting
// TableMapping to use. Callers may supply their own factory to place
// virtual tables of different shapes on different physical tables (e.g.
// one shared table per range-key type); DefaultCreateTableRequestFactory
// places every virtual table on one shared physical table per façade
// instance.
//
// The returned physical description must depend only on cfg, never on
// virtual: every virtual table a factory routes to the same physical
// table name must produce the exact same schema, or mapping.New's
// IncompatibleSchema check on a second virtual table sharing that name
// would be checking the schema against itself instead of against what
// the first virtual table already committed it to.
type CreateTableRequestFactory func(virtual mtdynamo.VirtualTableDescription, cfg mtdynamo.Config) (mtdynamo.PhysicalTableDescription, mapping.Layout)

// DefaultCreateTableRequestFactory produces the minimum shared-table
// physical schema: hash key "hk" (S), an optional range key "rk"
// configured via cfg.WithSharedTableRangeKey, and one physical secondary
// index per virtual index, addressable by name (so the default
// indexmap.ByName strategy resolves it without configuration).
//
// The physical schema depends only on cfg, not on the virtual table being
// created, so every virtual table this factory ever routes to
// cfg.TablePrefix+"mt_dynamo_shared" is held to the identical schema.
// Virtual tables whose own key shape doesn't fit that schema are rejected
// by mapping.New with IncompatibleSchema rather than silently redefining
// the physical table's range key out from under whatever else already
// uses it.
func DefaultCreateTableRequestFactory(virtual mtdynamo.VirtualTableDescription, cfg mtdynamo.Config) (mtdynamo.PhysicalTableDescription, mapping.Layout) {
	physical := mtdynamo.PhysicalTableDescription{
		TableName: cfg.TablePrefix + "mt_dynamo_shared",
		Keys: mtdynamo.KeySchema{
			Hash: mtdynamo.KeyDef{Name: "hk", Kind: mtdynamo.KeyKindS},
		},
	}
	if cfg.SharedTableRangeKeyName != "" {
		physical.Keys.Range = mtdynamo.KeyDef{Name: cfg.SharedTableRangeKeyName, Kind: cfg.SharedTableRangeKeyKind}
	}
	for _, idx := range virtual.Indexes {
		physIdx := mtdynamo.IndexDescription{
			Name: idx.Name,
			Keys: mtdynamo.KeySchema{
				Hash: mtdynamo.KeyDef{Name: idx.Name + "_hk", Kind: mtdynamo.KeyKindS},
			},
			Projection:       idx.Projection,
			NonKeyAttributes: idx.NonKeyAttributes,
		}
		if idx.Keys.HasRange() {
			physIdx.Keys.Range = mtdynamo.KeyDef{Name: idx.Name + "_rk", Kind: idx.Keys.Range.Kind}
		}
		physical.Indexes = append(physical.Indexes, physIdx)
	}
	return physical, mapping.HashPerRow
}

// PrefixQueryCreateTableRequestFactory routes every virtual table onto one
// physical table whose hash key is constant per (tenant, virtual table)
// and whose range key packs the virtual row's own hash (and range) key
// value, under mapping.HashPerTable. Every row of a virtual table then
// shares one physical hash key value, so Facade.Scan can serve a virtual
// Scan with a physical Query against that constant hash instead of a full
// physical Scan.
//
// The tradeoff: a HashPerTable virtual table's primary key attributes are
// folded into an opaque composite range key string, so Facade.Query and
// any Condition or FilterExpression referencing a primary key attribute
// are not supported for tables created through this factory. Use it for
// virtual tables that are scanned far more often than queried by primary
// key; use DefaultCreateTableRequestFactory otherwise.
func PrefixQueryCreateTableRequestFactory(virtual mtdynamo.VirtualTableDescription, cfg mtdynamo.Config) (mtdynamo.PhysicalTableDescription, mapping.Layout) {
	physical := mtdynamo.PhysicalTableDescription{
		TableName: cfg.TablePrefix + "mt_dynamo_shared_prefix",
		Keys: mtdynamo.KeySchema{
			Hash:  mtdynamo.KeyDef{Name: "hk", Kind: mtdynamo.KeyKindS},
			Range: mtdynamo.KeyDef{Name: "rk", Kind: mtdynamo.KeyKindS},
		},
	}
	for _, idx := range virtual.Indexes {
		physIdx := mtdynamo.IndexDescription{
			Name: idx.Name,
			Keys: mtdynamo.KeySchema{
				Hash: mtdynamo.KeyDef{Name: idx.Name + "_hk", Kind: mtdynamo.KeyKindS},
			},
			Projection:       idx.Projection,
			NonKeyAttributes: idx.NonKeyAttributes,
		}
		if idx.Keys.HasRange() {
			physIdx.Keys.Range = mtdynamo.KeyDef{Name: idx.Name + "_rk", Kind: idx.Keys.Range.Kind}
		}
		physical.Indexes = append(physical.Indexes, physIdx)
	}
	return physical, mapping.HashPerTable
}
