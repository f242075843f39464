// Package streamsfacade implements thin wrappers over a streamscache.Adapter
// (or any streamsiface.Client) that translate each physical change-feed
// record back into virtual-table terms, the read-side counterpart to
// sharedtable and tablepertenant.
//
// The translation logic reuses keycodec.Codec (shared-table mode: parse the
// composite hash key back into tenant and virtual table) and, in
// table-per-tenant mode, a PhysicalTableParser that inverts
// tablepertenant's physical table naming to recover tenant and virtual
// table from the physical table name, applied to records instead of item
// keys.
package streamsfacade

import (
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// Record is a single change-feed record translated into virtual-table
// terms. Physical retains the underlying record verbatim (including its
// physical Keys/NewImage/OldImage attribute names); only the owning tenant
// and virtual table are tagged on, not the item payload itself.
type Record struct {
	Tenant           string
	VirtualTable     string
	VirtualHashValue string // shared-table mode only; empty in table-per-tenant mode.
	Physical         streamtypes.Record
}

// GetRecordsOutput is the translated analogue of dynamodbstreams.GetRecordsOutput.
type GetRecordsOutput struct {
	Records           []Record
	NextShardIterator *string
}
