package main

import (
	"github.com/acksell/mtdynamo/keycodec"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// rowsOf returns the hash/range key attribute names and every row currently
// stored under physicalTable, or zero values if the table doesn't exist.
func (s *localStore) rowsOf(physicalTable string) (hashKey, rangeKey string, rows []map[string]types.AttributeValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[physicalTable]
	if t == nil {
		return "", "", nil
	}
	rows = make([]map[string]types.AttributeValue, 0, len(t.rows))
	for _, row := range t.rows {
		rows = append(rows, copyItem(row))
	}
	return t.hashKey, t.rangeKey, rows
}

// streamSourceRows resolves the physical table backing (tenant, virtualTable)
// under the demo's current mode and returns the rows a change feed over it
// would have produced, so runStream can synthesize INSERT records from
// whatever the demo store currently holds instead of needing a second,
// separately-maintained feed.
func (d *demoState) streamSourceRows(tenant, virtualTable string) (physicalTable, hashKey, rangeKey string, rows []map[string]types.AttributeValue) {
	switch d.cfg.Mode {
	case "tablepertenant":
		physicalTable = d.cfg.TablePrefix + tenant + d.cfg.Delimiter + virtualTable
		hashKey, rangeKey, rows = d.store.rowsOf(physicalTable)
		return
	default:
		physicalTable = d.cfg.TablePrefix + "mt_dynamo_shared"
		var allRows []map[string]types.AttributeValue
		hashKey, rangeKey, allRows = d.store.rowsOf(physicalTable)
		codec := keycodec.Codec{Delimiter: d.cfg.Delimiter, TablePrefix: d.cfg.TablePrefix}
		for _, row := range allRows {
			hk, ok := row[hashKey].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			rowTenant, rowTable, _, err := codec.Decode(hk.Value)
			if err != nil || rowTenant != tenant || rowTable != virtualTable {
				continue
			}
			rows = append(rows, row)
		}
		return
	}
}

func toStreamAttr(v types.AttributeValue) streamtypes.AttributeValue {
	switch val := v.(type) {
	case *types.AttributeValueMemberS:
		return &streamtypes.AttributeValueMemberS{Value: val.Value}
	case *types.AttributeValueMemberN:
		return &streamtypes.AttributeValueMemberN{Value: val.Value}
	case *types.AttributeValueMemberBOOL:
		return &streamtypes.AttributeValueMemberBOOL{Value: val.Value}
	case *types.AttributeValueMemberNULL:
		return &streamtypes.AttributeValueMemberNULL{Value: val.Value}
	default:
		return &streamtypes.AttributeValueMemberS{Value: attrText(v)}
	}
}
