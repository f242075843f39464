// Package sharedtable implements the shared-table façade: many tenants'
// virtual tables are hosted on a small number of physical tables,
// distinguished by a composite hash key (see keycodec). Request/response
// shapes below mirror the AWS SDK v2 DynamoDB client's Input/Output pairs
// (dynamodb.GetItemInput/Output and friends), the way
// dynamodb/ddbstore/store_*.go shapes its own per-operation request
// structs, but name the table by its virtual name rather than a physical
// one and drop fields (like ReturnConsumedCapacity) this façade does not
// forward.
package sharedtable

import (
	"github.com/acksell/mtdynamo"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type GetItemInput struct {
	VirtualTableName string
	Key              mtdynamo.Item
	ConsistentRead   bool
}

type GetItemOutput struct {
	// Item is nil if no row matched Key.
	Item mtdynamo.Item
}

type PutItemInput struct {
	VirtualTableName          string
	Item                      mtdynamo.Item
	ConditionExpression       string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
}

type PutItemOutput struct{}

type UpdateItemInput struct {
	VirtualTableName          string
	Key                       mtdynamo.Item
	UpdateExpression          string
	ConditionExpression       string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
}

type UpdateItemOutput struct {
	Attributes mtdynamo.Item
}

type DeleteItemInput struct {
	VirtualTableName          string
	Key                       mtdynamo.Item
	ConditionExpression       string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
}

type DeleteItemOutput struct{}

type QueryInput struct {
	VirtualTableName          string
	IndexName                 string // "" selects the primary index
	KeyConditionExpression    string
	FilterExpression          string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
	Limit                     int32
	ScanIndexForward          *bool
	ExclusiveStartKey         mtdynamo.Item
}

type QueryOutput struct {
	Items            []mtdynamo.Item
	LastEvaluatedKey mtdynamo.Item
}

type ScanInput struct {
	VirtualTableName          string
	IndexName                 string
	FilterExpression          string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
	Limit                     int32
	ExclusiveStartKey         mtdynamo.Item
}

type ScanOutput struct {
	Items            []mtdynamo.Item
	LastEvaluatedKey mtdynamo.Item
}

// BatchGetItemInput's RequestItems maps a virtual table name to the keys
// requested from it, mirroring dynamodb.BatchGetItemInput's per-table
// grouping one level up (by virtual, not physical, table).
type BatchGetItemInput struct {
	RequestItems map[string][]mtdynamo.Item
}

type BatchGetItemOutput struct {
	Responses       map[string][]mtdynamo.Item
	UnprocessedKeys map[string][]mtdynamo.Item
}
