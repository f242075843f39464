// Package keycodec encodes and decodes the composite physical hash key
// used in shared-table mode: tenantId, virtual table name, and virtual
// hash key value are packed into one string so that many tenants' rows can
// share one physical partition-key attribute without colliding.
//
// The encoding follows the same "delimiter with escape" idiom used
// elsewhere for composite key formatting (dynamodb/index/keys
// and dynamodb/table/keyer.go build format strings out of Extractor/Keyer
// parts); here the format is fixed at three parts and total/injective, so
// decode is the exact inverse of encode.
package keycodec

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/acksell/mtdynamo"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Codec encodes and decodes composite shared-table hash keys.
type Codec struct {
	// Delimiter separates tenantId, virtualTable, and the escaped virtual
	// hash value. Defaults to "." if empty.
	Delimiter string
	// TablePrefix, if set, is required as a literal prefix of every
	// physical string this codec decodes (environment isolation).
	TablePrefix string
}

func (c Codec) delimiter() string {
	if c.Delimiter == "" {
		return "."
	}
	return c.Delimiter
}

// escape doubles any occurrence of the delimiter's first rune by prefixing
// it with a backslash, and escapes literal backslashes, so that decode can
// unambiguously find the two unescaped delimiters that separate the three
// fields.
func escape(s, delim string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, delim, `\`+delim)
	return s
}

// unescape reverses escape. It only needs to strip the single backslash
// escape introduces before a real backslash or before the delimiter's
// first byte; the delimiter's remaining bytes, if any, pass through
// untouched since escape never inserts a second backslash mid-delimiter.
func unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// splitUnescaped splits s on exactly two unescaped occurrences of delim,
// returning the three raw (still-escaped) fields. It returns false if s
// does not contain exactly two unescaped delimiters.
func splitUnescaped(s, delim string) ([3]string, bool) {
	var fields [3]string
	fieldIdx := 0
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			cur.WriteByte(s[i])
			cur.WriteByte(s[i+1])
			i++
			continue
		}
		if strings.HasPrefix(s[i:], delim) {
			if fieldIdx >= 2 {
				return fields, false
			}
			fields[fieldIdx] = cur.String()
			fieldIdx++
			cur.Reset()
			i += len(delim) - 1
			continue
		}
		cur.WriteByte(s[i])
	}
	if fieldIdx != 2 {
		return fields, false
	}
	fields[2] = cur.String()
	return fields, true
}

// StringifyHashValue renders a virtual hash key value in the codec's
// canonical textual form: S values pass through unchanged, N values use
// their exact numeric lexeme, and B values are base64 standard encoded
// without padding.
func StringifyHashValue(v types.AttributeValue) (string, error) {
	switch val := v.(type) {
	case *types.AttributeValueMemberS:
		return val.Value, nil
	case *types.AttributeValueMemberN:
		return val.Value, nil
	case *types.AttributeValueMemberB:
		return base64.RawStdEncoding.EncodeToString(val.Value), nil
	default:
		return "", mtdynamo.Errorf(mtdynamo.KindIncompatibleSchema, "unsupported hash key attribute type %T", v)
	}
}

// ParseHashValue is the inverse of StringifyHashValue for the given kind.
func ParseHashValue(text string, kind mtdynamo.KeyKind) (types.AttributeValue, error) {
	switch kind {
	case mtdynamo.KeyKindS, "":
		return &types.AttributeValueMemberS{Value: text}, nil
	case mtdynamo.KeyKindN:
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "invalid numeric lexeme %q", text)
		}
		return &types.AttributeValueMemberN{Value: text}, nil
	case mtdynamo.KeyKindB:
		b, err := base64.RawStdEncoding.DecodeString(text)
		if err != nil {
			return nil, mtdynamo.NewError(mtdynamo.KindMalformedPhysicalKey, "invalid base64 binary hash value", err)
		}
		return &types.AttributeValueMemberB{Value: b}, nil
	default:
		return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "unsupported key kind %q", kind)
	}
}

// splitUnescapedOnce splits s on exactly one unescaped occurrence of delim,
// returning the two raw (still-escaped) fields. It returns false if s does
// not contain exactly one unescaped delimiter.
func splitUnescapedOnce(s, delim string) (string, string, bool) {
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			cur.WriteByte(s[i])
			cur.WriteByte(s[i+1])
			i++
			continue
		}
		if strings.HasPrefix(s[i:], delim) {
			return cur.String(), s[i+len(delim):], true
		}
		cur.WriteByte(s[i])
	}
	return "", "", false
}

// EncodeTablePrefix packs (tenantId, virtualTable) into the composite
// physical key prefix tenantId + delim + virtualTable, with no per-item
// value component. Unlike Encode, this string is the same for every row of
// one virtual table, so a factory that uses it as a physical hash key value
// (rather than folding the row's own hash value into the hash key) produces
// a schema a physical Query can enumerate by hash equality alone.
func (c Codec) EncodeTablePrefix(tenantID, virtualTable string) (string, error) {
	if tenantID == "" {
		return "", mtdynamo.Errorf(mtdynamo.KindNoTenantContext, "tenant id must not be empty")
	}
	delim := c.delimiter()
	parts := []string{escape(tenantID, delim), escape(virtualTable, delim)}
	return c.TablePrefix + strings.Join(parts, delim), nil
}

// DecodeTablePrefix is the inverse of EncodeTablePrefix.
func (c Codec) DecodeTablePrefix(physical string) (tenantID, virtualTable string, err error) {
	if c.TablePrefix != "" {
		if !strings.HasPrefix(physical, c.TablePrefix) {
			return "", "", mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey,
				"physical key %q does not have configured prefix %q", physical, c.TablePrefix)
		}
		physical = strings.TrimPrefix(physical, c.TablePrefix)
	}
	first, second, ok := splitUnescapedOnce(physical, c.delimiter())
	if !ok {
		return "", "", mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey,
			"physical key %q does not contain exactly one unescaped delimiter %q", physical, c.delimiter())
	}
	return unescape(first), unescape(second), nil
}

// EncodeRangeValue packs a virtual hash key value's canonical text, and
// optionally a virtual range key value's canonical text, into one physical
// range key string: hashText alone, or hashText + delim + rangeText. It is
// the counterpart to EncodeTablePrefix for a physical layout that pushes
// row identity onto the range key instead of the hash key.
func (c Codec) EncodeRangeValue(hashText, rangeText string, hasRange bool) string {
	delim := c.delimiter()
	if !hasRange {
		return escape(hashText, delim)
	}
	return escape(hashText, delim) + delim + escape(rangeText, delim)
}

// DecodeRangeValue is the inverse of EncodeRangeValue.
func (c Codec) DecodeRangeValue(physical string, hasRange bool) (hashText, rangeText string, err error) {
	delim := c.delimiter()
	if !hasRange {
		return unescape(physical), "", nil
	}
	first, second, ok := splitUnescapedOnce(physical, delim)
	if !ok {
		return "", "", mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey,
			"physical range value %q does not contain exactly one unescaped delimiter %q", physical, delim)
	}
	return unescape(first), unescape(second), nil
}

// Encode packs (tenantId, virtualTable, virtualHashValue) into the
// composite physical hash key string tenantId + delim + virtualTable +
// delim + escape(virtualHashValue).
func (c Codec) Encode(tenantID, virtualTable, virtualHashValueText string) (string, error) {
	if tenantID == "" {
		return "", mtdynamo.Errorf(mtdynamo.KindNoTenantContext, "tenant id must not be empty")
	}
	delim := c.delimiter()
	parts := []string{
		escape(tenantID, delim),
		escape(virtualTable, delim),
		escape(virtualHashValueText, delim),
	}
	return c.TablePrefix + strings.Join(parts, delim), nil
}

// Decode is the exact inverse of Encode: it recovers (tenantId,
// virtualTable, virtualHashValueText) from a composite physical hash key
// string, or returns KindMalformedPhysicalKey if physical does not have
// the configured prefix or does not contain exactly two unescaped
// delimiters.
func (c Codec) Decode(physical string) (tenantID, virtualTable, virtualHashValueText string, err error) {
	if c.TablePrefix != "" {
		if !strings.HasPrefix(physical, c.TablePrefix) {
			return "", "", "", mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey,
				"physical key %q does not have configured prefix %q", physical, c.TablePrefix)
		}
		physical = strings.TrimPrefix(physical, c.TablePrefix)
	}
	delim := c.delimiter()
	fields, ok := splitUnescaped(physical, delim)
	if !ok {
		return "", "", "", mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey,
			"physical key %q does not contain exactly two unescaped delimiters %q", physical, delim)
	}
	return unescape(fields[0]), unescape(fields[1]), unescape(fields[2]), nil
}
