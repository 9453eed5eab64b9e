package redisql

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the shape of a store reply.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInteger
	KindList
	KindSet
	KindMap
	KindDouble
	KindBoolean
	KindOther
)

var kindNames = [...]string{
	KindNull:    "null",
	KindString:  "string",
	KindInteger: "integer",
	KindList:    "list",
	KindSet:     "set",
	KindMap:     "map",
	KindDouble:  "double",
	KindBoolean: "boolean",
	KindOther:   "other",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Reply is a native store reply. Only the fields relevant to Kind are set.
type Reply struct {
	Kind  Kind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Elems []Reply // KindList, KindSet
	Pairs []Pair  // KindMap, in store order
	Raw   interface{}
}

// Pair is one field/value entry of a map reply.
type Pair struct {
	Field string
	Value Reply
}

func NullReply() Reply { return Reply{Kind: KindNull} }
func StringReply(s string) Reply { return Reply{Kind: KindString, Str: s} }
func IntegerReply(n int64) Reply { return Reply{Kind: KindInteger, Int: n} }
func DoubleReply(f float64) Reply { return Reply{Kind: KindDouble, Float: f} }
func BoolReply(b bool) Reply { return Reply{Kind: KindBoolean, Bool: b} }
func ListReply(elems ...Reply) Reply { return Reply{Kind: KindList, Elems: elems} }
func SetReply(elems ...Reply) Reply { return Reply{Kind: KindSet, Elems: elems} }
func MapReply(pairs ...Pair) Reply { return Reply{Kind: KindMap, Pairs: pairs} }
func OtherReply(v interface{}) Reply { return Reply{Kind: KindOther, Raw: v} }

// BytesReply decodes b as UTF-8, replacing invalid sequences.
func BytesReply(b []byte) Reply {
	return StringReply(strings.ToValidUTF8(string(b), "\uFFFD"))
}

// StringsReply builds a list reply of strings.
func StringsReply(kind Kind, values []string) Reply {
	elems := make([]Reply, len(values))
	for i, v := range values {
		elems[i] = StringReply(v)
	}
	return Reply{Kind: kind, Elems: elems}
}

// PairsReply builds a map reply from a flat field/value slice such as the
// one HGETALL returns under RESP2.
func PairsReply(flat []string) Reply {
	pairs := make([]Pair, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		pairs = append(pairs, Pair{Field: flat[i], Value: StringReply(flat[i+1])})
	}
	return MapReply(pairs...)
}

// FromNative converts a value decoded by the store client into a Reply.
// Maps without an inherent order are sorted by field.
func FromNative(v interface{}) Reply {
	switch x := v.(type) {
	case nil:
		return NullReply()
	case Reply:
		return x
	case string:
		return StringReply(x)
	case []byte:
		return BytesReply(x)
	case int64:
		return IntegerReply(x)
	case int:
		return IntegerReply(int64(x))
	case float64:
		return DoubleReply(x)
	case bool:
		return BoolReply(x)
	case []string:
		return StringsReply(KindList, x)
	case []interface{}:
		elems := make([]Reply, len(x))
		for i, e := range x {
			elems[i] = FromNative(e)
		}
		return ListReply(elems...)
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]Pair, len(keys))
		for i, k := range keys {
			pairs[i] = Pair{Field: k, Value: StringReply(x[k])}
		}
		return MapReply(pairs...)
	case map[interface{}]interface{}:
		pairs := make([]Pair, 0, len(x))
		for k, e := range x {
			pairs = append(pairs, Pair{Field: FromNative(k).Text(), Value: FromNative(e)})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].Field < pairs[j].Field })
		return MapReply(pairs...)
	default:
		return OtherReply(v)
	}
}

// Text is the string form of the reply, used when it appears as a cell.
func (r Reply) Text() string {
	switch r.Kind {
	case KindNull:
		return ""
	case KindString:
		return r.Str
	case KindInteger:
		return strconv.FormatInt(r.Int, 10)
	case KindDouble:
		return strconv.FormatFloat(r.Float, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(r.Bool)
	case KindList, KindSet:
		parts := make([]string, len(r.Elems))
		for i, e := range r.Elems {
			parts[i] = e.Text()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		parts := make([]string, len(r.Pairs))
		for i, p := range r.Pairs {
			parts[i] = p.Field + "=" + p.Value.Text()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(r.Raw)
	}
}
