package redisql

const (
	columnValue  = "value"
	columnCount  = "count"
	columnField  = "field"
	columnResult = "result"
)

// Shape converts a store reply into a tabular result. Every reply produces
// at least one column and at least one row.
func Shape(r Reply) *Result {
	switch r.Kind {
	case KindNull:
		return singleRow(Column{columnValue, TypeText}, NullValue(TypeText))

	case KindString:
		return singleRow(Column{columnValue, TypeText}, TextValue(r.Str))

	case KindInteger:
		return singleRow(Column{columnCount, TypeInteger}, IntValue(r.Int))

	case KindList, KindSet:
		if len(r.Elems) == 0 {
			return singleRow(Column{columnValue, TypeText}, NullValue(TypeText))
		}
		res := &Result{
			Columns: []Column{{columnValue, TypeText}},
			Rows:    make([][]Value, len(r.Elems)),
		}
		for i, e := range r.Elems {
			res.Rows[i] = []Value{cell(e)}
		}
		return res

	case KindMap:
		res := &Result{Columns: []Column{{columnField, TypeText}, {columnValue, TypeText}}}
		if len(r.Pairs) == 0 {
			res.Rows = [][]Value{{NullValue(TypeText), NullValue(TypeText)}}
			return res
		}
		res.Rows = make([][]Value, len(r.Pairs))
		for i, p := range r.Pairs {
			res.Rows[i] = []Value{TextValue(p.Field), cell(p.Value)}
		}
		return res

	default:
		return singleRow(Column{columnResult, TypeText}, TextValue(r.Text()))
	}
}

func singleRow(col Column, v Value) *Result {
	return &Result{
		Columns: []Column{col},
		Rows:    [][]Value{{v}},
	}
}

func cell(r Reply) Value {
	if r.Kind == KindNull {
		return NullValue(TypeText)
	}
	return TextValue(r.Text())
}
