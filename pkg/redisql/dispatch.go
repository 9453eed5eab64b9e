package redisql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ArgKind is the coercion applied to one argument before a store call.
type ArgKind int

const (
	ArgString ArgKind = iota
	ArgInt
	ArgFloat
)

func (k ArgKind) String() string {
	switch k {
	case ArgInt:
		return "integer"
	case ArgFloat:
		return "number"
	default:
		return "string"
	}
}

// Arg is a coerced argument. Raw is always set; Int or Float is set when the
// operation asks for that coercion.
type Arg struct {
	Raw   string
	Int   int64
	Float float64
}

// Arity is an argument-count rule.
type Arity struct {
	Min    int
	Max    int   // -1 means unbounded
	OneOf  []int // when set, Min and Max are ignored
	Parity int   // 1 requires an odd count, 2 an even count
}

func Exact(n int) Arity { return Arity{Min: n, Max: n} }
func AtLeast(n int) Arity { return Arity{Min: n, Max: -1} }
func Between(lo, hi int) Arity { return Arity{Min: lo, Max: hi} }
func OneOf(counts ...int) Arity { return Arity{OneOf: counts} }
func OddAtLeast(n int) Arity { return Arity{Min: n, Max: -1, Parity: 1} }
func EvenAtLeast(n int) Arity { return Arity{Min: n, Max: -1, Parity: 2} }

// Allows reports whether n arguments satisfy the rule.
func (a Arity) Allows(n int) bool {
	if len(a.OneOf) > 0 {
		for _, c := range a.OneOf {
			if c == n {
				return true
			}
		}
		return false
	}
	if n < a.Min || (a.Max >= 0 && n > a.Max) {
		return false
	}
	switch a.Parity {
	case 1:
		return n%2 == 1
	case 2:
		return n%2 == 0
	}
	return true
}

// String describes the rule for error messages.
func (a Arity) String() string {
	if len(a.OneOf) > 0 {
		parts := make([]string, len(a.OneOf))
		for i, c := range a.OneOf {
			parts[i] = strconv.Itoa(c)
		}
		return strings.Join(parts, " or ")
	}
	var s string
	switch {
	case a.Max == a.Min:
		s = strconv.Itoa(a.Min)
	case a.Max < 0:
		s = "at least " + strconv.Itoa(a.Min)
	default:
		s = fmt.Sprintf("%d to %d", a.Min, a.Max)
	}
	switch a.Parity {
	case 1:
		s = "an odd number (" + s + ") of"
	case 2:
		s = "an even number (" + s + ") of"
	}
	return s
}

// Operation describes how a known verb is validated and invoked.
type Operation struct {
	Verb  string
	Usage string
	Arity Arity
	// Coerce gives the kind of each positional argument. Arguments past the
	// end reuse the last Repeat kinds cyclically, or ArgString when Repeat is 0.
	Coerce []ArgKind
	Repeat int
	Invoke func(ctx context.Context, c Conn, args []Arg) (Reply, error)
}

func (op *Operation) kindAt(i int) ArgKind {
	if i < len(op.Coerce) {
		return op.Coerce[i]
	}
	if op.Repeat <= 0 || op.Repeat > len(op.Coerce) {
		return ArgString
	}
	base := len(op.Coerce) - op.Repeat
	return op.Coerce[base+(i-len(op.Coerce))%op.Repeat]
}

// Bind checks the argument count and coerces each argument.
func (op *Operation) Bind(raw []string) ([]Arg, error) {
	if !op.Arity.Allows(len(raw)) {
		return nil, argumentError(op.Verb, "expects %s arguments, got %d (usage: %s)", op.Arity, len(raw), op.Usage)
	}

	args := make([]Arg, len(raw))
	for i, s := range raw {
		args[i].Raw = s
		switch op.kindAt(i) {
		case ArgInt:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, argumentError(op.Verb, "argument %d: %q is not an integer", i+1, s)
			}
			args[i].Int = n
		case ArgFloat:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, argumentError(op.Verb, "argument %d: %q is not a number", i+1, s)
			}
			args[i].Float = f
		}
	}
	return args, nil
}

var operations = map[string]*Operation{}

func register(op *Operation) {
	if _, dup := operations[op.Verb]; dup {
		panic("redisql: duplicate operation " + op.Verb)
	}
	operations[op.Verb] = op
}

// Lookup returns the operation registered for verb, ignoring case.
func Lookup(verb string) (*Operation, bool) {
	op, ok := operations[strings.ToUpper(verb)]
	return op, ok
}

// Verbs returns the registered verbs in sorted order.
func Verbs() []string {
	verbs := make([]string, 0, len(operations))
	for v := range operations {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}

// Dispatch runs cmd on c. Known verbs are validated and coerced before the
// store is contacted; unknown verbs are sent as-is.
func Dispatch(ctx context.Context, c Conn, cmd *Command) (Reply, error) {
	op, ok := Lookup(cmd.Verb)
	if !ok {
		r, err := raw(ctx, c, cmd.Verb, cmd.Args)
		if err != nil {
			return Reply{}, storeError(cmd.Verb, err)
		}
		return r, nil
	}

	args, err := op.Bind(cmd.Args)
	if err != nil {
		return Reply{}, err
	}

	r, err := op.Invoke(ctx, c, args)
	if err != nil {
		if errors.Is(err, ErrArgument) {
			return Reply{}, err
		}
		return Reply{}, storeError(op.Verb, err)
	}
	return r, nil
}

// raw sends verb and args as a generic command.
func raw(ctx context.Context, c Conn, verb string, args []string) (Reply, error) {
	cmdArgs := make([]interface{}, 0, len(args)+1)
	cmdArgs = append(cmdArgs, verb)
	for _, a := range args {
		cmdArgs = append(cmdArgs, a)
	}
	cmd := redis.NewCmd(ctx, cmdArgs...)
	_ = c.Process(ctx, cmd)
	return fromCmd(cmd)
}

func fromCmd(cmd *redis.Cmd) (Reply, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return NullReply(), nil
	}
	if err != nil {
		return Reply{}, err
	}
	return FromNative(v), nil
}

func fromString(cmd *redis.StringCmd) (Reply, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return NullReply(), nil
	}
	if err != nil {
		return Reply{}, err
	}
	return StringReply(v), nil
}

func fromStatus(cmd *redis.StatusCmd) (Reply, error) {
	v, err := cmd.Result()
	if err != nil {
		return Reply{}, err
	}
	return StringReply(v), nil
}

func fromInt(cmd *redis.IntCmd) (Reply, error) {
	v, err := cmd.Result()
	if err != nil {
		return Reply{}, err
	}
	return IntegerReply(v), nil
}

// fromBool maps integer replies that go-redis decodes as booleans back to
// 1 or 0.
func fromBool(cmd *redis.BoolCmd) (Reply, error) {
	v, err := cmd.Result()
	if err != nil {
		return Reply{}, err
	}
	if v {
		return IntegerReply(1), nil
	}
	return IntegerReply(0), nil
}

func fromFloat(cmd *redis.FloatCmd) (Reply, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return NullReply(), nil
	}
	if err != nil {
		return Reply{}, err
	}
	return DoubleReply(v), nil
}

func fromStrings(kind Kind, cmd *redis.StringSliceCmd) (Reply, error) {
	v, err := cmd.Result()
	if err != nil {
		return Reply{}, err
	}
	return StringsReply(kind, v), nil
}

func fromSlice(cmd *redis.SliceCmd) (Reply, error) {
	v, err := cmd.Result()
	if err != nil {
		return Reply{}, err
	}
	return FromNative(v), nil
}
