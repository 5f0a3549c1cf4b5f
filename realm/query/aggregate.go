package query

import (
	"fmt"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
	"github.com/wbrown/janus-realm/realm/storage"
)

// AggregateFunction reduces the non-null values of one column.
type AggregateFunction interface {
	// FunctionName returns the name of the aggregate function
	FunctionName() string

	// Accepts reports whether the column type can be aggregated
	Accepts(t realm.Type) bool

	// Aggregate reduces non-null values of a column of type t
	Aggregate(t realm.Type, values []realm.Value) realm.Value
}

// Aggregate functions, usable with Reduce.
var (
	Min     AggregateFunction = MinAggregate{}
	Max     AggregateFunction = MaxAggregate{}
	Sum     AggregateFunction = SumAggregate{}
	Average AggregateFunction = AvgAggregate{}
)

// AggregateByName looks up one of the functions above by its FunctionName.
func AggregateByName(name string) (AggregateFunction, error) {
	for _, fn := range []AggregateFunction{Min, Max, Sum, Average} {
		if fn.FunctionName() == name {
			return fn, nil
		}
	}
	return nil, realm.Errorf(realm.KindInvalidArgument, "aggregate", "unknown aggregate function %q", name)
}

func orderable(t realm.Type) bool {
	return t.IsNumeric() || t == realm.TypeDate
}

// MinAggregate finds the minimum value; nil when there is none.
type MinAggregate struct{}

func (MinAggregate) FunctionName() string        { return "min" }
func (MinAggregate) Accepts(t realm.Type) bool { return orderable(t) }

func (MinAggregate) Aggregate(_ realm.Type, values []realm.Value) realm.Value {
	if len(values) == 0 {
		return nil
	}
	min := values[0]
	for i := 1; i < len(values); i++ {
		if realm.CompareValues(values[i], min) < 0 {
			min = values[i]
		}
	}
	return min
}

// MaxAggregate finds the maximum value; nil when there is none.
type MaxAggregate struct{}

func (MaxAggregate) FunctionName() string        { return "max" }
func (MaxAggregate) Accepts(t realm.Type) bool { return orderable(t) }

func (MaxAggregate) Aggregate(_ realm.Type, values []realm.Value) realm.Value {
	if len(values) == 0 {
		return nil
	}
	max := values[0]
	for i := 1; i < len(values); i++ {
		if realm.CompareValues(values[i], max) > 0 {
			max = values[i]
		}
	}
	return max
}

// SumAggregate sums numeric values: int64 for Int columns, float64 otherwise.
type SumAggregate struct{}

func (SumAggregate) FunctionName() string        { return "sum" }
func (SumAggregate) Accepts(t realm.Type) bool { return t.IsNumeric() }

func (SumAggregate) Aggregate(t realm.Type, values []realm.Value) realm.Value {
	if t == realm.TypeInt {
		var sum int64
		for _, v := range values {
			n, _ := v.(int64)
			sum += n
		}
		return sum
	}
	var sum float64
	for _, v := range values {
		f, _ := realm.AsFloat64(v)
		sum += f
	}
	return sum
}

// AvgAggregate computes the mean over the non-null values; 0 when there are none.
type AvgAggregate struct{}

func (AvgAggregate) FunctionName() string        { return "average" }
func (AvgAggregate) Accepts(t realm.Type) bool { return t.IsNumeric() }

func (AvgAggregate) Aggregate(_ realm.Type, values []realm.Value) realm.Value {
	if len(values) == 0 {
		return float64(0)
	}
	var sum float64
	for _, v := range values {
		f, _ := realm.AsFloat64(v)
		sum += f
	}
	return sum / float64(len(values))
}

// AggregateColumn resolves field for fn. Aggregates take direct columns only.
func AggregateColumn(s *schema.Schema, o *schema.ObjectSchema, field string, fn AggregateFunction) (*schema.Column, int, error) {
	op := fn.FunctionName()
	p, err := s.ResolvePath(o.Name, field)
	if err != nil {
		return nil, 0, relabel(err, op)
	}
	if !p.IsDirect() {
		return nil, 0, realm.Errorf(realm.KindInvalidArgument, op, "%s across links is not supported (field %q)", op, field)
	}
	if !fn.Accepts(p.Col.Type) {
		return nil, 0, realm.Errorf(realm.KindInvalidArgument, op, "%s is not supported for field %q of type %s", op, field, p.Col.Type)
	}
	return p.Col, p.Column, nil
}

// Reduce applies fn to field over keys.
func Reduce(snap *storage.Snapshot, o *schema.ObjectSchema, keys []realm.ObjKey, field string, fn AggregateFunction) (realm.Value, error) {
	c, col, err := AggregateColumn(snap.Schema(), o, field, fn)
	if err != nil {
		return nil, err
	}
	t := snap.Table(o.Index())
	values := make([]realm.Value, 0, len(keys))
	for _, k := range keys {
		v, ok := t.Value(k, col)
		if !ok || v == nil {
			continue
		}
		values = append(values, v)
	}
	return fn.Aggregate(c.Type, values), nil
}

// FormatAggregate renders an aggregate result for display.
func FormatAggregate(fn AggregateFunction, field string, v realm.Value) string {
	if v == nil {
		return fmt.Sprintf("%s(%s) = <none>", fn.FunctionName(), field)
	}
	return fmt.Sprintf("%s(%s) = %v", fn.FunctionName(), field, v)
}
