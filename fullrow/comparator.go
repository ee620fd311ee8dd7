package fullrow

import (
	"fmt"
	"strings"

	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/row"
	"github.com/spirit-labs/aggstore/types"
)

type AggKind int

const (
	AggMin AggKind = iota
	AggMax
	AggSum
	AggCount
)

var aggKindNames = map[AggKind]string{
	AggMin:   "min",
	AggMax:   "max",
	AggSum:   "sum",
	AggCount: "count",
}

func (k AggKind) String() string {
	if s, ok := aggKindNames[k]; ok {
		return s
	}
	return "unknown"
}

func ParseAggKind(s string) (AggKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range aggKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, errors.NewStoreErrorf(errors.InvalidConfiguration, "unknown aggregate function %q", s)
}

// NeedsRecompute reports whether the aggregate cannot be maintained incrementally when a row is retracted.
func (k AggKind) NeedsRecompute() bool {
	return k == AggMin || k == AggMax
}

// AggExpr is an aggregate function applied to one column of the retained rows.
type AggExpr struct {
	Kind     AggKind
	ColIndex int
}

func (e AggExpr) String() string {
	return fmt.Sprintf("%s(%d)", e.Kind, e.ColIndex)
}

type Direction int

const (
	Ascending Direction = iota
	Descending
)

// ValueComparator orders rows by one column so that the extremal row for an aggregate sorts first. Nulls sort after
// every value in both directions.
type ValueComparator struct {
	direction Direction
	colIndex  int
	compare   func(a, b any) int
}

// NewValueComparator returns an ascending comparator for min and a descending one for max. Column types without a
// natural order, and aggregates maintained incrementally, cannot be recomputed from rows and are rejected.
func NewValueComparator(kind AggKind, colIndex int, colType types.ColumnType) (*ValueComparator, error) {
	var direction Direction
	switch kind {
	case AggMin:
		direction = Ascending
	case AggMax:
		direction = Descending
	default:
		return nil, errors.NewStoreErrorf(errors.UnsupportedAggregateType,
			"aggregate %s is not recomputed from retained rows", kind)
	}
	compare, err := baseCompare(colType)
	if err != nil {
		return nil, err
	}
	return &ValueComparator{direction: direction, colIndex: colIndex, compare: compare}, nil
}

// NewComparators builds the comparator of every expression recomputed from retained rows, indexed like exprs. Other
// expressions get a nil entry.
func NewComparators(schema *row.Schema, exprs []AggExpr) ([]*ValueComparator, error) {
	colTypes := schema.ColumnTypes()
	comparators := make([]*ValueComparator, len(exprs))
	for i, expr := range exprs {
		if !expr.Kind.NeedsRecompute() {
			continue
		}
		if expr.ColIndex < 0 || expr.ColIndex >= len(colTypes) {
			return nil, errors.NewStoreErrorf(errors.InvalidConfiguration, "aggregate column %d out of range",
				expr.ColIndex)
		}
		cmp, err := NewValueComparator(expr.Kind, expr.ColIndex, colTypes[expr.ColIndex])
		if err != nil {
			return nil, err
		}
		comparators[i] = cmp
	}
	return comparators, nil
}

func baseCompare(colType types.ColumnType) (func(a, b any) int, error) {
	switch colType.ID() {
	case types.ColumnTypeIDInt:
		return func(a, b any) int {
			return compareOrdered(a.(int64), b.(int64))
		}, nil
	case types.ColumnTypeIDFloat:
		return func(a, b any) int {
			return compareOrdered(a.(float64), b.(float64))
		}, nil
	case types.ColumnTypeIDTimestamp:
		return func(a, b any) int {
			return compareOrdered(a.(types.Timestamp).Val, b.(types.Timestamp).Val)
		}, nil
	case types.ColumnTypeIDDecimal:
		return func(a, b any) int {
			d1 := a.(types.Decimal)
			d2 := b.(types.Decimal)
			return d1.Compare(&d2)
		}, nil
	case types.ColumnTypeIDString:
		return func(a, b any) int {
			return strings.Compare(a.(string), b.(string))
		}, nil
	default:
		return nil, errors.NewStoreErrorf(errors.UnsupportedAggregateType,
			"min and max are not supported for column type %s", colType.String())
	}
}

func compareOrdered[T int64 | float64](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Compare returns a negative number when r1 sorts before r2.
func (v *ValueComparator) Compare(r1, r2 row.Row) int {
	return v.CompareValues(r1[v.colIndex], r2[v.colIndex])
}

// CompareValues compares two values of the comparator's column.
func (v *ValueComparator) CompareValues(val1, val2 any) int {
	if val1 == nil || val2 == nil {
		switch {
		case val1 == nil && val2 == nil:
			return 0
		case val1 == nil:
			return 1
		default:
			return -1
		}
	}
	c := v.compare(val1, val2)
	if v.direction == Descending {
		return -c
	}
	return c
}

// Less reports whether r1 is a better extremal candidate than r2.
func (v *ValueComparator) Less(r1, r2 row.Row) bool {
	return v.Compare(r1, r2) < 0
}

func (v *ValueComparator) Direction() Direction {
	return v.direction
}

func (v *ValueComparator) ColIndex() int {
	return v.colIndex
}
