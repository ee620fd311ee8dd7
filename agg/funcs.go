package agg

import (
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/fullrow"
	"github.com/spirit-labs/aggstore/types"
)

// aggFunc maintains one aggregate value for a group as rows join and leave it. Null input values are ignored.
type aggFunc interface {
	Add(prev any, val any) (any, error)
	// Retract returns ok == false when the new value cannot be derived from prev and must be recomputed from the
	// group's retained rows.
	Retract(prev any, val any) (res any, ok bool, err error)
	ReturnType() types.ColumnType
}

// newAggFunc takes the comparator built for expr by fullrow.NewComparators, nil unless expr is min or max.
func newAggFunc(expr fullrow.AggExpr, colType types.ColumnType, cmp *fullrow.ValueComparator) (aggFunc, error) {
	switch expr.Kind {
	case fullrow.AggSum:
		switch colType.ID() {
		case types.ColumnTypeIDInt, types.ColumnTypeIDFloat, types.ColumnTypeIDDecimal:
			return &sumAggFunc{colType: colType}, nil
		}
		return nil, errors.NewStoreErrorf(errors.UnsupportedAggregateType, "sum is not supported for column type %s",
			colType.String())
	case fullrow.AggCount:
		return &countAggFunc{}, nil
	case fullrow.AggMin, fullrow.AggMax:
		if cmp == nil {
			return nil, errors.NewStoreErrorf(errors.UnsupportedAggregateType, "%s requires a comparator", expr.Kind)
		}
		return &extremalAggFunc{cmp: cmp, colType: colType}, nil
	}
	return nil, errors.NewStoreErrorf(errors.UnsupportedAggregateType, "unknown aggregate %s", expr.Kind)
}

type countAggFunc struct{}

func (c *countAggFunc) Add(prev any, val any) (any, error) {
	count := int64(0)
	if prev != nil {
		count = prev.(int64)
	}
	if val != nil {
		count++
	}
	return count, nil
}

func (c *countAggFunc) Retract(prev any, val any) (any, bool, error) {
	count := int64(0)
	if prev != nil {
		count = prev.(int64)
	}
	if val != nil {
		count--
	}
	return count, true, nil
}

func (c *countAggFunc) ReturnType() types.ColumnType {
	return types.ColumnTypeInt
}

type sumAggFunc struct {
	colType types.ColumnType
}

func (s *sumAggFunc) Add(prev any, val any) (any, error) {
	if val == nil {
		return prev, nil
	}
	if prev == nil {
		return val, nil
	}
	switch s.colType.ID() {
	case types.ColumnTypeIDInt:
		return prev.(int64) + val.(int64), nil
	case types.ColumnTypeIDFloat:
		return prev.(float64) + val.(float64), nil
	default:
		sum := prev.(types.Decimal)
		d := val.(types.Decimal)
		return sum.Add(&d)
	}
}

func (s *sumAggFunc) Retract(prev any, val any) (any, bool, error) {
	if val == nil || prev == nil {
		return prev, true, nil
	}
	switch s.colType.ID() {
	case types.ColumnTypeIDInt:
		return prev.(int64) - val.(int64), true, nil
	case types.ColumnTypeIDFloat:
		return prev.(float64) - val.(float64), true, nil
	default:
		sum := prev.(types.Decimal)
		d := val.(types.Decimal)
		res, err := sum.Subtract(&d)
		return res, true, err
	}
}

func (s *sumAggFunc) ReturnType() types.ColumnType {
	return s.colType
}

// extremalAggFunc is min or max, depending on the comparator direction.
type extremalAggFunc struct {
	cmp     *fullrow.ValueComparator
	colType types.ColumnType
}

func (e *extremalAggFunc) Add(prev any, val any) (any, error) {
	if e.cmp.CompareValues(val, prev) < 0 {
		return val, nil
	}
	return prev, nil
}

func (e *extremalAggFunc) Retract(prev any, val any) (any, bool, error) {
	if val == nil {
		return prev, true, nil
	}
	if e.cmp.CompareValues(val, prev) == 0 {
		return nil, false, nil
	}
	return prev, true, nil
}

func (e *extremalAggFunc) ReturnType() types.ColumnType {
	return e.colType
}
