package row

import (
	"strings"

	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/types"
)

type Schema struct {
	columnNames []string
	columnTypes []types.ColumnType
}

func NewSchema(columnNames []string, columnTypes []types.ColumnType) *Schema {
	if len(columnNames) != len(columnTypes) {
		panic("columnNames and columnTypes must be same length")
	}
	return &Schema{
		columnNames: columnNames,
		columnTypes: columnTypes,
	}
}

// ParseSchema parses a schema of the form "name1: type1, name2: type2".
func ParseSchema(s string) (*Schema, error) {
	var names []string
	var colTypes []types.ColumnType
	for _, part := range splitColumns(s) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, sType, ok := strings.Cut(part, ":")
		if !ok {
			return nil, errors.NewInvalidConfigurationError("invalid column definition '" + part + "'")
		}
		colType, err := types.StringToColumnType(strings.TrimSpace(sType))
		if err != nil {
			return nil, err
		}
		names = append(names, strings.TrimSpace(name))
		colTypes = append(colTypes, colType)
	}
	if len(names) == 0 {
		return nil, errors.NewInvalidConfigurationError("schema must have at least one column")
	}
	return NewSchema(names, colTypes), nil
}

// splitColumns splits on commas outside parentheses so that decimal(p,s) stays whole.
func splitColumns(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func (s *Schema) ColumnNames() []string {
	return s.columnNames
}

func (s *Schema) ColumnTypes() []types.ColumnType {
	return s.columnTypes
}

func (s *Schema) NumColumns() int {
	return len(s.columnTypes)
}

// ColumnIndex returns the index of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, colName := range s.columnNames {
		if colName == name {
			return i
		}
	}
	return -1
}

// Equal compares column types only, names are not part of the stored format.
func (s *Schema) Equal(other *Schema) bool {
	if len(s.columnTypes) != len(other.columnTypes) {
		return false
	}
	for i, ct := range s.columnTypes {
		if !types.ColumnTypesEqual(ct, other.columnTypes[i]) {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	sb := strings.Builder{}
	for i, colName := range s.columnNames {
		colType := s.columnTypes[i]
		sb.WriteString(colName)
		sb.WriteString(": ")
		sb.WriteString(colType.String())
		if i != len(s.columnNames)-1 {
			sb.WriteString(", ")
		}
	}
	return sb.String()
}
