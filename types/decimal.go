// Copyright 2024 The Tektite Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"github.com/apache/arrow/go/v11/arrow/decimal128"
	"github.com/spirit-labs/aggstore/errors"
)

const (
	DefaultDecimalPrecision = 38
	DefaultDecimalScale     = 6
)

type Decimal struct {
	Num       decimal128.Num
	Precision int
	Scale     int
}

func NewDecimalFromInt64(val int64, precision int, scale int) Decimal {
	decNum := decimal128.FromI64(val)
	if scale > 0 {
		decNum = decNum.IncreaseScaleBy(int32(scale))
	} else if scale < 0 {
		decNum = decNum.ReduceScaleBy(-int32(scale), true)
	}
	return Decimal{
		Num:       decNum,
		Precision: precision,
		Scale:     scale,
	}
}

func NewDecimalFromString(val string, precision int, scale int) (Decimal, error) {
	decNum, err := decimal128.FromString(val, int32(precision), int32(scale))
	if err != nil {
		return Decimal{}, errors.WithStack(err)
	}
	return Decimal{
		Num:       decNum,
		Precision: precision,
		Scale:     scale,
	}, nil
}

// alignScales returns the two numbers rescaled to the larger of the two scales.
func (d *Decimal) alignScales(d2 *Decimal) (decimal128.Num, decimal128.Num) {
	if d.Scale == d2.Scale {
		return d.Num, d2.Num
	}
	if d.Scale > d2.Scale {
		return d.Num, d2.Num.IncreaseScaleBy(int32(d.Scale - d2.Scale))
	}
	return d.Num.IncreaseScaleBy(int32(d2.Scale - d.Scale)), d2.Num
}

// Compare returns -1, 0 or 1 as d is less than, equal to or greater than d2. Precision is ignored.
func (d *Decimal) Compare(d2 *Decimal) int {
	n1, n2 := d.alignScales(d2)
	if n1.Less(n2) {
		return -1
	}
	if n1.Greater(n2) {
		return 1
	}
	return 0
}

func (d *Decimal) GreaterThan(d2 *Decimal) bool {
	return d.Compare(d2) > 0
}

func (d *Decimal) LessThan(d2 *Decimal) bool {
	return d.Compare(d2) < 0
}

func (d *Decimal) Equals(d2 *Decimal) bool {
	return d.Compare(d2) == 0
}

func (d *Decimal) Add(d2 *Decimal) (Decimal, error) {
	prec, scale := AddResultPrecScale(d.Precision, d.Scale, d2.Precision, d2.Scale)
	n1, n2 := d.alignScales(d2)
	ret := Decimal{
		Num:       n1.Add(n2),
		Precision: prec,
		Scale:     scale,
	}
	if err := checkResultFits(ret.Num, prec); err != nil {
		return Decimal{}, err
	}
	return ret, nil
}

func (d *Decimal) Subtract(d2 *Decimal) (Decimal, error) {
	prec, scale := AddResultPrecScale(d.Precision, d.Scale, d2.Precision, d2.Scale)
	n1, n2 := d.alignScales(d2)
	ret := Decimal{
		Num:       n1.Sub(n2),
		Precision: prec,
		Scale:     scale,
	}
	if err := checkResultFits(ret.Num, prec); err != nil {
		return Decimal{}, err
	}
	return ret, nil
}

func AddResultPrecScale(prec1 int, scale1 int, prec2 int, scale2 int) (int, int) {
	return max(prec1, prec2), max(scale1, scale2)
}

func (d *Decimal) ToFloat64() float64 {
	return d.Num.ToFloat64(int32(d.Scale))
}

func (d *Decimal) String() string {
	return d.Num.ToString(int32(d.Scale))
}

func checkResultFits(n decimal128.Num, prec int) error {
	if !n.FitsInPrecision(int32(prec)) {
		return errors.Errorf("result of decimal arithmetic does not fit in precision %d", prec)
	}
	return nil
}
