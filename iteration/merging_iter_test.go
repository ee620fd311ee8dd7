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

package iteration

import (
	"fmt"
	"testing"

	"github.com/spirit-labs/aggstore/errors"
	"github.com/stretchr/testify/require"
)

func TestMergingIteratorNoDups(t *testing.T) {
	iter1 := createIter(2, 2, 5, 5, 9, 9, 11, 11, 12, 12)
	iter2 := createIter(0, 0, 3, 3, 7, 7, 10, 10, 13, 13)
	iter3 := createIter(4, 4, 6, 6, 8, 8, 14, 14, 18, 18)
	mi := NewMergingIterator([]Iterator{iter1, iter2, iter3}, false)
	expectEntries(t, mi, 0, 0, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13, 14, 14, 18, 18)
}

func TestMergingIteratorDupKeys(t *testing.T) {
	iter1 := createIter(2, 20, 5, 50, 9, 90, 11, 110, 12, 120)
	iter2 := createIter(0, 0, 3, 300, 5, 500, 13, 1300, 14, 1400)
	iter3 := createIter(4, 4000, 5, 5000, 8, 8000, 14, 14000, 18, 18000)
	mi := NewMergingIterator([]Iterator{iter1, iter2, iter3}, false)
	expectEntries(t, mi, 0, 0, 2, 20, 3, 300, 4, 4000, 5, 50, 8, 8000, 9, 90, 11, 110, 12, 120, 13, 1300, 14, 1400, 18, 18000)
}

func TestMergingIteratorTombstonesDoNotPreserve(t *testing.T) {
	iter1 := createIter(2, -1, 5, -1, 9, 90, 11, -1, 12, 120)
	iter2 := createIter(0, 0, 3, 300, 5, 500, 13, 1300, 14, -1)
	iter3 := createIter(4, -1, 5, 5000, 8, 8000, 14, 14000, 18, 18000)
	mi := NewMergingIterator([]Iterator{iter1, iter2, iter3}, false)
	expectEntries(t, mi, 0, 0, 3, 300, 8, 8000, 9, 90, 12, 120, 13, 1300, 18, 18000)
}

func TestMergingIteratorTombstonesPreserve(t *testing.T) {
	iter1 := createIter(2, -1, 5, -1, 9, 90, 11, -1, 12, 120)
	iter2 := createIter(0, 0, 3, 300, 5, 500, 13, 1300, 14, -1)
	iter3 := createIter(4, -1, 5, 5000, 8, 8000, 14, 14000, 18, 18000)
	mi := NewMergingIterator([]Iterator{iter1, iter2, iter3}, true)
	expectEntries(t, mi, 0, 0, 2, -1, 3, 300, 4, -1, 5, -1, 8, 8000, 9, 90, 11, -1, 12, 120, 13, 1300, 14, -1, 18, 18000)
}

func TestMergingIteratorPutThenTombstonesLater(t *testing.T) {
	iter1 := createIter(2, 20, 5, 50, 9, 90, 11, 110, 12, 120)
	iter2 := createIter(0, 0, 4, -1, 5, 500, 9, -1, 13, 1300, 14, -1)
	iter3 := createIter(4, 4000, 5, 5000, 8, 8000, 9, 99, 14, 14000, 18, 18000)
	mi := NewMergingIterator([]Iterator{iter1, iter2, iter3}, false)
	expectEntries(t, mi, 0, 0, 2, 20, 5, 50, 8, 8000, 9, 90, 11, 110, 12, 120, 13, 1300, 18, 18000)
}

func TestMergingIteratorOneIterator(t *testing.T) {
	iter1 := createIter(2, 20, 5, 50, 9, 90, 11, 110, 12, 120)
	mi := NewMergingIterator([]Iterator{iter1}, false)
	expectEntries(t, mi, 2, 20, 5, 50, 9, 90, 11, 110, 12, 120)
}

func TestMergingIteratorTwoIteratorsOneSmall(t *testing.T) {
	iter1 := createIter(1, 1, 9, 9)
	iter2 := createIter(2, 20, 5, 50, 9, 90, 11, 110, 12, 120)
	mi := NewMergingIterator([]Iterator{iter1, iter2}, false)
	expectEntries(t, mi, 1, 1, 2, 20, 5, 50, 9, 9, 11, 110, 12, 120)
}

func TestMergingIteratorEmpty(t *testing.T) {
	mi := NewMergingIterator([]Iterator{createIter(), createIter()}, false)
	expectEntries(t, mi)
}

func TestEmptyRange(t *testing.T) {
	_, empty := EmptyRange(nil, nil)
	require.False(t, empty)
	_, empty = EmptyRange([]byte("b"), nil)
	require.False(t, empty)
	_, empty = EmptyRange(nil, []byte("a"))
	require.False(t, empty)
	_, empty = EmptyRange([]byte("a"), []byte("b"))
	require.False(t, empty)

	iter, empty := EmptyRange([]byte("b"), []byte("b"))
	require.True(t, empty)
	expectEntries(t, iter)
	iter, empty = EmptyRange([]byte("b\x00"), []byte("b"))
	require.True(t, empty)
	expectEntries(t, iter)
}

func TestMergingIteratorError(t *testing.T) {
	iter1 := createIter(1, 1)
	iter2 := createIter(2, 2)
	iter2.SetError(errors.New("disk on fire"))
	mi := NewMergingIterator([]Iterator{iter1, iter2}, false)
	_, _, err := mi.Next()
	require.Error(t, err)
	require.Equal(t, "disk on fire", err.Error())
}

func TestMergingIteratorExhaustedStaysExhausted(t *testing.T) {
	mi := NewMergingIterator([]Iterator{createIter(1, 1)}, false)
	expectEntries(t, mi, 1, 1)
	valid, _, err := mi.Next()
	require.NoError(t, err)
	require.False(t, valid)
}

// createIter takes pairs of key, value. A value of -1 creates a tombstone.
func createIter(vals ...int) *StaticIterator {
	si := NewStaticIterator(nil)
	for i := 0; i < len(vals); i += 2 {
		k := []byte(fmt.Sprintf("key-%010d", vals[i]))
		var v []byte
		if vals[i+1] != -1 {
			v = []byte(fmt.Sprintf("val-%010d", vals[i+1]))
		}
		si.AddKV(k, v)
	}
	return si
}

func expectEntries(t *testing.T, iter Iterator, expected ...int) {
	t.Helper()
	for i := 0; i < len(expected); i += 2 {
		valid, kv, err := iter.Next()
		require.NoError(t, err)
		require.True(t, valid)
		require.Equal(t, fmt.Sprintf("key-%010d", expected[i]), string(kv.Key))
		if expected[i+1] == -1 {
			require.Nil(t, kv.Value)
		} else {
			require.Equal(t, fmt.Sprintf("val-%010d", expected[i+1]), string(kv.Value))
		}
	}
	valid, _, err := iter.Next()
	require.NoError(t, err)
	require.False(t, valid)
}
