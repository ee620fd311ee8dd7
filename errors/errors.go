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

package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

type ErrorCode int

const (
	Unavailable ErrorCode = iota + 2000
	StoreClosed
	VersionNotFound
	VersionConflict
	InvalidConfiguration ErrorCode = iota + 3000
	UnsupportedAggregateType
	InternalError ErrorCode = iota + 5000
)

func NewInternalError(errReference string) StoreError {
	return NewStoreErrorf(InternalError, "internal error - reference: %s please consult server logs for details", errReference)
}

func NewInvalidConfigurationError(msg string) StoreError {
	return NewStoreErrorf(InvalidConfiguration, "invalid configuration: %s", msg)
}

func NewStoreErrorf(errorCode ErrorCode, msgFormat string, args ...interface{}) StoreError {
	msg := fmt.Sprintf(msgFormat, args...)
	return StoreError{Code: errorCode, Msg: msg}
}

func NewStoreError(errorCode ErrorCode, msg string) StoreError {
	return StoreError{Code: errorCode, Msg: msg}
}

type StoreError struct {
	Code ErrorCode
	Msg  string
}

func (u StoreError) Error() string {
	return u.Msg
}

// HasCode returns true if err, or any error it wraps, is a StoreError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var serr StoreError
	if As(err, &serr) {
		return serr.Code == code
	}
	return false
}

func New(msg string) error {
	return pkgerrors.New(msg)
}

func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

func Wrap(err error, msg string) error {
	return pkgerrors.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

func Is(err, target error) bool {
	return pkgerrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return pkgerrors.As(err, target)
}
