// Copyright (C) 2023 Quern Labs, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package interp

import (
	"encoding/json"
	"errors"

	"github.com/quernlabs/quern/rowexpr"
)

// failureInfo is the json payload carried by a deferred failure
// call; fail() decodes it to re-raise the original error.
type failureInfo struct {
	Code    int      `json:"code"`
	Name    string   `json:"name"`
	Message string   `json:"message"`
	Cause   []string `json:"cause,omitempty"`
}

// failureNode builds cast(fail(code, json) AS t): an expression
// that re-raises ee if it is ever executed, standing in for a
// subexpression of type t that failed under speculation.
func (i *Interpreter) failureNode(ee *rowexpr.EvalError, t rowexpr.Type) (rowexpr.Node, error) {
	info := failureInfo{
		Code:    int(ee.Code),
		Name:    ee.Code.String(),
		Message: ee.Msg,
	}
	for cause := ee.Cause; cause != nil; cause = errors.Unwrap(cause) {
		info.Cause = append(info.Cause, cause.Error())
	}
	raw, err := json.Marshal(&info)
	if err != nil {
		return nil, err
	}
	jp, err := i.reg.Lookup(rowexpr.FnJSONParse, []rowexpr.Type{rowexpr.VarcharAny})
	if err != nil {
		return nil, err
	}
	jv, err := i.reg.Invoke(jp, i.session, []rowexpr.Datum{string(raw)})
	if err != nil {
		return nil, err
	}
	fail, err := i.reg.Lookup(rowexpr.FnFail, []rowexpr.Type{rowexpr.Integer, rowexpr.JSON})
	if err != nil {
		return nil, err
	}
	cast, err := i.reg.Cast(rowexpr.Unknown, t)
	if err != nil {
		return nil, err
	}
	inner := rowexpr.NewCall(fail, rowexpr.Unknown,
		rowexpr.Int(int64(ee.Code)),
		rowexpr.Const(jv, rowexpr.JSON))
	return &rowexpr.Call{Name: "CAST", Func: cast, T: t, Args: []rowexpr.Node{inner}}, nil
}
