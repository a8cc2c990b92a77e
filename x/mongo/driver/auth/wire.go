// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import "github.com/coredb/mongocore/x/bsonx/bsoncore"

// commandOK inspects a command reply's `ok` field, which the server may
// encode as a double or an int32 depending on driver era; spec.md §1 lists
// `ok` among the handful of fields the core must inspect.
func commandOK(doc bsoncore.Document) bool {
	v := doc.Lookup("ok")
	if f, ok := v.DoubleOK(); ok {
		return f != 0
	}
	if i, ok := v.AsInt64OK(); ok {
		return i != 0
	}
	return false
}
