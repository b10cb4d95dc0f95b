// Copyright 2025 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package leakutil

import (
	"testing"

	"go.uber.org/goleak"
)

// SetUpLeakTest runs the test suite under a goroutine leak check.
// Call it in TestMain:
//
//	func TestMain(m *testing.M) {
//		leakutil.SetUpLeakTest(m)
//	}
func SetUpLeakTest(m *testing.M, additionalOpts ...goleak.Option) {
	opts := []goleak.Option{
		goleak.IgnoreTopFunction("sync.runtime_Semacquire"),
	}
	opts = append(opts, additionalOpts...)
	goleak.VerifyTestMain(m, opts...)
}

// VerifyNone asserts that no unexpected goroutines are running at the
// point of the call. Prefer SetUpLeakTest; this is for tests that need a
// mid-test checkpoint.
func VerifyNone(t *testing.T, options ...goleak.Option) {
	goleak.VerifyNone(t, options...)
}
