// Copyright 2026 The cuenv Authors. All Rights Reserved.
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

package hooks

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEnvOutput_BasicAndExport(t *testing.T) {
	out := ParseEnvOutput("FOO=bar\nexport BAZ=qux\n")
	require.Equal(t, map[string]string{"FOO": "bar", "BAZ": "qux"}, out)
}

func TestParseEnvOutput_SkipsCommentsAndBlank(t *testing.T) {
	out := ParseEnvOutput("# a comment\n\nFOO=bar\n   \n")
	require.Equal(t, map[string]string{"FOO": "bar"}, out)
}

func TestParseEnvOutput_StripsQuotes(t *testing.T) {
	out := ParseEnvOutput(`A="double"` + "\n" + `B='single'`)
	require.Equal(t, map[string]string{"A": "double", "B": "single"}, out)
}

func TestParseEnvOutput_RejectsInvalidKeys(t *testing.T) {
	out := ParseEnvOutput("1FOO=bar\nFOO-BAR=baz\nVALID_1=ok")
	require.Equal(t, map[string]string{"VALID_1": "ok"}, out)
}

func TestParseEnvOutput_IsPureAndCommutesWithConcatenation(t *testing.T) {
	a := "FOO=1\nBAR=2\n"
	b := "BAZ=3\nQUX=4\n"
	combined := ParseEnvOutput(a + b)

	partial := ParseEnvOutput(a)
	for k, v := range ParseEnvOutput(b) {
		partial[k] = v
	}
	require.Equal(t, combined, partial)

	// purity: identical input always yields identical output.
	require.Equal(t, ParseEnvOutput(a), ParseEnvOutput(a))
}

func TestParseEnvOutput_IgnoresLineWithoutEquals(t *testing.T) {
	out := ParseEnvOutput("not a valid line\nFOO=bar")
	require.Equal(t, map[string]string{"FOO": "bar"}, out)
}
