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

//go:build !unix

package hasher

import "os"

// openNoFollowOS opens path for reading. The preceding Lstat in openNoFollow
// already rejected symlinks; platforms without O_NOFOLLOW accept the
// narrow TOCTOU window noted in spec.md §4.1.1.
func openNoFollowOS(path string) (*os.File, error) {
	return os.Open(path)
}
