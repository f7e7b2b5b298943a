// Copyright 2026 The Skein Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llmclient

import "strings"

// entityReplacer decodes exactly the five core HTML entities the backend's
// output is known to use, in a single left-to-right pass.
// strings.NewReplacer performs all substitutions in one scan, which is
// exactly the "single pass, not recursive" guarantee this adapter needs:
// an `&amp;` that decodes to `&` is never re-scanned for a second entity.
var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", `"`,
	"&apos;", "'",
)

// decodeEntities decodes the five core HTML entities in s.
func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}
