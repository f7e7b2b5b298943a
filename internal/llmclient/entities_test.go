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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeEntitiesDecodesAllFive(t *testing.T) {
	in := "&lt;tag&gt; &amp; &quot;quoted&quot; &apos;it&apos;s&apos;"
	assert.Equal(t, `<tag> & "quoted" 'it's'`, decodeEntities(in))
}

func TestDecodeEntitiesIsSinglePassNotRecursive(t *testing.T) {
	// &amp;lt; should decode to "&lt;" and NOT go on to decode to "<" — a
	// second pass would be a bug.
	assert.Equal(t, "&lt;", decodeEntities("&amp;lt;"))
}

func TestDecodeEntitiesLeavesUnknownEntitiesAlone(t *testing.T) {
	assert.Equal(t, "&copy; plain text", decodeEntities("&copy; plain text"))
}
