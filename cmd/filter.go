/*
 * snapguard, a snapshot-based parity protection tool
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cmd

import "strings"

// FilterAction is whether a matching rule includes or excludes.
type FilterAction int

// Filter actions, per §4.J.
const (
	FilterInclude FilterAction = iota
	FilterExclude
)

// FilterDimension is what a Rule matches against (§4.J "disk name, file
// path..., and error state").
type FilterDimension int

// Filter dimensions.
const (
	FilterDisk FilterDimension = iota
	FilterPath
	FilterError
)

// Rule is one include/exclude pattern (§4.J). Patterns support glob
// semantics `*`, `?` and `**`, matched against a disk name, path or
// error marker depending on Dimension.
type Rule struct {
	Action    FilterAction
	Dimension FilterDimension
	Pattern   string
}

// FilterList is an ordered sequence of Rules; the last matching rule wins,
// default is include (§4.J).
type FilterList struct {
	rules []Rule
}

// NewFilterList builds a FilterList from rules, in the order they should
// be evaluated.
func NewFilterList(rules ...Rule) *FilterList {
	return &FilterList{rules: rules}
}

// MatchPath reports whether path should be included, applying every
// FilterPath rule and taking the last match (default include).
func (fl *FilterList) MatchPath(path string) bool {
	return fl.match(FilterPath, path)
}

// MatchDisk reports whether diskName should be included.
func (fl *FilterList) MatchDisk(diskName string) bool {
	return fl.match(FilterDisk, diskName)
}

// MatchError reports whether a file in an error state should be included
// (used by state_filter's filter_error gate).
func (fl *FilterList) MatchError(path string) bool {
	return fl.match(FilterError, path)
}

func (fl *FilterList) match(dim FilterDimension, value string) bool {
	include := true
	for _, r := range fl.rules {
		if r.Dimension != dim {
			continue
		}
		if globMatch(r.Pattern, value) {
			include = r.Action == FilterInclude
		}
	}
	return include
}

// globMatch implements `*` (any run within a path segment), `?` (single
// rune) and `**` (any run, including path separators) against value. A
// `**/` prefix also matches zero directories, so `**/x` matches `x`.
func globMatch(pattern, value string) bool {
	return globMatchSegs(splitGlob(pattern), value)
}

// splitGlob tokenizes pattern into literal runs and wildcard markers so
// `**` can be distinguished from a doubled `*`.
type globTok struct {
	doubleStar bool
	lit        string // "" for wildcard tokens
	star       bool
	quest      bool
}

func splitGlob(pattern string) []globTok {
	var toks []globTok
	i := 0
	for i < len(pattern) {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				toks = append(toks, globTok{doubleStar: true})
				i += 2
			} else {
				toks = append(toks, globTok{star: true})
				i++
			}
		case '?':
			toks = append(toks, globTok{quest: true})
			i++
		default:
			j := i
			for j < len(pattern) && pattern[j] != '*' && pattern[j] != '?' {
				j++
			}
			toks = append(toks, globTok{lit: pattern[i:j]})
			i = j
		}
	}
	return toks
}

func globMatchSegs(toks []globTok, value string) bool {
	return matchFrom(toks, value)
}

// matchFrom is a small backtracking matcher over the tokenized pattern;
// value lengths in this tool (disk names, relative paths) are short
// enough that this is not a performance concern.
func matchFrom(toks []globTok, value string) bool {
	if len(toks) == 0 {
		return value == ""
	}
	tok := toks[0]
	rest := toks[1:]
	switch {
	case tok.doubleStar:
		if len(rest) > 0 && strings.HasPrefix(rest[0].lit, "/") {
			skipSlash := append([]globTok{{lit: rest[0].lit[1:]}}, rest[1:]...)
			if matchFrom(skipSlash, value) {
				return true
			}
		}
		for i := 0; i <= len(value); i++ {
			if matchFrom(rest, value[i:]) {
				return true
			}
		}
		return false
	case tok.star:
		for i := 0; i <= len(value); i++ {
			if strings.ContainsRune(value[:i], '/') {
				break
			}
			if matchFrom(rest, value[i:]) {
				return true
			}
		}
		return false
	case tok.quest:
		if value == "" || value[0] == '/' {
			return false
		}
		return matchFrom(rest, value[1:])
	default:
		if !strings.HasPrefix(value, tok.lit) {
			return false
		}
		return matchFrom(rest, value[len(tok.lit):])
	}
}
