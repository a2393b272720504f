package compose

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const DefaultTagLimit = 6

var tagTokenRe = regexp.MustCompile(`[A-Za-z0-9+#]{2,}|[\x{4e00}-\x{9fff}]{2,8}`)

// RecommendTags 规则关键词命中按关键词长度加分，标题分词每出现一次加 1 分
func RecommendTags(rules *Rules, title string, limit int) []string {
	text := strings.TrimSpace(title)
	if text == "" {
		return []string{}
	}
	if limit <= 0 {
		limit = DefaultTagLimit
	}

	stop := make(map[string]bool, len(rules.Stopwords))
	for _, w := range rules.Stopwords {
		stop[w] = true
	}

	lower := strings.ToLower(text)
	score := map[string]int{}
	for tag, keywords := range rules.TagRules {
		for _, kw := range keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" || !strings.Contains(lower, strings.ToLower(kw)) {
				continue
			}
			inc := utf8.RuneCountInString(kw) / 2
			if inc < 1 {
				inc = 1
			}
			score[tag] += inc
		}
	}
	for _, token := range tagTokenRe.FindAllString(text, -1) {
		tk := strings.ToLower(strings.TrimSpace(token))
		if tk == "" || stop[tk] {
			continue
		}
		score[tk]++
	}

	keys := make([]string, 0, len(score))
	for k := range score {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if score[a] != score[b] {
			return score[a] > score[b]
		}
		la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
		if la != lb {
			return la > lb
		}
		return a < b
	})

	out := make([]string, 0, limit)
	for _, k := range keys {
		if len(out) >= limit {
			break
		}
		token := strings.TrimSpace(k)
		if utf8.RuneCountInString(token) <= 1 || isDigits(token) {
			continue
		}
		out = append(out, token)
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
