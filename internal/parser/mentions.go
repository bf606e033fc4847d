package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// 用户名规则与账号注册保持一致
var mentionPattern = regexp.MustCompile(`@(\w{3,16})`)

const delimiters = "()[]{}.;,:?! \t\r\n'\""

// Mention 帖子正文中的 @提及
type Mention struct {
	Username string
	Start    int // '@' 的字节偏移
	End      int
}

// Mentions 提取正文中所有的 @username，大小写不敏感去重，保留首次出现的位置
func Mentions(body string) []Mention {
	var out []Mention
	seen := make(map[string]struct{})
	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(body, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && isWordRune(body[:start]) {
			continue
		}
		if end < len(body) && !isDelimiter(body[end]) {
			continue
		}
		name := body[loc[2]:loc[3]]
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Mention{Username: name, Start: start, End: end})
	}
	return out
}

// Usernames 仅返回用户名
func Usernames(body string) []string {
	ms := Mentions(body)
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Username
	}
	return out
}

// isWordRune 前一个字符是否为单词字符；'@' 之前只要求非单词字符
func isWordRune(prefix string) bool {
	r, _ := utf8.DecodeLastRuneInString(prefix)
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isDelimiter(b byte) bool {
	return strings.IndexByte(delimiters, b) >= 0
}
