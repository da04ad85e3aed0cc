package parser

import "regexp"

type piiRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// 顺序不可调整：通用电话号码必须先于身份证号和卡号匹配
var piiRules = []piiRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{4}`), "[PHONE]"},
	{regexp.MustCompile(`01[0-9]-?\d{3,4}-?\d{4}`), "[PHONE]"},
	{regexp.MustCompile(`https?://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`\d{6}-?[1-4]\d{6}`), "[ID_NUMBER]"},
	{regexp.MustCompile(`\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}`), "[CARD_NUMBER]"},
}

// Anonymize 去除邮箱、电话、URL、身份证号和银行卡号
func Anonymize(content string) string {
	for _, rule := range piiRules {
		content = rule.pattern.ReplaceAllString(content, rule.replacement)
	}
	return content
}
