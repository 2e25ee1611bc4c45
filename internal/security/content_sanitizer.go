package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は出品のタイトルと説明文に含まれるHTMLをサニタイズする。
type ContentSanitizerService interface {
	// Sanitize は許可リスト外のタグと属性を除去した安全なHTMLを返す。
	// 許可タグ: b, i, em, strong, a, p
	// aタグの許可属性: href, title, rel（hrefはhttp/httpsのみ）
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフ。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// script, style等の許可されていない要素は中身ごと除去され、その他の不許可タグはテキストだけが残る。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("b", "i", "em", "strong", "p")

	p.AllowAttrs("href", "title", "rel").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
