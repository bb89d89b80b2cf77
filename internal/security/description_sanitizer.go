package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DescriptionSanitizer は商品説明をビューに渡す前に整形する。
// 商品説明は販売者が入力した任意のHTMLのため、そのまま描画しない。
type DescriptionSanitizer interface {
	// Sanitize は許可リストにあるタグのみを残したHTMLを返す。
	Sanitize(rawHTML string) string
	// PlainText はすべてのタグを除去したテキストを返す。CLI表示に使う。
	PlainText(rawHTML string) string
}

type descriptionSanitizer struct {
	html   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewDescriptionSanitizer はDescriptionSanitizerを生成する。
//   - 許可タグ: p, br, ul, ol, li, strong, em, b, i, h3, h4, a
//   - aタグ: 絶対URLのhttpsのみ、target="_blank" と rel="noopener noreferrer" を付与
//   - 画像は表紙画像として別に表示するため、説明文中のimgは除去する
func NewDescriptionSanitizer() *descriptionSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em", "b", "i", "h3", "h4")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &descriptionSanitizer{
		html:   p,
		strict: bluemonday.StrictPolicy(),
	}
}

func (s *descriptionSanitizer) Sanitize(rawHTML string) string {
	return s.html.Sanitize(rawHTML)
}

func (s *descriptionSanitizer) PlainText(rawHTML string) string {
	// ブロック要素の境界で語がつながらないよう、除去前に改行を補う
	r := strings.NewReplacer("<br>", "\n<br>", "<br/>", "\n<br/>", "</p>", "</p>\n", "</li>", "</li>\n")
	text := s.strict.Sanitize(r.Replace(rawHTML))
	return strings.TrimSpace(html.UnescapeString(text))
}

var _ DescriptionSanitizer = (*descriptionSanitizer)(nil)
