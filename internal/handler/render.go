package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/bookmarket/internal/auth"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページテンプレート名。
const (
	pageIndex      = "index.html"
	pageMyListings = "my_listings.html"
	pageLogin      = "login.html"
	pageRegister   = "register.html"
	pageVerify     = "verify.html"
	pageMFAEnable  = "mfa_enable.html"
	pageAccount    = "account.html"
)

var pageNames = []string{
	pageIndex, pageMyListings, pageLogin, pageRegister, pageVerify, pageMFAEnable, pageAccount,
}

// PageData は全ページ共通のテンプレートデータ。
type PageData struct {
	Title     string
	User      *model.User
	CSRFToken string
	Flash     *session.Flash
	Data      any
}

// Renderer は埋め込みテンプレートからHTMLページを生成する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は全ページのテンプレートをパースしたRendererを生成する。
func NewRenderer() (*Renderer, error) {
	funcs := template.FuncMap{
		// 出品のタイトルと説明文は保存前にサニタイズ済み
		"listingHTML":  func(s string) template.HTML { return template.HTML(s) },
		"providerName": auth.DisplayName,
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages}, nil
}

// Render はページをバッファに描画してからレスポンスに書き込む。
// 描画に失敗した場合は途中までのHTMLを返さず500を返す。
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data *PageData) {
	t, ok := r.pages[page]
	if !ok {
		slog.Error("unknown template", slog.String("page", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
