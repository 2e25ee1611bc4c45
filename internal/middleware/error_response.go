package middleware

import (
	"net/http"

	"github.com/hitoshi/bookmarket/internal/model"
)

// StatusForCategory はエラーカテゴリに対応するHTTPステータスコードを返す。
// フォーム送信ではリダイレクトで応答するため、主にJSON以外の直接応答とログに使用する。
func StatusForCategory(category string) int {
	switch category {
	case model.CategoryValidation:
		return http.StatusBadRequest
	case model.CategoryAuth:
		return http.StatusUnauthorized
	case model.CategoryConflict:
		return http.StatusConflict
	case model.CategoryNotFound:
		return http.StatusNotFound
	case model.CategoryUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse はエラーのメッセージと対処方法をプレーンテキストで書き込む。
// システムエラーの詳細は書き込まず、一般的なメッセージのみを返す。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	body := apiErr.Message
	if apiErr.Action != "" {
		body += "\n" + apiErr.Action
	}
	w.Write([]byte(body + "\n"))
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInfrastructureError(nil))
}
