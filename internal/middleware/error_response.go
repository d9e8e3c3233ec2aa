package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/authgate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法、再試行の可否を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Retry    bool   `json:"retry"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Retry:    apiErr.Retry,
	})
}

// ErrorStatus は認証フローのエラーをHTTPステータスとAPIエラーに変換する。
// どの番兵エラーにも該当しない場合は500を返す。
func ErrorStatus(err error) (int, *model.APIError) {
	switch {
	case errors.Is(err, model.ErrVerificationTimeout):
		return http.StatusGatewayTimeout, model.NewAuthTimeoutError()
	case errors.Is(err, model.ErrProviderDenied):
		return http.StatusUnauthorized, model.NewAuthDeniedError()
	case errors.Is(err, model.ErrVerificationFailed):
		return http.StatusInternalServerError, model.NewAuthFailedError()
	case errors.Is(err, model.ErrSessionCreationFailed):
		return http.StatusInternalServerError, model.NewSessionCreationFailedError()
	case errors.Is(err, model.ErrLogoutFailed):
		return http.StatusInternalServerError, model.NewLogoutFailedError()
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, model.NewStoreUnavailableError()
	default:
		return http.StatusInternalServerError, internalError()
	}
}

// WriteError はerrに対応するステータスと統一フォーマットでレスポンスを書き込む。
// エラーの詳細はレスポンスに含めない。
func WriteError(w http.ResponseWriter, err error) {
	status, apiErr := ErrorStatus(err)
	WriteErrorResponse(w, status, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, internalError())
}

func internalError() *model.APIError {
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
