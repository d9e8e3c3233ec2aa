package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// UserFinder はユーザーハンドラーが必要とするサービスインターフェース。
// user.Serviceが実装する。
type UserFinder interface {
	// FindByID は指定IDのユーザーを取得する。存在しない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// currentUserResponse はログイン中ユーザーのレスポンス。
// googleIdは既存クライアント向けにexternalIdと同じ値を返す。
type currentUserResponse struct {
	ID          string `json:"id"`
	ExternalID  string `json:"externalId"`
	GoogleID    string `json:"googleId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// UserHandler はユーザー情報のHTTPハンドラー。
type UserHandler struct {
	users UserFinder
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(users UserFinder) *UserHandler {
	return &UserHandler{users: users}
}

// CurrentUser は現在のログインユーザー情報を返す。
// 未ログインの場合は空のオブジェクトを返す。
// GET /api/current_user
func (h *UserHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to get current user",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}
	// セッションは残っているがユーザーが削除済み
	if user == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	writeJSON(w, http.StatusOK, currentUserResponse{
		ID:          user.ID,
		ExternalID:  user.ExternalID,
		GoogleID:    user.ExternalID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
	})
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
