// Package model はドメインモデルを定義する。
package model

import "time"

// User はGoogleアカウントに紐付いたローカルユーザーを表す。
// ExternalIDごとに1件だけ存在し、作成後に更新されることはない。
type User struct {
	ID          string
	ExternalID  string // IdPが払い出したsubject（Googleのsub）
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

// Session はユーザーのログインセッションを表す。
// 有効期限は発行時刻からの固定期間で、アクセスによる延長はしない。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はnow時点でセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Profile はIdPから取得し正規化した本人情報。
type Profile struct {
	ExternalID  string
	DisplayName string
	Email       string
}
