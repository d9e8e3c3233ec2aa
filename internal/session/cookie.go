package session

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/hitoshi/authgate/internal/model"
)

const (
	// CookieName はセッショントークンを保持するCookie名。
	CookieName = "session_id"
	// StateCookieName はOAuth stateを保持するCookie名。
	StateCookieName = "oauth_state"
	// StateMaxAge はOAuth state Cookieの有効期間。
	StateMaxAge = 10 * time.Minute
)

// CookieConfig はCookie属性の設定。
type CookieConfig struct {
	Key    string        // 署名鍵の元になるシークレット
	Domain string        // 空の場合はホスト限定
	Secure bool          // HTTPS配信時のみtrue
	MaxAge time.Duration // セッションCookieの有効期間
}

// CookieCodec はセッションとOAuth stateのCookieを署名付きで読み書きする。
type CookieCodec struct {
	config  CookieConfig
	session *securecookie.SecureCookie
	state   *securecookie.SecureCookie
}

// NewCookieCodec はCookieCodecを生成する。
// 署名鍵はKeyのSHA-256ダイジェストを使う。
func NewCookieCodec(config CookieConfig) *CookieCodec {
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	hashKey := sha256.Sum256([]byte(config.Key))

	sessionCodec := securecookie.New(hashKey[:], nil)
	sessionCodec.MaxAge(int(config.MaxAge.Seconds()))

	stateCodec := securecookie.New(hashKey[:], nil)
	stateCodec.MaxAge(int(StateMaxAge.Seconds()))

	return &CookieCodec{config: config, session: sessionCodec, state: stateCodec}
}

// SessionCookie はセッショントークンを格納したCookieを生成する。
func (c *CookieCodec) SessionCookie(session *model.Session) (*http.Cookie, error) {
	encoded, err := c.session.Encode(CookieName, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session cookie: %w", err)
	}
	return c.cookie(CookieName, encoded, int(c.config.MaxAge.Seconds())), nil
}

// ClearCookie はセッションCookieを削除するCookieを生成する。
func (c *CookieCodec) ClearCookie() *http.Cookie {
	return c.cookie(CookieName, "", -1)
}

// TokenFromRequest はリクエストのCookieからセッショントークンを取り出す。
// Cookieがない・改ざんされている・期限切れの場合はmodel.ErrInvalidSessionを返す。
func (c *CookieCodec) TokenFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", model.ErrInvalidSession
	}

	var token string
	if err := c.session.Decode(CookieName, cookie.Value, &token); err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrInvalidSession, err)
	}
	if token == "" {
		return "", model.ErrInvalidSession
	}
	return token, nil
}

// StateCookie はOAuth stateを格納した短命のCookieを生成する。
func (c *CookieCodec) StateCookie(state string) (*http.Cookie, error) {
	encoded, err := c.state.Encode(StateCookieName, state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state cookie: %w", err)
	}
	return c.cookie(StateCookieName, encoded, int(StateMaxAge.Seconds())), nil
}

// ClearStateCookie はOAuth state Cookieを削除するCookieを生成する。
func (c *CookieCodec) ClearStateCookie() *http.Cookie {
	return c.cookie(StateCookieName, "", -1)
}

// StateFromRequest はリクエストのCookieからOAuth stateを取り出す。
// 取り出せない場合は空文字を返す。
func (c *CookieCodec) StateFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	var state string
	if err := c.state.Decode(StateCookieName, cookie.Value, &state); err != nil {
		return ""
	}
	return state
}

func (c *CookieCodec) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
