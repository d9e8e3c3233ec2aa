package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/security"
)

const (
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultVerifyTimeout     = 8 * time.Second
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Timeout はトークン交換・プロフィール取得それぞれのタイムアウト。
	Timeout time.Duration

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient はIdPとの通信に使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// GoogleVerifier はGoogle OAuth 2.0による本人確認を提供する。
type GoogleVerifier struct {
	oauth       *oauth2.Config
	userInfoURL string
	timeout     time.Duration
	httpClient  *http.Client
	sanitizer   *security.TextSanitizer
}

// NewGoogleVerifier はGoogleVerifierを生成する。
func NewGoogleVerifier(config GoogleOAuthConfig) *GoogleVerifier {
	endpoint := endpoints.Google
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultVerifyTimeout
	}

	return &GoogleVerifier{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"profile", "email"},
		},
		userInfoURL: config.UserInfoURL,
		timeout:     config.Timeout,
		httpClient:  config.HTTPClient,
		sanitizer:   security.NewTextSanitizer(),
	}
}

// AuthCodeURL はGoogleの同意画面へのURLを生成する。
func (v *GoogleVerifier) AuthCodeURL(state string) string {
	return v.oauth.AuthCodeURL(state)
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Verify はコールバックの認可コードをトークンに交換し、プロフィールを取得する。
func (v *GoogleVerifier) Verify(ctx context.Context, req CallbackRequest) (*model.Profile, error) {
	if req.Error != "" {
		return nil, fmt.Errorf("%w: %s %s", model.ErrProviderDenied, req.Error, req.ErrorDescription)
	}
	if req.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", model.ErrProviderDenied)
	}

	// 1. 認可コードをアクセストークンに交換
	token, err := v.exchange(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	// 2. アクセストークンでユーザー情報を取得
	info, err := v.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	// 表示名はHTMLを含まない平文として保存する
	return &model.Profile{
		ExternalID:  info.Sub,
		DisplayName: v.sanitizer.PlainText(info.Name),
		Email:       strings.TrimSpace(info.Email),
	}, nil
}

func (v *GoogleVerifier) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(v.clientContext(ctx), v.timeout)
	defer cancel()

	token, err := v.oauth.Exchange(ctx, code)
	if err == nil {
		return token, nil
	}

	if isTimeout(ctx, err) {
		return nil, fmt.Errorf("%w: token exchange: %w", model.ErrVerificationTimeout, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
		retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
		return nil, fmt.Errorf("%w: token exchange rejected: %w", model.ErrProviderDenied, err)
	}
	return nil, fmt.Errorf("%w: token exchange: %w", model.ErrVerificationFailed, err)
}

func (v *GoogleVerifier) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	ctx, cancel := context.WithTimeout(v.clientContext(ctx), v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create user info request: %w", model.ErrVerificationFailed, err)
	}

	resp, err := v.oauth.Client(ctx, token).Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: user info: %w", model.ErrVerificationTimeout, err)
		}
		return nil, fmt.Errorf("%w: user info request failed: %w", model.ErrVerificationFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: user info: %w", model.ErrVerificationTimeout, err)
		}
		return nil, fmt.Errorf("%w: failed to read user info response: %w", model.ErrVerificationFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: user info status %d", model.ErrProviderDenied, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: user info status %d", model.ErrVerificationFailed, resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: failed to parse user info response: %w", model.ErrVerificationFailed, err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: empty sub in user info response", model.ErrVerificationFailed)
	}

	return &info, nil
}

// clientContext はoauth2ライブラリが使うHTTPクライアントをコンテキストに設定する。
func (v *GoogleVerifier) clientContext(ctx context.Context) context.Context {
	if v.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)
}

// isTimeout はIdPとの通信エラーがタイムアウトによるものかを判定する。
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// compile-time interface check
var _ Verifier = (*GoogleVerifier)(nil)
