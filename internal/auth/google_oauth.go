package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/scholarly/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	defaultHTTPTimeout       = 10 * time.Second

	// maxResponseBytes はIdPレスポンスの読み取り上限。
	maxResponseBytes = 1 << 20
)

var googleScopes = []string{"openid", "email", "profile"}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Timeout はトークン交換・ユーザー情報取得それぞれのHTTPタイムアウト。
	Timeout time.Duration

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleOAuthProvider はGoogle OAuth 2.0による認証を提供する。
// 認可コードは使い捨てのため、失敗時に再試行はしない。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	client      *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
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
		config.Timeout = defaultHTTPTimeout
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       googleScopes,
		},
		userInfoURL: config.UserInfoURL,
		client:      &http.Client{Timeout: config.Timeout},
	}
}

// GetLoginURL はGoogle OAuthの認証URLを生成する。
// 毎回アカウント選択画面を表示させる。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// googleTokenResponse はGoogleのトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	IDToken          string `json:"id_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
// v2エンドポイントはid、OIDCエンドポイントはsubでサブジェクトIDを返す。
type googleUserInfo struct {
	ID      string          `json:"id"`
	Sub     string          `json:"sub"`
	Email   string          `json:"email"`
	Name    string          `json:"name"`
	Picture string          `json:"picture"`
	Error   json.RawMessage `json:"error"`
}

func (u *googleUserInfo) subjectID() string {
	if u.ID != "" {
		return u.ID
	}
	return u.Sub
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
// 失敗はすべて*model.ProtocolErrorとして返し、Kindで失敗箇所を区別する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if code == "" {
		return nil, model.NewProtocolError(model.ProtocolMissingCode, "authorization code is empty", nil)
	}

	// 1. 認可コードをアクセストークンに交換
	tokenResp, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}

	// 2. アクセストークンでユーザー情報を取得
	userInfo, err := p.fetchUserInfo(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, err
	}

	return &OAuthUserInfo{
		ProviderUserID: userInfo.subjectID(),
		Email:          userInfo.Email,
		Name:           userInfo.Name,
		Picture:        userInfo.Picture,
		Provider:       "google",
	}, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *GoogleOAuthProvider) exchangeToken(ctx context.Context, code string) (*googleTokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.oauth.ClientID},
		"client_secret": {p.oauth.ClientSecret},
		"redirect_uri":  {p.oauth.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.oauth.Endpoint.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	status, body, err := p.do(req)
	if err != nil {
		return nil, model.NewProtocolError(model.ProtocolTokenRejected, "token request failed", err)
	}

	var tokenResp googleTokenResponse
	parseErr := json.Unmarshal(body, &tokenResp)

	if status < 200 || status > 299 {
		return nil, model.NewProtocolError(model.ProtocolTokenRejected,
			fmt.Sprintf("token endpoint returned status %d%s", status, describeOAuthError(tokenResp.Error, tokenResp.ErrorDescription)), nil)
	}
	if parseErr != nil {
		return nil, model.NewProtocolError(model.ProtocolTokenInvalid, "token response is not valid JSON", parseErr)
	}
	if tokenResp.Error != "" {
		return nil, model.NewProtocolError(model.ProtocolTokenRejected,
			"token endpoint returned an error"+describeOAuthError(tokenResp.Error, tokenResp.ErrorDescription), nil)
	}
	if tokenResp.AccessToken == "" {
		return nil, model.NewProtocolError(model.ProtocolMissingAccessToken, "token response has no access_token", nil)
	}

	return &tokenResp, nil
}

// fetchUserInfo はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleOAuthProvider) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	status, body, err := p.do(req)
	if err != nil {
		return nil, model.NewProtocolError(model.ProtocolUserInfoFailed, "user info request failed", err)
	}
	if status < 200 || status > 299 {
		return nil, model.NewProtocolError(model.ProtocolUserInfoFailed,
			fmt.Sprintf("user info endpoint returned status %d", status), nil)
	}

	var userInfo googleUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, model.NewProtocolError(model.ProtocolUserInfoInvalid, "user info response is not valid JSON", err)
	}
	if len(userInfo.Error) > 0 && string(userInfo.Error) != "null" {
		return nil, model.NewProtocolError(model.ProtocolUserInfoFailed, "user info endpoint returned an error payload", nil)
	}

	var missing []string
	if userInfo.subjectID() == "" {
		missing = append(missing, "id")
	}
	if userInfo.Email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return nil, model.NewProtocolError(model.ProtocolMissingProfileFields,
			"user info is missing "+strings.Join(missing, ", "), nil)
	}

	return &userInfo, nil
}

// do はリクエストを送信し、ステータスコードとボディを返す。
func (p *GoogleOAuthProvider) do(req *http.Request) (int, []byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// describeOAuthError はRFC 6749形式のエラー情報を付加文字列にする。
func describeOAuthError(code, description string) string {
	switch {
	case code != "" && description != "":
		return fmt.Sprintf(" (%s: %s)", code, description)
	case code != "":
		return fmt.Sprintf(" (%s)", code)
	default:
		return ""
	}
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
