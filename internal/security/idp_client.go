// Package security はIdPとの通信とIdPから受け取った値の取り扱いに関するセキュリティ機能を提供する。
package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// NewIdPClient はIdPとの通信専用のHTTPクライアントを生成する。
// httpsの443番ポートのみを許可する。
// safeurlのデフォルト設定により以下への接続はブロックされる:
//   - プライベートIPアドレス (10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16)
//   - ループバックアドレス (127.0.0.0/8, ::1)
//   - リンクローカルアドレス (169.254.0.0/16, fe80::/10)
//
// 検証はDNS解決後のIPアドレスに対して行われる。
func NewIdPClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}
