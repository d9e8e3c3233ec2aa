// Package logger はJSON構造化ログと認証フローの診断イベント出力を提供する。
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, level slog.Level) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, level))
}

// ParseLevel はLOG_LEVELの文字列をslog.Levelに変換する。
// 不明な値はInfoとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DiagnosticHook は認証フローの各段階をauth_flowイベントとしてログに記録する。
// auth.Hookインターフェースを満たす。
type DiagnosticHook struct {
	logger *slog.Logger
}

// NewDiagnosticHook はDiagnosticHookを生成する。loggerがnilの場合はslog.Default()を使う。
func NewDiagnosticHook(logger *slog.Logger) *DiagnosticHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosticHook{logger: logger}
}

// Emit は段階名と付随情報をDebugレベルで出力する。
func (h *DiagnosticHook) Emit(ctx context.Context, stage string, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("stage", stage))
	for _, a := range attrs {
		args = append(args, a)
	}
	h.logger.DebugContext(ctx, "auth_flow", args...)
}
