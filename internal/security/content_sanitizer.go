// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NoteSanitizer は支出メモに含まれるHTMLマークアップを除去し、
// プレーンテキストとして保存できる形にする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NoteSanitizer はメモのサニタイズ機能のインターフェースを定義する。
type NoteSanitizer interface {
	// Sanitize はすべてのタグを除去したテキストを返す。
	// script, styleタグは中身ごと除去する。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// noteSanitizer はNoteSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type noteSanitizer struct {
	policy *bluemonday.Policy
}

// NewNoteSanitizer はタグを一切許可しないポリシーでNoteSanitizerを生成する。
func NewNoteSanitizer() *noteSanitizer {
	return &noteSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去し、エスケープされた文字を元に戻して前後の空白を取り除く。
func (s *noteSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// compile-time interface check
var _ NoteSanitizer = (*noteSanitizer)(nil)
