package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseSource は支出エントリの入力経路。
type ExpenseSource string

const (
	// SourceManual は手入力されたエントリ。
	SourceManual ExpenseSource = "manual"
	// SourceOCR はレシート読み取りによるエントリ（未使用）。
	SourceOCR ExpenseSource = "ocr"
)

// expenseKeyPrefix はエントリキーの接頭辞。
const expenseKeyPrefix = "expense#"

// ExpenseEntry はセッションに紐づく支出エントリを表す。作成後は不変。
type ExpenseEntry struct {
	OwnerID   string
	CreatedAt time.Time // 並び順のキーかつセッション内の一意キー
	Amount    decimal.Decimal
	Note      string
	HasNote   bool
	Source    ExpenseSource
}

// Key はエントリの識別キー "expense#<RFC3339Nano>" を返す。
func (e ExpenseEntry) Key() string {
	return expenseKeyPrefix + e.CreatedAt.UTC().Format(time.RFC3339Nano)
}
