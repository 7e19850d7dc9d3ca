package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/expensetracker/internal/ledger"
	"github.com/hitoshi/expensetracker/internal/middleware"
	"github.com/hitoshi/expensetracker/internal/model"
	"github.com/hitoshi/expensetracker/internal/security"
)

// ExpenseHandlerConfig は支出ハンドラーの設定。
type ExpenseHandlerConfig struct {
	Currency string // 表示通貨のデフォルト
}

// ExpenseHandler は支出台帳のHTTPハンドラー。
// セッションゲートの内側に配置する。
type ExpenseHandler struct {
	sanitizer security.NoteSanitizer
	currency  string
}

// NewExpenseHandler はExpenseHandlerを生成する。
func NewExpenseHandler(sanitizer security.NoteSanitizer, config ExpenseHandlerConfig) *ExpenseHandler {
	return &ExpenseHandler{
		sanitizer: sanitizer,
		currency:  ledger.ResolveCurrency(config.Currency),
	}
}

// amountInput は文字列と数値のどちらのJSON表現も受け付ける金額入力。
// 検証は台帳側で行うため、ここでは文字列として保持するだけにする。
type amountInput string

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (a *amountInput) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = amountInput(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = amountInput(n.String())
	return nil
}

type createExpenseRequest struct {
	Amount amountInput `json:"amount"`
	Note   string      `json:"note"`
}

type expenseResponse struct {
	Key       string    `json:"key"`
	Amount    string    `json:"amount"`
	Display   string    `json:"display"`
	Note      string    `json:"note,omitempty"`
	HasNote   bool      `json:"has_note"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

type expenseListResponse struct {
	Entries      []expenseResponse `json:"entries"`
	Count        int               `json:"count"`
	Total        string            `json:"total"`
	TotalDisplay string            `json:"total_display"`
	Currency     string            `json:"currency"`
}

// List は台帳のエントリを新しい順に返す。合計は台帳の全エントリから算出する。
// GET /api/expenses?currency=EUR
func (h *ExpenseHandler) List(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFromRequest(w, r)
	if !ok {
		return
	}

	currency := h.currency
	if q := r.URL.Query().Get("currency"); q != "" {
		currency = ledger.ResolveCurrency(q)
	}

	entries := ws.Entries()
	total := ws.Total()

	resp := expenseListResponse{
		Entries:      make([]expenseResponse, 0, len(entries)),
		Count:        len(entries),
		Total:        ledger.FixedAmount(total),
		TotalDisplay: ledger.FormatAmount(total, currency),
		Currency:     currency,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toExpenseResponse(e, currency))
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Create は支出を登録する。メモはマークアップを除去してから保存する。
// POST /api/expenses
func (h *ExpenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFromRequest(w, r)
	if !ok {
		return
	}

	var req createExpenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := ws.Append(ledger.Input{
		Amount: string(req.Amount),
		Note:   h.sanitizer.Sanitize(req.Note),
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toExpenseResponse(entry, h.currency))
}

func toExpenseResponse(e model.ExpenseEntry, currency string) expenseResponse {
	return expenseResponse{
		Key:       e.Key(),
		Amount:    ledger.FixedAmount(e.Amount),
		Display:   ledger.FormatAmount(e.Amount, currency),
		Note:      e.Note,
		HasNote:   e.HasNote,
		Source:    string(e.Source),
		CreatedAt: e.CreatedAt,
	}
}
