// Package ledger はセッション単位のインメモリ支出台帳を提供する。
package ledger

import (
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/expensetracker/internal/model"
	"github.com/shopspring/decimal"
)

// Input は支出登録フォームの入力値。
type Input struct {
	Amount string
	Note   string
}

// Recorder は支出登録の結果を記録するインターフェース。
type Recorder interface {
	RecordLedgerAppend(result string)
}

// Store は1セッション分の支出エントリを新しい順に保持する。
// 台帳を変更するのはStoreのみで、挿入は単一のミューテックス区間で行う。
//
// createdAtはエントリの識別キーを兼ねる。同一時刻の連続登録で衝突しないよう、
// 時計が進んでいない場合は直前の値より1ナノ秒進めて採番する。
type Store struct {
	now      func() time.Time
	recorder Recorder

	mu       sync.Mutex
	entries  []model.ExpenseEntry // 新しい順
	lastTime time.Time
}

// Option はStoreの設定オプション。
type Option func(*Store)

// WithClock は時刻取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRecorder は登録結果の記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// NewStore は空のStoreを生成する。
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append は入力を検証してエントリを作成し、台帳の先頭に追加する。
// 金額が正の有限数でない場合はINVALID_AMOUNT、セッションがない場合はSESSION_REQUIREDを返し、
// いずれの場合も台帳は変更しない。
func (s *Store) Append(in Input, session *model.Session) (model.ExpenseEntry, error) {
	amount, err := parseAmount(in.Amount)
	if err != nil {
		s.record("invalid_amount")
		return model.ExpenseEntry{}, err
	}
	if session == nil {
		s.record("no_session")
		return model.ExpenseEntry{}, model.NewSessionRequiredError()
	}

	note := strings.TrimSpace(in.Note)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := model.ExpenseEntry{
		OwnerID:   session.UserID,
		CreatedAt: s.stampLocked(),
		Amount:    amount,
		Note:      note,
		HasNote:   note != "",
		Source:    model.SourceManual,
	}

	s.entries = append(s.entries, model.ExpenseEntry{})
	copy(s.entries[1:], s.entries)
	s.entries[0] = entry

	s.record("ok")
	return entry, nil
}

// Entries は台帳のコピーを新しい順で返す。
func (s *Store) Entries() []model.ExpenseEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ExpenseEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len はエントリ数を返す。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Total は現在の全エントリの合計額を都度計算して返す。丸めは行わない。
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, e := range s.entries {
		total = total.Add(e.Amount)
	}
	return total
}

// EntriesOf は指定ユーザーが登録したエントリのコピーを新しい順で返す。
func (s *Store) EntriesOf(ownerID string) []model.ExpenseEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ExpenseEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out
}

// TotalOf は指定ユーザーが登録したエントリの合計額を返す。
func (s *Store) TotalOf(ownerID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, e := range s.entries {
		if e.OwnerID == ownerID {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// Retain は指定ユーザー以外が登録したエントリを取り除き、取り除いた件数を返す。
// 別ユーザーへの切り替え時、切り替え後に登録されたエントリを残したまま前ユーザーの分を破棄するのに使う。
func (s *Store) Retain(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.OwnerID == ownerID {
			kept = append(kept, e)
		}
	}
	removed := len(s.entries) - len(kept)
	clear(s.entries[len(kept):])
	s.entries = kept
	return removed
}

// Clear は台帳を空にする。
// セッションがAuthenticated以外へ遷移したとき、または別ユーザーに切り替わったときに呼ぶ。
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// stampLocked は直前の値より必ず後になる作成時刻を返す。
func (s *Store) stampLocked() time.Time {
	t := s.now()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Nanosecond)
	}
	s.lastTime = t
	return t
}

func (s *Store) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordLedgerAppend(result)
	}
}

// parseAmount は金額文字列を10進数として解析する。前後の空白は無視する。
func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !amount.IsPositive() {
		return decimal.Decimal{}, model.NewInvalidAmountError()
	}
	return amount, nil
}
