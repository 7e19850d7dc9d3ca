package model

// StatusKind はセッション状態の種別。
type StatusKind int

const (
	// StatusUnknown はIdPからの最初のコールバック前の状態。
	// ウォッチャーの生存期間中、最初の状態として高々1回だけ現れる。
	StatusUnknown StatusKind = iota
	// StatusAnonymous はセッションが存在しないことが確定した状態。
	StatusAnonymous
	// StatusAuthenticated はセッションが存在する状態。
	StatusAuthenticated
)

// String は状態種別の文字列表現を返す。
func (k StatusKind) String() string {
	switch k {
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// SessionStatus はUnknown / Anonymous / Authenticated(Session) のタグ付きバリアント。
// 「未確定」と「未ログインが確定」を区別するため、nil許容のセッションでは表現しない。
type SessionStatus struct {
	Kind    StatusKind
	Session *Session
}

// Unknown は未確定状態を返す。
func Unknown() SessionStatus {
	return SessionStatus{Kind: StatusUnknown}
}

// Anonymous は未ログイン状態を返す。
func Anonymous() SessionStatus {
	return SessionStatus{Kind: StatusAnonymous}
}

// Authenticated はセッション付きの認証済み状態を返す。
// sessionがnilの場合はAnonymousを返す。
func Authenticated(session *Session) SessionStatus {
	if session == nil {
		return Anonymous()
	}
	return SessionStatus{Kind: StatusAuthenticated, Session: session}
}

// StatusFromSession はIdPのコールバック値（nil=セッションなし）を状態に変換する。
func StatusFromSession(session *Session) SessionStatus {
	return Authenticated(session)
}

// IsResolved はUnknown以外の状態かどうかを返す。
func (s SessionStatus) IsResolved() bool {
	return s.Kind != StatusUnknown
}

// IsAuthenticated は認証済みかどうかを返す。
func (s SessionStatus) IsAuthenticated() bool {
	return s.Kind == StatusAuthenticated && s.Session != nil
}

// UserID は認証済みの場合にユーザーIDを返す。それ以外は空文字列。
func (s SessionStatus) UserID() string {
	if !s.IsAuthenticated() {
		return ""
	}
	return s.Session.UserID
}
