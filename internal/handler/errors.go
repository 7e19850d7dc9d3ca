package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/expensetracker/internal/auth"
	"github.com/hitoshi/expensetracker/internal/middleware"
	"github.com/hitoshi/expensetracker/internal/model"
	"github.com/hitoshi/expensetracker/internal/workspace"
)

// maxBodyBytes はJSONリクエストボディの上限サイズ。
const maxBodyBytes = 64 * 1024

// statusForCategory は分類済みエラーのカテゴリをHTTPステータスコードに対応付ける。
func statusForCategory(category auth.Category) int {
	switch category {
	case auth.CategoryInvalidCredentials:
		return http.StatusUnauthorized
	case auth.CategoryUserNotFound:
		return http.StatusNotFound
	case auth.CategoryEmailInUse, auth.CategoryCredentialInUse:
		return http.StatusConflict
	case auth.CategoryPopupCancelled:
		return http.StatusBadRequest
	case auth.CategoryNoPasswordAccount:
		return http.StatusUnprocessableEntity
	case auth.CategoryPreconditionFailed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// classifiedAPIError は分類済みエラーを統一エラーフォーマットに変換する。
func classifiedAPIError(classified *auth.ClassifiedError) *model.APIError {
	return &model.APIError{
		Code:     string(classified.Category),
		Message:  classified.Message,
		Category: "auth",
		Action:   classified.Action,
	}
}

// writeFlowError は認証フローや支出登録のエラーをHTTPレスポンスに変換する。
// ローカル検証エラーは400（セッションなしは401と誘導先）、それ以外は分類結果に従う。
func writeFlowError(w http.ResponseWriter, err error) {
	var validation *model.ValidationError
	if errors.As(err, &validation) {
		if validation.Code == model.ErrCodeSessionRequired {
			middleware.WriteRedirectResponse(w, http.StatusUnauthorized, validation.APIError(), middleware.LoginPath)
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, validation.APIError())
		return
	}

	classified := auth.Classify(err)
	middleware.WriteErrorResponse(w, statusForCategory(classified.Category), classifiedAPIError(classified))
}

// decodeJSON はリクエストボディをJSONとして読み込む。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// workspaceFromRequest はリクエストのワークスペースを取得する。見つからない場合は500を書き込む。
func workspaceFromRequest(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	ws, err := middleware.WorkspaceFromContext(r.Context())
	if err != nil {
		slog.Error("workspace not found in request", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return ws, true
}
