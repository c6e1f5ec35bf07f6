package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kilupskalvis/qsync/internal/remote"
)

// adminBodyLimit bounds admin request bodies.
const adminBodyLimit = 1 << 20

// tokenInfo is the listable view of a token: no hash, no raw value.
func tokenInfo(t *TokenInfo) remote.AdminTokenInfo {
	return remote.AdminTokenInfo{
		ID:          t.ID,
		Description: t.Desc,
		Sheets:      t.Sheets,
		Permission:  t.Permission,
	}
}

// --- Admin Token Handlers ---

func makeAdminCreateTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.AdminTokenCreateRequest
		if err := readJSON(r, adminBodyLimit, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
			return
		}
		if req.Permission == "" {
			req.Permission = PermRead
		}
		if !ValidPermission(req.Permission) {
			writeError(w, http.StatusBadRequest, "bad_request", "permission must be 'ro', 'rw' or 'approve'")
			return
		}
		if len(req.Sheets) == 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "at least one sheet (or '*') is required")
			return
		}

		rawToken, info, err := tokens.CreateToken(req.Description, req.Sheets, req.Permission)
		if err != nil {
			logger.Error("create token", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		logger.Info("token created", "token_id", info.ID, "permission", info.Permission, "sheets", info.Sheets)
		writeJSON(w, http.StatusCreated, &remote.AdminTokenCreateResponse{
			AdminTokenInfo: tokenInfo(info),
			Token:          rawToken,
		})
	}
}

func makeAdminListTokensHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := tokens.ListTokens()
		if err != nil {
			logger.Error("list tokens", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		// metadata only, never hashes
		entries := make([]remote.AdminTokenInfo, len(list))
		for i, t := range list {
			entries[i] = tokenInfo(t)
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func makeAdminDeleteTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "token ID required")
			return
		}

		if err := tokens.DeleteToken(id); err != nil {
			logger.Error("delete token", "error", err, "token_id", id)
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// --- Admin Sheet Handlers ---

func makeAdminCreateSheetHandler(manager SheetManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.SheetCreateRequest
		if err := readJSON(r, adminBodyLimit, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
			return
		}
		if !ValidSheetName(req.Name) {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid sheet name")
			return
		}

		if err := manager.Create(req.Name); err != nil {
			switch {
			case errors.Is(err, ErrSheetExists):
				writeError(w, http.StatusConflict, "conflict", err.Error())
			case errors.Is(err, ErrInvalidName):
				writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			default:
				logger.Error("create sheet", "error", err, "sheet", req.Name)
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		logger.Info("sheet created", "sheet", req.Name)
		w.WriteHeader(http.StatusCreated)
	}
}

func makeAdminDeleteSheetHandler(manager SheetManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("sheet")
		if err := manager.Delete(name); err != nil {
			if errors.Is(err, ErrSheetNotFound) {
				writeError(w, http.StatusNotFound, "not_found", err.Error())
				return
			}
			logger.Error("delete sheet", "error", err, "sheet", name)
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		logger.Info("sheet deleted", "sheet", name)
		w.WriteHeader(http.StatusNoContent)
	}
}

func makeAdminListSheetsHandler(manager SheetManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := manager.List()
		if err != nil {
			logger.Error("list sheets", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, &remote.SheetList{Sheets: names})
	}
}

// ValidSheetName reports whether name is safe to use as a sheet name.
func ValidSheetName(name string) bool {
	if name == "" || name == "." || name == ".." || len(name) > 64 {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
