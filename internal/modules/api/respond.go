package api

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"signal_trader/pkg/logger"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		logger.Error("[API] marshal response: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

var errInvalidJSON = errors.New("Invalid JSON")

// readJSON только разбирает тело.
func readJSON(r *http.Request, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if err := sonic.Unmarshal(raw, dst); err != nil {
		return errInvalidJSON
	}
	return nil
}

// decode разбирает тело и валидирует структуру тегами validate.
func decode(r *http.Request, dst any) error {
	if err := readJSON(r, dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

// badRequest: битый JSON отдаётся как есть, ошибка валидации заменяется на msg.
func badRequest(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, errInvalidJSON) || msg == "" {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, msg)
}
