package response

import (
	"encoding/json"
	"net/http"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, APIResponse{
		Status: "success",
		Data:   data,
	})
}

func Error(w http.ResponseWriter, status int, msg string) {
	write(w, status, APIResponse{
		Status:  "error",
		Message: msg,
	})
}

// Warning answers with data that the caller must still look at, e.g. a ledger that failed reconciliation.
func Warning(w http.ResponseWriter, status int, msg string, data interface{}) {
	write(w, status, APIResponse{
		Status:  "warning",
		Message: msg,
		Data:    data,
	})
}

func write(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
