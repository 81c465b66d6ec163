package api

import (
	"encoding/json"
	"net/http"
)

// ResponseData 统一响应结构
type ResponseData struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// respondJSON 返回成功响应
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, ResponseData{Success: statusCode < 300, Data: data})
}

// respondError 返回错误响应
func respondError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ResponseData{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
