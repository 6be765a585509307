package dto

// Response 统一响应体
type Response struct {
	Code    int
	Message string
	Data    any
}
