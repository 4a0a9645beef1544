package httpapi

import (
	"errors"
	"net/http"

	"airq-dashboard/internal/airq"
	"airq-dashboard/internal/coordinator"
)

// Result 页面统一响应包 {code, type, message, result}
//
// code 2000 表示成功；失败时区分远端故障、未知点位与其它错误，页面据此决定
// 是提示"稍后重试"还是直接报错。
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
	// ResultUpstream 远端空气质量 API 失败（HTTP 502）
	ResultUpstream = 50201
	// ResultNotFound 当前点位列表中没有该设备（HTTP 404）
	ResultNotFound = 40401
)

const (
	typeSuccess = "success"
	typeError   = "error"
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: typeSuccess, Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: typeError, Message: message}
}

// FailErr maps err to its HTTP status and response body.
func FailErr(err error) (int, Result[any]) {
	res := Fail(err.Error())
	var fe *airq.FetchError
	switch {
	case errors.As(err, &fe):
		res.Code = ResultUpstream
		return http.StatusBadGateway, res
	case errors.Is(err, coordinator.ErrUnknownLocation):
		res.Code = ResultNotFound
		return http.StatusNotFound, res
	default:
		return http.StatusInternalServerError, res
	}
}
