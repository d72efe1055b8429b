// Package apperr 定义下单与支付对账链路共享的错误分类。
//
// 调用方用 fmt.Errorf("%w: ...", ErrXxx) 包装具体原因，用 errors.Is 判断类别。
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrMismatch          = errors.New("gateway order mismatch")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrGateway           = errors.New("payment gateway error")
	ErrStorage           = errors.New("storage error")
	ErrConfiguration     = errors.New("configuration error")
)

// HTTPStatus 把错误类别映射为 HTTP 状态码，未分类错误按 500 处理。
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrMismatch),
		errors.Is(err, ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 返回可以给客户端看的错误信息。
// 签名与订单号不匹配一律返回同一句话，不暴露是哪一部分校验失败。
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrMismatch), errors.Is(err, ErrInvalidSignature):
		return "payment verification failed"
	case errors.Is(err, ErrGateway):
		return "payment gateway unavailable, please retry"
	case errors.Is(err, ErrStorage), errors.Is(err, ErrConfiguration):
		return "internal error, please retry"
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidTransition):
		return err.Error()
	default:
		return "internal error"
	}
}

// Retryable 标记客户端可以原样重试的错误。
func Retryable(err error) bool {
	return errors.Is(err, ErrGateway) || errors.Is(err, ErrStorage)
}
