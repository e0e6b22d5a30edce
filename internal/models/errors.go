package models

import (
	"errors"
	"fmt"
)

// ErrNotFound 医院/请求/献血者不存在
var ErrNotFound = errors.New("not found")

// ErrConcurrentModification 请求在读取之后被其他写入修改（version 比较失败）
var ErrConcurrentModification = errors.New("concurrent modification")

// ValidationError 字段校验失败，不会写入数据库
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError 判断是否为校验错误
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
