package repository

import "errors"

// Repository层通用错误
// 各实现统一包装这些哨兵错误，便于上层errors.Is判断

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("记录不存在")

	// ErrDuplicateEntry 违反唯一性约束
	ErrDuplicateEntry = errors.New("数据重复")

	// ErrInvalidCredentials 用户认证失败
	ErrInvalidCredentials = errors.New("用户名或密码错误")

	// ErrInvalidInput 输入参数不符合要求
	ErrInvalidInput = errors.New("输入参数无效")

	// ErrPermissionDenied 权限不足
	ErrPermissionDenied = errors.New("权限不足")

	// ErrConnectionFailed 数据库连接失败
	ErrConnectionFailed = errors.New("数据库连接失败")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("操作超时")
)

// IsNotFound 判断是否为记录不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateEntry 判断是否为唯一性冲突错误
func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

// IsInvalidCredentials 判断是否为认证失败错误
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}
