package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation は画像またはプロンプトが揃っていない場合のエラーです。
	ErrValidation = errors.New("please upload an image and enter a prompt")
	// ErrDecode はファイルや data URL の読み込み・解析に失敗した場合のエラーです。
	ErrDecode = errors.New("decode error")
)

// ErrorKind は ClassifiedError の判別子です。
type ErrorKind int

const (
	KindFatal ErrorKind = iota
	KindTransient
	KindQuota
)

func (k ErrorKind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// DefaultRetryAfter はリトライ待ち時間のヒントが得られなかった場合の秒数です。
const DefaultRetryAfter = 60

// ClassifiedError は Gateway が返す分類済みエラーです。
// Kind で分岐し、型階層では判定しません。
type ClassifiedError struct {
	Kind       ErrorKind
	RetryAfter int // KindQuota のときのみ有効（秒）
	Message    string
	Err        error
}

func (e *ClassifiedError) Error() string {
	if e.Kind == KindQuota {
		return fmt.Sprintf("%s (retry after %ds)", e.Message, e.RetryAfter)
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Quota はクォータ超過エラーを作ります。負の秒数は 0 に丸めます。
func Quota(retryAfter int, err error) *ClassifiedError {
	if retryAfter < 0 {
		retryAfter = 0
	}
	msg := "Quota exceeded."
	if retryAfter == DefaultRetryAfter {
		msg = "You've exceeded your request limit. Please try again in 60 seconds."
	}
	return &ClassifiedError{Kind: KindQuota, RetryAfter: retryAfter, Message: msg, Err: err}
}

// Transient は一時的なサーバーエラーを作ります。
func Transient(message string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: KindTransient, Message: message, Err: err}
}

// Fatal は自動リトライしないエラーを作ります。
func Fatal(message string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: KindFatal, Message: message, Err: err}
}

// AsClassified は err を ClassifiedError として取り出します。
// 分類されていないエラーは Fatal として扱います。
func AsClassified(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return Fatal(err.Error(), err)
}

// DecodeError は ErrDecode をラップしたエラーを返します。
func DecodeError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
