package generator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shouni/gemini-image-editor/pkg/domain"
	"google.golang.org/genai"
)

const (
	statusResourceExhausted = "RESOURCE_EXHAUSTED"
	statusUnknown           = "UNKNOWN"
	retryInfoType           = "type.googleapis.com/google.rpc.RetryInfo"

	transientMessage = "An unexpected server error occurred. Please try again in a few moments."
	unknownMessage   = "An unknown error occurred while trying to generate the image."
)

// Classify は Gemini から返された生のエラーを Quota / Transient / Fatal に分類します。
//
//  1. status が RESOURCE_EXHAUSTED なら RetryInfo の retryDelay を秒数として採用し、
//     取れなければ 60 秒。
//  2. status が UNKNOWN、または code が 500 なら Transient。
//  3. それ以外は元のメッセージを包んだ Fatal。
func Classify(err error) *domain.ClassifiedError {
	if err == nil {
		return nil
	}

	var already *domain.ClassifiedError
	if errors.As(err, &already) {
		return already
	}

	if apiErr, ok := asAPIError(err); ok {
		if apiErr.Status == statusResourceExhausted {
			if secs, found := retryDelaySeconds(apiErr.Details); found {
				return domain.Quota(secs, err)
			}
			return domain.Quota(domain.DefaultRetryAfter, err)
		}
		if apiErr.Status == statusUnknown || apiErr.Code == 500 {
			return domain.Transient(transientMessage, err)
		}
		if apiErr.Message != "" {
			return domain.Fatal(fmt.Sprintf("Failed to generate image: %s", apiErr.Message), err)
		}
	}

	if msg := err.Error(); msg != "" {
		return domain.Fatal(fmt.Sprintf("Failed to generate image: %s", msg), err)
	}
	return domain.Fatal(unknownMessage, err)
}

// asAPIError は値型・ポインタ型どちらの genai.APIError も取り出すのだ。
func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// retryDelaySeconds は google.rpc.RetryInfo の retryDelay を秒数に変換します。
// "45s" や "45.7s" は先頭の整数部分を使います。
func retryDelaySeconds(details []map[string]any) (int, bool) {
	for _, d := range details {
		if t, _ := d["@type"].(string); t != retryInfoType {
			continue
		}
		switch v := d["retryDelay"].(type) {
		case string:
			return leadingInt(v)
		case float64:
			if v >= 0 {
				return int(v), true
			}
		case int:
			if v >= 0 {
				return v, true
			}
		case map[string]any:
			// protobuf JSON の Duration がオブジェクト形式で来る場合
			if s, ok := v["seconds"]; ok {
				return leadingInt(fmt.Sprint(s))
			}
		}
	}
	return 0, false
}

// leadingInt は文字列先頭の 10 進整数を読み取ります。
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
