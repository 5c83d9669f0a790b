package utils

import (
	"math/rand"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var lettersNumbers = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

func randomCode(n int, keys []rune) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = keys[rand.Intn(len(keys))]
	}
	return string(b)
}

// GenerateRandomKey 生成指定长度的随机字符串
func GenerateRandomKey(n int) string {
	return randomCode(n, lettersNumbers)
}

// GenerateCorrelationID 生成请求追踪ID
func GenerateCorrelationID() string {
	code, err := gonanoid.New(21)
	if err != nil {
		code = GenerateRandomKey(21)
	}
	return code
}
