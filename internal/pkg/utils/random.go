/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-06-15 12:25:50
 * @LastEditTime: 2026-03-04 18:02:33
 * @LastEditors: 安知鱼
 */
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// RandomHex 生成 n 位十六进制随机串（大写），订单号后缀使用
func RandomHex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)[:n]), nil
}
