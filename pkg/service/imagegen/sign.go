package imagegen

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	signAlgorithm = "HMAC-SHA256"
	signRegion    = "cn-north-1"
	signService   = "cv"
)

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalQuery 键值按 RFC3986 编码并按键排序
func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, escape(k)+"="+escape(v))
		}
	}
	return strings.Join(parts, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// signRequest 火山引擎 OpenAPI V4 签名，写入 X-Date / X-Content-Sha256 / Authorization
func signRequest(req *http.Request, body []byte, ak, sk string, now time.Time) {
	now = now.UTC()
	xDate := now.Format("20060102T150405Z")
	shortDate := xDate[:8]
	payloadHash := sha256Hex(body)

	req.Header.Set("X-Date", xDate)
	req.Header.Set("X-Content-Sha256", payloadHash)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	signedHeaders := []string{"content-type", "host", "x-content-sha256", "x-date"}
	headerValues := map[string]string{
		"content-type":     req.Header.Get("Content-Type"),
		"host":             req.URL.Host,
		"x-content-sha256": payloadHash,
		"x-date":           xDate,
	}
	var canonicalHeaders strings.Builder
	for _, h := range signedHeaders {
		canonicalHeaders.WriteString(h + ":" + strings.TrimSpace(headerValues[h]) + "\n")
	}

	path := req.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	canonicalRequest := strings.Join([]string{
		req.Method,
		path,
		canonicalQuery(req.URL.Query()),
		canonicalHeaders.String(),
		strings.Join(signedHeaders, ";"),
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{shortDate, signRegion, signService, "request"}, "/")
	stringToSign := strings.Join([]string{signAlgorithm, xDate, scope, sha256Hex([]byte(canonicalRequest))}, "\n")

	kDate := hmacSHA256([]byte(sk), shortDate)
	kRegion := hmacSHA256(kDate, signRegion)
	kService := hmacSHA256(kRegion, signService)
	kSigning := hmacSHA256(kService, "request")
	signature := hex.EncodeToString(hmacSHA256(kSigning, stringToSign))

	req.Header.Set("Authorization", signAlgorithm+" Credential="+ak+"/"+scope+
		", SignedHeaders="+strings.Join(signedHeaders, ";")+", Signature="+signature)
}
