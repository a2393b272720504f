package imagegen

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/kaptinlin/jsonrepair"
)

var errNoJSON = errors.New("响应中没有 JSON 对象")

// decodeLoose 先按严格 JSON 解析。失败时截取首个 { 到最后一个 } 之间的片段修复后再解析，
// 网关偶尔会在 JSON 前后拼接日志或返回被截断的对象
func decodeLoose(data []byte, out interface{}) error {
	err := json.Unmarshal(data, out)
	if err == nil {
		return nil
	}
	start := bytes.IndexByte(data, '{')
	end := bytes.LastIndexByte(data, '}')
	if start < 0 {
		return errNoJSON
	}
	fragment := data[start:]
	if end > start {
		fragment = data[start : end+1]
	}
	fixed, repairErr := jsonrepair.JSONRepair(string(fragment))
	if repairErr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), out)
}
