/*
 * @Description: 通用的 JSON 列类型
 * @Author: 安知鱼
 * @Date: 2026-02-11 10:20:31
 * @LastEditTime: 2026-03-01 17:45:02
 * @LastEditors: 安知鱼
 */
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// IDList 是按插入顺序保存的字符串 ID 集合，以 JSON 数组形式落库
type IDList []string

// Contains 判断集合内是否已存在该 ID
func (l IDList) Contains(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, item := range l {
		if item == id {
			return true
		}
	}
	return false
}

// Add 追加 ID，已存在或为空时原样返回
func (l IDList) Add(id string) IDList {
	id = strings.TrimSpace(id)
	if id == "" || l.Contains(id) {
		return l
	}
	return append(l, id)
}

// Value 实现 driver.Valuer 接口
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口，损坏的数据按空集合处理
func (l *IDList) Scan(value interface{}) error {
	raw, err := scanBytes(value)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		*l = IDList{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		*l = IDList{}
		return nil
	}
	cleaned := make(IDList, 0, len(out))
	for _, item := range out {
		cleaned = cleaned.Add(item)
	}
	*l = cleaned
	return nil
}

// JSONMap 任意 JSON 对象列
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	raw, err := scanBytes(value)
	if err != nil {
		return err
	}
	out := JSONMap{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("解析 JSON 字段失败: %w", err)
		}
	}
	*m = out
	return nil
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("不支持的列类型 %T", value)
	}
}
