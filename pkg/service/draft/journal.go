/*
 * @Description: 本地草稿日志，每个用户一个 JSONL 文件
 * @Author: 安知鱼
 * @Date: 2026-02-15 21:20:44
 * @LastEditTime: 2026-03-03 09:02:17
 * @LastEditors: 安知鱼
 */
package draft

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/strutil"
	"github.com/anzhiyu-c/anheyu-mpflow/internal/pkg/utils"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/model"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/compose"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/service/utility"
)

const (
	DefaultListLimit = 20

	SourceManual          = "manual"
	SourceMessageTaskAuto = "message_task_auto"
	SourcePublishQueue    = "publish_queue"
)

var unsafeOwnerChars = regexp.MustCompile(`[^a-zA-Z0-9_\-.]`)

// Journal 草稿日志，同一用户文件的写操作由 PathLocker 串行化
type Journal struct {
	dir    string
	locker *utility.PathLocker
	now    func() time.Time
}

func NewJournal(dir string, locker *utility.PathLocker) *Journal {
	if locker == nil {
		locker = utility.NewPathLocker()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Journal{dir: abs, locker: locker, now: utils.NowInChina}
}

// SafeOwner 用户 ID 中文件名不允许的字符替换为下划线
func SafeOwner(ownerID string) string {
	if ownerID == "" {
		ownerID = "anonymous"
	}
	return unsafeOwnerChars.ReplaceAllString(ownerID, "_")
}

func (j *Journal) path(ownerID string) string {
	return filepath.Join(j.dir, SafeOwner(ownerID)+".jsonl")
}

func (j *Journal) stamp() string {
	return j.now().Format(time.RFC3339)
}

// Entry 新草稿
type Entry struct {
	ArticleID string
	Title     string
	Content   string
	Platform  string
	Mode      string
	Metadata  map[string]interface{}
}

func normalizeKey(v, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return fallback
	}
	return v
}

func (j *Journal) Append(ownerID string, e Entry) (*model.Draft, error) {
	d := &model.Draft{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		ArticleID: e.ArticleID,
		Title:     strings.TrimSpace(e.Title),
		Content:   strings.TrimSpace(e.Content),
		Platform:  normalizeKey(e.Platform, "wechat"),
		Mode:      normalizeKey(e.Mode, "create"),
		Metadata:  e.Metadata,
		CreatedAt: j.stamp(),
	}
	if d.Metadata == nil {
		d.Metadata = map[string]interface{}{}
	}
	line, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}

	path := j.path(ownerID)
	j.locker.Lock(path)
	defer j.locker.Unlock(path)
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建草稿目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开草稿文件失败: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("写入草稿失败: %w", err)
	}
	return d, nil
}

// read 逐行解析，损坏的行直接跳过
func (j *Journal) read(ownerID string) ([]*model.Draft, error) {
	data, err := os.ReadFile(j.path(ownerID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rows []*model.Draft
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var d model.Draft
		if json.Unmarshal([]byte(text), &d) != nil {
			continue
		}
		rows = append(rows, &d)
	}
	return rows, sc.Err()
}

// write 先写临时文件再 rename，调用方需持有该文件的锁
func (j *Journal) write(ownerID string, rows []*model.Draft) error {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, r := range rows {
		line, err := json.Marshal(r)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	path := j.path(ownerID)
	tmp, err := os.CreateTemp(j.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// List 最新的在前
func (j *Journal) List(ownerID string, limit int) ([]*model.Draft, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := j.read(ownerID)
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]*model.Draft, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func (j *Journal) Get(ownerID, id string) (*model.Draft, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, constant.ErrNotFound
	}
	rows, err := j.read(ownerID)
	if err != nil {
		return nil, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].ID == id {
			return rows[i], nil
		}
	}
	return nil, constant.ErrNotFound
}

// Patch 整体替换标题、正文等字段，Metadata 为 nil 时保留原值
type Patch struct {
	Title    string
	Content  string
	Platform string
	Mode     string
	Metadata map[string]interface{}
}

func (j *Journal) Update(ownerID, id string, p Patch) (*model.Draft, error) {
	return j.mutate(ownerID, id, func(d *model.Draft) {
		d.Title = strings.TrimSpace(p.Title)
		d.Content = strings.TrimSpace(p.Content)
		d.Platform = normalizeKey(p.Platform, "wechat")
		d.Mode = normalizeKey(p.Mode, "create")
		if p.Metadata != nil {
			d.Metadata = p.Metadata
		}
	})
}

func (j *Journal) mutate(ownerID, id string, fn func(d *model.Draft)) (*model.Draft, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, constant.ErrNotFound
	}
	path := j.path(ownerID)
	j.locker.Lock(path)
	defer j.locker.Unlock(path)

	rows, err := j.read(ownerID)
	if err != nil {
		return nil, err
	}
	var found *model.Draft
	for _, r := range rows {
		if r.ID != id {
			continue
		}
		fn(r)
		r.UpdatedAt = j.stamp()
		found = r
	}
	if found == nil {
		return nil, constant.ErrNotFound
	}
	if err := j.write(ownerID, rows); err != nil {
		return nil, fmt.Errorf("保存草稿失败: %w", err)
	}
	return found, nil
}

func (j *Journal) Delete(ownerID, id string) (bool, error) {
	n, err := j.DeleteBatch(ownerID, []string{id})
	return n > 0, err
}

// DeleteBatch 返回实际删除的条数
func (j *Journal) DeleteBatch(ownerID string, ids []string) (int, error) {
	targets := map[string]bool{}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			targets[id] = true
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}
	path := j.path(ownerID)
	j.locker.Lock(path)
	defer j.locker.Unlock(path)

	rows, err := j.read(ownerID)
	if err != nil {
		return 0, err
	}
	kept := rows[:0]
	for _, r := range rows {
		if !targets[r.ID] {
			kept = append(kept, r)
		}
	}
	deleted := len(rows) - len(kept)
	if deleted == 0 {
		return 0, nil
	}
	if err := j.write(ownerID, kept); err != nil {
		return 0, fmt.Errorf("保存草稿失败: %w", err)
	}
	return deleted, nil
}

// Delivery 一次投递结果
type Delivery struct {
	Platform string
	Status   string
	Message  string
	Source   string
	TaskID   string
	Extra    map[string]interface{}
}

// MarkDelivery 写入 metadata.delivery[platform]，历史最多保留 20 条
func (j *Journal) MarkDelivery(ownerID, id string, in Delivery) (*model.Draft, error) {
	return j.mutate(ownerID, id, func(d *model.Draft) {
		states := DeliveryStates(d)
		key := normalizeKey(in.Platform, "wechat")
		st := states[key]
		now := j.stamp()

		st.Status = strings.ToLower(strings.TrimSpace(in.Status))
		st.Message = strings.TrimSpace(in.Message)
		st.LastTryAt = now
		if s := strings.TrimSpace(in.Source); s != "" {
			st.Source = s
		}
		if t := strings.TrimSpace(in.TaskID); t != "" {
			st.TaskID = t
		}
		if st.Status == model.DeliveryStatusSuccess {
			st.DeliveredAt = now
		}
		extra := sanitizeExtra(in.Extra)
		if extra != nil {
			st.Extra = extra
		}

		attempt := model.DeliveryAttempt{
			Status:  st.Status,
			Message: st.Message,
			Source:  st.Source,
			TaskID:  st.TaskID,
			TriedAt: now,
			Extra:   extra,
		}
		st.History = append([]model.DeliveryAttempt{attempt}, st.History...)
		if len(st.History) > model.DeliveryHistoryLimit {
			st.History = st.History[:model.DeliveryHistoryLimit]
		}
		states[key] = st

		if d.Metadata == nil {
			d.Metadata = map[string]interface{}{}
		}
		d.Metadata["delivery"] = states
	})
}

// sanitizeExtra 键截断到 64 字节，标量值转字符串并截断到 1000 字
func sanitizeExtra(extra map[string]interface{}) map[string]interface{} {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(extra))
	for k, v := range extra {
		key := strutil.TruncateBytes(k, 64)
		switch v.(type) {
		case map[string]interface{}, []interface{}, []string:
			out[key] = v
		default:
			out[key] = strutil.Clip(fmt.Sprint(v), 1000)
		}
	}
	return out
}

// DeliveryStates 读出 metadata.delivery，字段缺失或格式不对时返回空表
func DeliveryStates(d *model.Draft) map[string]model.DeliveryState {
	out := map[string]model.DeliveryState{}
	if d == nil || d.Metadata == nil {
		return out
	}
	raw, ok := d.Metadata["delivery"]
	if !ok {
		return out
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return out
	}
	if json.Unmarshal(data, &out) != nil {
		return map[string]model.DeliveryState{}
	}
	return out
}

// CoverURL 草稿封面：优先 metadata.cover_url，其次正文第一张图片
func CoverURL(d *model.Draft) string {
	if d == nil {
		return ""
	}
	if v, ok := d.Metadata["cover_url"].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return compose.ExtractFirstImageURL(d.Content)
}
