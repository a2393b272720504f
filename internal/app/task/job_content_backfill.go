package task

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/crawler"
	"github.com/anzhiyu-c/anheyu-mpflow/pkg/domain/repository"
)

const backfillBatch = 20

// ContentBackfillJob 为只有列表信息的文章补抓正文
type ContentBackfillJob struct {
	articles repository.ArticleRepository
	fetcher  ContentFetcher
	logger   *slog.Logger
}

func NewContentBackfillJob(articles repository.ArticleRepository, fetcher ContentFetcher, logger *slog.Logger) *ContentBackfillJob {
	return &ContentBackfillJob{articles: articles, fetcher: fetcher, logger: logger}
}

func (j *ContentBackfillJob) Name() string { return "ContentBackfillJob" }

func (j *ContentBackfillJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	filled, err := j.backfill(ctx)
	if err != nil {
		j.logger.Error("读取待补抓文章失败", slog.Any("error", err))
		return
	}
	if filled > 0 {
		j.logger.Info("文章正文补抓完成", "count", filled)
	}
}

// backfill 返回写入正文的篇数。已删除的文章标记删除，找不到正文时用摘要代替
func (j *ContentBackfillJob) backfill(ctx context.Context) (int, error) {
	rows, err := j.articles.ListMissingContent(ctx, backfillBatch)
	if err != nil {
		return 0, err
	}
	filled := 0
	for _, a := range rows {
		if ctx.Err() != nil {
			break
		}
		if strings.TrimSpace(a.URL) == "" {
			continue
		}
		content, err := j.fetcher.FetchArticleContent(ctx, a.URL)
		switch {
		case errors.Is(err, crawler.ErrArticleDeleted):
			if err := j.articles.MarkDeleted(ctx, a.OwnerID, a.ID); err != nil {
				j.logger.Warn("标记文章删除失败", "article_id", a.ID, "error", err)
			}
			continue
		case errors.Is(err, crawler.ErrContentNotFound):
			desc := strings.TrimSpace(a.Description)
			if desc == "" {
				desc = strings.TrimSpace(a.Title)
			}
			if desc == "" {
				continue
			}
			content = "<p>" + html.EscapeString(desc) + "</p>"
		case err != nil:
			j.logger.Warn("补抓文章正文失败", "article_id", a.ID, "url", a.URL, "error", err)
			continue
		}
		if err := j.articles.UpdateContent(ctx, a.OwnerID, a.ID, content); err != nil {
			j.logger.Warn("保存文章正文失败", "article_id", a.ID, "error", err)
			continue
		}
		filled++
	}
	return filled, nil
}
