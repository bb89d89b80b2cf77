// Package download は支払い済み注文のダウンロードリンクからファイルを保存する。
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
)

// ErrTooLarge はファイルがMaxSizeを超えた場合に返される。
var ErrTooLarge = errors.New("download exceeds size limit")

// URLValidator はリクエスト前にダウンロード先URLを検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Options はDownloaderの動作設定。
type Options struct {
	Dir     string
	Timeout time.Duration // 1ファイルあたりの上限
	MaxSize int64         // 1ファイルあたりの上限（バイト）
	Metrics metrics.MetricsCollector
}

// Result は保存した1ファイルの情報。
type Result struct {
	ProductID string
	Path      string
	Bytes     int64
}

// Downloader は注文のダウンロードリンクを順に取得して保存する。
type Downloader struct {
	client    *http.Client
	validator URLValidator
	dir       string
	timeout   time.Duration
	maxSize   int64
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewDownloader はDownloaderを生成する。
// clientには security.DownloadGuard.NewSafeClient で生成したクライアントを渡す。
func NewDownloader(client *http.Client, validator URLValidator, opts Options, logger *slog.Logger) *Downloader {
	if opts.Dir == "" {
		opts.Dir = "downloads"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100 << 20
	}
	return &Downloader{
		client:    client,
		validator: validator,
		dir:       opts.Dir,
		timeout:   opts.Timeout,
		maxSize:   opts.MaxSize,
		metrics:   metrics.OrNop(opts.Metrics),
		logger:    logger,
	}
}

// Fetch は注文の全ダウンロードリンクを保存する。
// completed以外の注文、またはリンクを持たない注文はValidationErrorを返す。
// 一部のファイルが失敗しても残りの取得は続け、保存できたものとエラーをまとめて返す。
func (d *Downloader) Fetch(ctx context.Context, order model.Order) ([]Result, error) {
	if order.Status != model.OrderStatusCompleted {
		return nil, model.NewValidationError("order", fmt.Sprintf("注文 %s は支払いが完了していません", order.ID))
	}
	if len(order.DownloadLinks) == 0 {
		return nil, model.NewValidationError("download_links", fmt.Sprintf("注文 %s にダウンロードリンクがありません", order.ID))
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	productIDs := make([]string, 0, len(order.DownloadLinks))
	for id := range order.DownloadLinks {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	var (
		results []Result
		errs    []error
	)
	for _, productID := range productIDs {
		link := order.DownloadLinks[productID]
		res, err := d.fetchOne(ctx, productID, link)
		if err != nil {
			d.metrics.RecordDownload("error", 0)
			d.logger.Warn("download failed",
				slog.String("order_id", order.ID),
				slog.String("product_id", productID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("product %s: %w", productID, err))
			continue
		}
		d.metrics.RecordDownload("ok", res.Bytes)
		d.logger.Info("download saved",
			slog.String("order_id", order.ID),
			slog.String("product_id", productID),
			slog.String("path", res.Path),
			slog.Int64("bytes", res.Bytes),
		)
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (d *Downloader) fetchOne(ctx context.Context, productID, link string) (Result, error) {
	if err := d.validator.ValidateURL(link); err != nil {
		return Result{}, model.NewValidationError("download_link", err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, model.NewTimeoutError(err)
		}
		return Result{}, model.NewNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, model.NewServerError(resp.StatusCode, "")
	}
	if resp.ContentLength > d.maxSize {
		return Result{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	target := filepath.Join(d.dir, fileName(productID, link))
	tmp, err := os.CreateTemp(d.dir, ".download-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, d.maxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, model.NewTimeoutError(err)
		}
		return Result{}, fmt.Errorf("failed to write download: %w", err)
	}
	if n > d.maxSize {
		return Result{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxSize)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return Result{}, fmt.Errorf("failed to save download: %w", err)
	}
	return Result{ProductID: productID, Path: target, Bytes: n}, nil
}

// fileName は保存先のファイル名を "<商品ID>-<URLの末尾>" とする。
// パス区切りや制御文字は置き換え、保存先ディレクトリの外へ出ないようにする。
func fileName(productID, link string) string {
	base := ""
	if u, err := url.Parse(link); err == nil {
		base = path.Base(u.Path)
	}
	if base == "." || base == "/" {
		base = ""
	}
	name := safeName(productID)
	if base != "" {
		name += "-" + safeName(base)
	}
	return name
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	s = strings.TrimLeft(s, ".")
	if s == "" {
		return "file"
	}
	return s
}
