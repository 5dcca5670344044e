package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/freibot/backend/internal/config"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Result summarises a download run.
type Result struct {
	Found      int
	Downloaded int
	Skipped    int
	Failed     []string
}

// Downloader fetches the publications page and saves every linked PDF.
type Downloader struct {
	baseURL string
	dir     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewDownloader creates a downloader writing into dir.
func NewDownloader(cfg config.ScraperConfig, dir string) *Downloader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	return &Downloader{
		baseURL: cfg.BaseURL,
		dir:     dir,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// DownloadAll fetches the index page and downloads each publication that is
// not already on disk. Individual download failures are logged and counted,
// not returned.
func (d *Downloader) DownloadAll(ctx context.Context) (Result, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create download dir: %w", err)
	}

	base, err := url.Parse(d.baseURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse base url: %w", err)
	}

	logger.Infof("[scraper] fetching publications page %s", d.baseURL)
	resp, err := d.get(ctx, d.baseURL)
	if err != nil {
		return Result{}, fmt.Errorf("fetch publications page: %w", err)
	}
	links, err := ExtractLinks(base, resp.Body)
	resp.Body.Close()
	if err != nil {
		return Result{}, err
	}

	res := Result{Found: len(links)}
	logger.Infof("[scraper] found %d PDF documents", len(links))
	if len(links) == 0 {
		logger.Warnf("[scraper] no PDFs found, the page layout may have changed")
		return res, nil
	}

	for i, link := range links {
		target := filepath.Join(d.dir, link.Filename)
		if _, err := os.Stat(target); err == nil {
			logger.Infof("[scraper] skipping %s, already exists", link.Filename)
			res.Skipped++
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return res, err
		}
		logger.Infof("[scraper] downloading %d/%d: %s -> %s %s", i+1, len(links), link.Title, link.Filename, link.Size)
		size, err := d.download(ctx, link.URL, target)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			logger.Errorf("[scraper] failed to download %s: %v", link.Filename, err)
			res.Failed = append(res.Failed, link.Filename)
			continue
		}
		logger.Infof("[scraper] downloaded %s (%d bytes)", link.Filename, size)
		res.Downloaded++
	}

	logger.Infof("[scraper] completed: %d downloaded, %d skipped, %d failed", res.Downloaded, res.Skipped, len(res.Failed))
	return res, nil
}

func (d *Downloader) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf,*/*;q=0.8")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp, nil
}

// download streams rawURL into target, removing the file if anything fails.
func (d *Downloader) download(ctx context.Context, rawURL, target string) (n int64, err error) {
	resp, err := d.get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	f, err := os.Create(target)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	return io.Copy(f, resp.Body)
}
