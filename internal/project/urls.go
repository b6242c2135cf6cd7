package project

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

var urlsHeader = []string{"url", "isUseful", "priority"}

// EncodeURLs renders rows as CSV with the url,isUseful,priority header. An
// unlabeled row leaves isUseful empty.
func EncodeURLs(rows []crawler.LabeledURL) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(urlsHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		useful := ""
		if row.Useful != nil {
			useful = strconv.FormatBool(*row.Useful)
		}
		if err := w.Write([]string{row.URL, useful, strconv.Itoa(row.Priority)}); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeURLs parses a urls.csv body. Columns are located by header name so
// extra columns are tolerated.
func DecodeURLs(r io.Reader) ([]crawler.LabeledURL, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w: %w", crawler.ErrParse, err)
	}
	cols := columnIndex(header)
	urlCol, ok := cols["url"]
	if !ok {
		return nil, fmt.Errorf("csv has no url column: %w", crawler.ErrParse)
	}

	var rows []crawler.LabeledURL
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w: %w", crawler.ErrParse, err)
		}
		raw := field(record, urlCol)
		if raw == "" {
			continue
		}
		row := crawler.LabeledURL{DiscoveredURL: crawler.DiscoveredURL{URL: raw}}
		if idx, ok := cols["priority"]; ok {
			if p, err := strconv.Atoi(field(record, idx)); err == nil {
				row.Priority = p
			}
		}
		if idx, ok := cols["isuseful"]; ok {
			if b, err := strconv.ParseBool(field(record, idx)); err == nil {
				row.Useful = &b
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// SaveURLs writes urls.csv.
func (l *Layout) SaveURLs(ctx context.Context, rows []crawler.LabeledURL) error {
	data, err := EncodeURLs(rows)
	if err != nil {
		return err
	}
	if _, err := l.store.Put(ctx, l.Name(URLsFile), "text/csv", data); err != nil {
		return fmt.Errorf("put %s: %w", URLsFile, err)
	}
	return nil
}

// LoadURLs reads urls.csv. A missing file surfaces crawler.ErrArtifactNotFound.
func (l *Layout) LoadURLs(ctx context.Context) ([]crawler.LabeledURL, error) {
	data, err := l.store.Get(ctx, l.Name(URLsFile))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", URLsFile, err)
	}
	return DecodeURLs(bytes.NewReader(data))
}

// ReadSiteList reads a batch input CSV with a url column and returns the
// http(s) entries in file order. A headerless single column file is accepted.
func ReadSiteList(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read site list: %w: %w", crawler.ErrParse, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	col := 0
	start := 0
	if idx, ok := columnIndex(records[0])["url"]; ok {
		col = idx
		start = 1
	}
	var sites []string
	for _, record := range records[start:] {
		site := field(record, col)
		lower := strings.ToLower(site)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			sites = append(sites, site)
		}
	}
	return sites, nil
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	return cols
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
