// Package pricelist reads registrar TLD price sheets.
//
// A sheet is CSV with the header tld,register,renew,currency. renew may be
// empty, in which case it equals register. Sheets may be gzip-compressed.
package pricelist

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/domainshop/internal/domain/pricing"
)

var header = []string{"tld", "register", "renew", "currency"}

// RowError reports an invalid line of a sheet.
type RowError struct {
	Line int
	Msg  string
}

func (e *RowError) Error() string {
	return "line " + strconv.Itoa(e.Line) + ": " + e.Msg
}

// Parse reads one sheet. All rows are stamped with at.
func Parse(r io.Reader, at time.Time) ([]pricing.TLDPrice, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	first, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	for i, name := range header {
		if !strings.EqualFold(strings.TrimSpace(first[i]), name) {
			return nil, &RowError{Line: 1, Msg: "header must be " + strings.Join(header, ",")}
		}
	}

	var out []pricing.TLDPrice
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		p, err := parseRow(rec, at)
		if err != nil {
			return nil, &RowError{Line: line, Msg: err.Error()}
		}
		out = append(out, p)
	}
}

func parseRow(rec []string, at time.Time) (pricing.TLDPrice, error) {
	tld := pricing.NormalizeTLD(rec[0])
	if tld == "" {
		return pricing.TLDPrice{}, errors.New("empty tld")
	}
	register, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
	if err != nil || !register.IsPositive() {
		return pricing.TLDPrice{}, errors.Errorf("invalid register price %q", rec[1])
	}
	renew := register
	if s := strings.TrimSpace(rec[2]); s != "" {
		renew, err = decimal.NewFromString(s)
		if err != nil || !renew.IsPositive() {
			return pricing.TLDPrice{}, errors.Errorf("invalid renew price %q", rec[2])
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(rec[3]))
	if len(currency) != 3 {
		return pricing.TLDPrice{}, errors.Errorf("invalid currency %q", rec[3])
	}
	return pricing.TLDPrice{
		TLD:       tld,
		Register:  register.Round(2),
		Renew:     renew.Round(2),
		Currency:  currency,
		UpdatedAt: at,
	}, nil
}

// ReadFile parses a sheet from disk, decompressing files ending in .gz.
func ReadFile(path string, at time.Time) ([]pricing.TLDPrice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	prices, err := Parse(r, at)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return prices, nil
}

// Sheet is the parsed content of one file.
type Sheet struct {
	Path   string
	Prices []pricing.TLDPrice
}

// ReadFiles parses paths concurrently and returns them in input order.
func ReadFiles(ctx context.Context, paths []string, at time.Time) ([]Sheet, error) {
	sheets := make([]Sheet, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			prices, err := ReadFile(path, at)
			if err != nil {
				return err
			}
			sheets[i] = Sheet{Path: path, Prices: prices}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sheets, nil
}

// Merge flattens sheets into one price per TLD. A TLD listed again replaces
// the earlier row; replaced reports how often that happened.
func Merge(sheets []Sheet) (prices []pricing.TLDPrice, replaced int) {
	index := make(map[string]int)
	for _, s := range sheets {
		for _, p := range s.Prices {
			if i, ok := index[p.TLD]; ok {
				prices[i] = p
				replaced++
				continue
			}
			index[p.TLD] = len(prices)
			prices = append(prices, p)
		}
	}
	return prices, replaced
}
