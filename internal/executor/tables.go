package executor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

// ErrNoTables is returned when markup holds no table to extract.
var ErrNoTables = errors.New("no tables found")

// ParseTables extracts every table in markup. Tables with a header row yield
// one record per body row keyed by header; two-column tables without a header
// are read as label/value pairs and yield a single record.
func ParseTables(markup string) ([]lookup.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	tables := doc.Find("table")
	if tables.Length() == 0 {
		return nil, ErrNoTables
	}
	var records []lookup.Record
	tables.Each(func(_ int, table *goquery.Selection) {
		records = append(records, parseTable(table)...)
	})
	return records, nil
}

func parseTable(table *goquery.Selection) []lookup.Record {
	rows := table.Find("tr")
	headers := headerCells(table)
	if len(headers) > 0 {
		var out []lookup.Record
		rows.Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() == 0 {
				return
			}
			rec := lookup.Record{}
			cells.Each(func(i int, cell *goquery.Selection) {
				rec[columnName(headers, i)] = cellText(cell)
			})
			if !emptyRecord(rec) {
				out = append(out, rec)
			}
		})
		return out
	}

	pairs := lookup.Record{}
	var out []lookup.Record
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Children().Filter("td,th")
		if cells.Length() == 2 {
			label := strings.TrimSuffix(cellText(cells.First()), ":")
			if label != "" {
				pairs[label] = cellText(cells.Last())
			}
			return
		}
		rec := lookup.Record{}
		cells.Each(func(i int, cell *goquery.Selection) {
			rec[columnName(nil, i)] = cellText(cell)
		})
		if !emptyRecord(rec) {
			out = append(out, rec)
		}
	})
	if len(pairs) > 0 {
		out = append([]lookup.Record{pairs}, out...)
	}
	return out
}

// headerCells returns the column names from <thead>, or from a first row made
// only of <th> cells.
func headerCells(table *goquery.Selection) []string {
	head := table.Find("thead th")
	if head.Length() == 0 {
		first := table.Find("tr").First()
		if first.Find("td").Length() > 0 || first.Find("th").Length() < 2 {
			return nil
		}
		head = first.Find("th")
	}
	headers := make([]string, 0, head.Length())
	head.Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, cellText(th))
	})
	return headers
}

func columnName(headers []string, i int) string {
	if i < len(headers) && headers[i] != "" {
		return headers[i]
	}
	return "col_" + strconv.Itoa(i+1)
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func emptyRecord(rec lookup.Record) bool {
	for _, v := range rec {
		if v != "" {
			return false
		}
	}
	return true
}
