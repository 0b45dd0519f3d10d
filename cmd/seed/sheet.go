package main

import (
	"fmt"
	"strings"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/xuri/excelize/v2"
)

// 컬럼 순서: 상품 ID(선택), 이름, 설명, 이미지 URL, 등록자 UID
const (
	colID = iota
	colName
	colDescription
	colImageURL
	colOwner
	minColumns
)

type productSheet struct {
	Products   []model.Product
	Rows       int
	Skipped    int
	Duplicates int
}

func readProductsFromXLSX(filePath string) (*productSheet, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX file: %w", err)
	}
	defer f.Close()

	// 첫 번째 시트만 읽음
	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("no sheets found in XLSX file")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data found in XLSX file")
	}
	return parseProductRows(rows), nil
}

// parseProductRows skips the header row. Rows without a name, description or
// owner are skipped, as are repeats of an owner's product name.
func parseProductRows(rows [][]string) *productSheet {
	sheet := &productSheet{}
	seen := make(map[string]bool)
	seenIDs := make(map[string]bool)

	for i, row := range rows {
		if i == 0 {
			continue
		}
		sheet.Rows++

		// excelize drops trailing empty cells
		for len(row) < minColumns {
			row = append(row, "")
		}

		product := model.Product{
			ID:          strings.TrimSpace(row[colID]),
			Name:        strings.TrimSpace(row[colName]),
			Description: strings.TrimSpace(row[colDescription]),
			ImageURL:    strings.TrimSpace(row[colImageURL]),
			OwnerID:     strings.TrimSpace(row[colOwner]),
		}
		if product.Name == "" || product.Description == "" || product.OwnerID == "" {
			sheet.Skipped++
			continue
		}

		key := product.OwnerID + "|" + strings.ToLower(product.Name)
		if seen[key] || (product.ID != "" && seenIDs[product.ID]) {
			sheet.Duplicates++
			continue
		}
		seen[key] = true
		if product.ID != "" {
			seenIDs[product.ID] = true
		}

		sheet.Products = append(sheet.Products, product)
	}
	return sheet
}
