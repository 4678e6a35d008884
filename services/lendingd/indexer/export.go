package indexer

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// ReportFiles lists the artifacts written for one maturity.
type ReportFiles struct {
	Maturity    uint64 `json:"maturity"`
	CSVPath     string `json:"csvPath"`
	ParquetPath string `json:"parquetPath"`
	Count       int    `json:"count"`
}

// ExportLoans writes the loan book of maturity to dir as CSV and Parquet.
func (i *Indexer) ExportLoans(ctx context.Context, dir string, maturity uint64) (*ReportFiles, error) {
	loans, err := i.Loans(ctx, maturity)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create dir: %w", err)
	}
	base := filepath.Join(dir, "loans-"+strconv.FormatUint(maturity, 10))
	files := &ReportFiles{
		Maturity:    maturity,
		CSVPath:     base + ".csv",
		ParquetPath: base + ".parquet",
		Count:       len(loans),
	}
	if err := writeCSV(files.CSVPath, loans); err != nil {
		return nil, err
	}
	if err := writeParquet(files.ParquetPath, loans); err != nil {
		return nil, err
	}
	i.logger.Info("exported loan report",
		"maturity", maturity,
		"rows", len(loans),
		"csv", files.CSVPath,
		"parquet", files.ParquetPath)
	return files, nil
}

var reportHeader = []string{
	"loan_id", "maturity", "lender", "borrower", "principal", "rate_bps", "status",
	"collateral_asset", "collateral_amount", "start_timestamp", "settled", "closed_at",
}

func reportRecord(l LoanRecord) []string {
	return []string{
		strconv.FormatUint(l.LoanID, 10),
		strconv.FormatUint(l.Maturity, 10),
		l.Lender,
		l.Borrower,
		l.Principal,
		strconv.FormatUint(l.RateBps, 10),
		l.Status,
		l.CollateralAsset,
		l.CollateralAmount,
		strconv.FormatUint(l.StartTimestamp, 10),
		l.Settled,
		strconv.FormatUint(l.ClosedAt, 10),
	}
}

func writeCSV(path string, loans []LoanRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(reportHeader); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for _, loan := range loans {
		if err := w.Write(reportRecord(loan)); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	LoanID           int64  `parquet:"name=loan_id, type=INT64"`
	Maturity         int64  `parquet:"name=maturity, type=INT64"`
	Lender           string `parquet:"name=lender, type=BYTE_ARRAY, convertedtype=UTF8"`
	Borrower         string `parquet:"name=borrower, type=BYTE_ARRAY, convertedtype=UTF8"`
	Principal        string `parquet:"name=principal, type=BYTE_ARRAY, convertedtype=UTF8"`
	RateBps          int64  `parquet:"name=rate_bps, type=INT64"`
	Status           string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	CollateralAsset  string `parquet:"name=collateral_asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	CollateralAmount string `parquet:"name=collateral_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartTimestamp   int64  `parquet:"name=start_timestamp, type=INT64"`
	Settled          string `parquet:"name=settled, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClosedAt         int64  `parquet:"name=closed_at, type=INT64"`
}

func writeParquet(path string, loans []LoanRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, l := range loans {
		row := &parquetRow{
			LoanID:           int64(l.LoanID),
			Maturity:         int64(l.Maturity),
			Lender:           l.Lender,
			Borrower:         l.Borrower,
			Principal:        l.Principal,
			RateBps:          int64(l.RateBps),
			Status:           l.Status,
			CollateralAsset:  l.CollateralAsset,
			CollateralAmount: l.CollateralAmount,
			StartTimestamp:   int64(l.StartTimestamp),
			Settled:          l.Settled,
			ClosedAt:         int64(l.ClosedAt),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}
