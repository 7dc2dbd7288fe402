package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"goldledger/internal/app"
	"goldledger/internal/config"
	"goldledger/internal/domain"
	"goldledger/internal/excel"
	"goldledger/internal/logging"

	"github.com/sirupsen/logrus"
)

type options struct {
	stockPath string
	pricePath string
	dryRun    bool
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	stockRows, err := readStockRows(opts.stockPath)
	if err != nil {
		log.WithError(err).Fatal("read stock file")
	}
	var priceRows []domain.PriceListRow
	if opts.pricePath != "" {
		if priceRows, err = readPriceRows(opts.pricePath); err != nil {
			log.WithError(err).Fatal("read price file")
		}
	}

	if opts.dryRun {
		log.WithFields(logrus.Fields{
			"stock_rows": len(stockRows),
			"price_rows": len(priceRows),
		}).Info("dry run: files parsed, nothing written")
		return
	}

	ctx := context.Background()
	application, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer application.Close()

	result, err := application.Service.ImportStock(ctx, stockRows)
	if err != nil {
		log.WithError(err).Fatal("stock import failed")
	}
	log.WithFields(logrus.Fields{
		"file":     opts.stockPath,
		"created":  result.Created,
		"updated":  result.Updated,
		"adjusted": result.Adjusted,
	}).Info("stock import complete")

	if len(priceRows) > 0 {
		prices, err := application.Service.ImportPriceList(ctx, priceRows)
		if err != nil {
			log.WithError(err).Fatal("price import failed")
		}
		log.WithFields(logrus.Fields{
			"file":         opts.pricePath,
			"updated":      prices.Updated,
			"unknown_skus": prices.UnknownSKUs,
		}).Info("price import complete")
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.stockPath, "stock", "stock.xlsx", "path to the stock-take workbook")
	flag.StringVar(&opts.pricePath, "prices", "", "optional csv or xlsx price list (sku + unit price)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "parse the files and report without writing")
	flag.Parse()
	return opts
}

func readStockRows(path string) ([]domain.StockImportRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, err := excel.ParseStockTakeRows(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

func readPriceRows(path string) ([]domain.PriceListRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, err := excel.ParsePriceListRows(filepath.Base(path), file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}
