package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ikkim/cartsync/config"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/db"
	"github.com/ikkim/cartsync/internal/platform"
)

func main() {
	// 명령줄 인자 확인
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run cmd/seed/main.go <xlsx_file_path>")
	}

	filePath := os.Args[1]

	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// DB 연결
	if err := db.Initialize(&cfg.Database); err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	ctx := context.Background()
	stores, err := platform.BuildStore(ctx, cfg, db.GetDB())
	if err != nil {
		log.Fatal("Failed to open document store:", err)
	}
	defer stores.Close()

	productRepo := repository.NewProductRepository(stores.Store)

	// XLSX 파일 읽기
	fmt.Printf("Reading XLSX file: %s\n", filePath)
	sheet, err := readProductsFromXLSX(filePath)
	if err != nil {
		log.Fatal("Failed to read XLSX:", err)
	}

	fmt.Printf("\nSummary:\n")
	fmt.Printf("  Total rows: %d\n", sheet.Rows)
	fmt.Printf("  Valid products: %d\n", len(sheet.Products))
	fmt.Printf("  Skipped rows: %d\n", sheet.Skipped)
	fmt.Printf("  Duplicate rows: %d\n", sheet.Duplicates)

	// 사용자 확인
	fmt.Print("Do you want to proceed with the import? (yes/no): ")
	var confirm string
	fmt.Scanln(&confirm)
	if confirm != "yes" && confirm != "y" {
		fmt.Println("Import cancelled.")
		return
	}

	for i := range sheet.Products {
		if err := productRepo.Create(ctx, &sheet.Products[i]); err != nil {
			log.Fatalf("Failed to create product %q: %v", sheet.Products[i].Name, err)
		}
		if (i+1)%100 == 0 {
			fmt.Printf("Imported %d products...\n", i+1)
		}
	}

	fmt.Println("Import completed successfully!")
	fmt.Printf("Total products imported: %d\n", len(sheet.Products))
}
