package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/catalog/internal/adapter/handler"
)

const (
	initialStock  = 20
	totalRequests = 50
)

// Drives concurrent purchases of one product through a running server and
// checks that exactly the listed stock is sold.
func main() {
	addr := os.Getenv("GRPC_ADDR")
	if addr == "" {
		addr = "localhost:50051"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Printf("failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()
	client := handler.NewCatalogClient(conn)

	seller, err := client.RegisterUser(ctx, &handler.RegisterUserRequest{Name: "stress-seller"})
	if err != nil {
		fmt.Printf("failed to register seller: %v\n", err)
		os.Exit(1)
	}
	buyer, err := client.RegisterUser(ctx, &handler.RegisterUserRequest{Name: "stress-buyer"})
	if err != nil {
		fmt.Printf("failed to register buyer: %v\n", err)
		os.Exit(1)
	}

	product, err := client.AddProduct(ctx, &handler.AddProductRequest{
		UserID:      seller.ID,
		Name:        fmt.Sprintf("Stress Lantern %d", time.Now().Unix()),
		Description: "Limited run",
		Price:       decimal.RequireFromString("9.99"),
		Quantity:    initialStock,
	})
	if err != nil {
		fmt.Printf("failed to add product: %v\n", err)
		os.Exit(1)
	}

	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := client.Purchase(ctx, product.ID, buyer.ID, 1)
			switch status.Code(err) {
			case codes.OK:
				successCount.Add(1)
			case codes.FailedPrecondition:
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
				fmt.Printf("unexpected error: %v\n", err)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(initialStock) && soldOut == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d purchases succeeded, %d sold out\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	listed, err := client.ListUserProducts(ctx, seller.ID)
	if err != nil || len(listed) != 1 {
		fmt.Printf("FAIL: could not read back product: %v\n", err)
		os.Exit(1)
	}
	if listed[0].Quantity == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", listed[0].Quantity)
	}
}
