package handler

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newTestClient(t *testing.T) *CatalogClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor))
	RegisterCatalogServer(srv, NewGRPCHandler(newTestCatalog(t)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewCatalogClient(conn)
}

func TestGRPC_SearchAndListings(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	warm, err := client.Search(ctx, "warm")
	require.NoError(t, err)
	assert.Len(t, warm, 4)

	none, err := client.Search(ctx, "zzz")
	require.NoError(t, err)
	assert.Empty(t, none)

	bob, err := client.ListUserProducts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, "Jacket", bob[0].Name)
	assert.True(t, decimal.RequireFromString("99.99").Equal(bob[0].Price))

	outerwear, err := client.ListProductsPerTag(ctx, 3)
	require.NoError(t, err)
	require.Len(t, outerwear, 1)
	assert.Equal(t, "Jacket", outerwear[0].Name)

	_, err = client.ListUserProducts(ctx, 99)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_ProductLifecycle(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	seller, err := client.RegisterUser(ctx, &RegisterUserRequest{Name: "Carol"})
	require.NoError(t, err)
	buyer, err := client.RegisterUser(ctx, &RegisterUserRequest{Name: "Dave"})
	require.NoError(t, err)

	p, err := client.AddProduct(ctx, &AddProductRequest{
		UserID:      seller.ID,
		Name:        "Beanie",
		Description: "Warm and stylish",
		Price:       decimal.RequireFromString("14.99"),
		Quantity:    25,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, p.Quantity)

	txn, err := client.Purchase(ctx, p.ID, buyer.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, txn.Quantity)
	assert.NotEmpty(t, txn.ID)

	_, err = client.Purchase(ctx, p.ID, buyer.ID, 100)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.Purchase(ctx, p.ID, buyer.ID, 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	listed, err := client.ListUserProducts(ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 20, listed[0].Quantity)

	name := "Bobble Beanie"
	updated, err := client.UpdateProduct(ctx, &UpdateProductRequest{ProductID: p.ID, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, 20, updated.Quantity)

	require.NoError(t, client.UpdateStock(ctx, p.ID, 40))
	err = client.UpdateStock(ctx, p.ID, -1)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	found, err := client.Search(ctx, "bobble")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 40, found[0].Quantity)

	require.NoError(t, client.RemoveProduct(ctx, p.ID))
	err = client.RemoveProduct(ctx, p.ID)
	assert.Equal(t, codes.NotFound, status.Code(err))

	found, err = client.Search(ctx, "bobble")
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, client.RebuildIndex(ctx))
}

func TestGRPC_TagsAndUsers(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// Jacket joins the seeded Winter tag, matched regardless of case
	tag, err := client.TagProduct(ctx, 4, "winter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tag.ID)
	assert.Equal(t, "Winter", tag.Name)

	winter, err := client.ListProductsPerTag(ctx, tag.ID)
	require.NoError(t, err)
	assert.Len(t, winter, 3)

	_, err = client.TagProduct(ctx, 4, " ")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = client.TagProduct(ctx, 99, "Summer")
	assert.Equal(t, codes.NotFound, status.Code(err))

	// Alice owns products and has purchases
	err = client.RemoveUser(ctx, 1)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	eve, err := client.RegisterUser(ctx, &RegisterUserRequest{Name: "Eve"})
	require.NoError(t, err)
	require.NoError(t, client.RemoveUser(ctx, eve.ID))
	err = client.RemoveUser(ctx, eve.ID)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_ConcurrentPurchasesNeverOversell(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	seller, err := client.RegisterUser(ctx, &RegisterUserRequest{Name: "Carol"})
	require.NoError(t, err)
	p, err := client.AddProduct(ctx, &AddProductRequest{
		UserID:      seller.ID,
		Name:        "Lantern",
		Description: "Storm proof",
		Price:       decimal.RequireFromString("35"),
		Quantity:    10,
	})
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		sold     int
		rejected int
		wg       sync.WaitGroup
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Purchase(ctx, p.ID, 1, 1)
			mu.Lock()
			defer mu.Unlock()
			switch status.Code(err) {
			case codes.OK:
				sold++
			case codes.FailedPrecondition:
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, sold)
	assert.Equal(t, 20, rejected)

	listed, err := client.ListUserProducts(ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 0, listed[0].Quantity)
}
