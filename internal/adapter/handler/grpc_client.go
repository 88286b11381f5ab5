package handler

import (
	"context"

	"google.golang.org/grpc"
)

// CatalogClient calls catalog.v1.CatalogService over a JSON-coded gRPC
// connection.
type CatalogClient struct {
	cc grpc.ClientConnInterface
}

func NewCatalogClient(cc grpc.ClientConnInterface) *CatalogClient {
	return &CatalogClient{cc: cc}
}

func (c *CatalogClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, "/"+catalogServiceName+"/"+method, in, out, grpc.CallContentSubtype(jsonCodecName))
}

func (c *CatalogClient) Search(ctx context.Context, term string) ([]ProductSummary, error) {
	out := new(ProductList)
	if err := c.invoke(ctx, "Search", &SearchRequest{Term: term}, out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

func (c *CatalogClient) ListUserProducts(ctx context.Context, userID int64) ([]ProductSummary, error) {
	out := new(ProductList)
	if err := c.invoke(ctx, "ListUserProducts", &ListUserProductsRequest{UserID: userID}, out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

func (c *CatalogClient) ListProductsPerTag(ctx context.Context, tagID int64) ([]ProductSummary, error) {
	out := new(ProductList)
	if err := c.invoke(ctx, "ListProductsPerTag", &ListProductsPerTagRequest{TagID: tagID}, out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

func (c *CatalogClient) AddProduct(ctx context.Context, req *AddProductRequest) (*ProductSummary, error) {
	out := new(ProductSummary)
	if err := c.invoke(ctx, "AddProduct", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CatalogClient) UpdateProduct(ctx context.Context, req *UpdateProductRequest) (*ProductSummary, error) {
	out := new(ProductSummary)
	if err := c.invoke(ctx, "UpdateProduct", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CatalogClient) UpdateStock(ctx context.Context, productID int64, quantity int) error {
	return c.invoke(ctx, "UpdateStock", &UpdateStockRequest{ProductID: productID, Quantity: quantity}, new(Empty))
}

func (c *CatalogClient) Purchase(ctx context.Context, productID, buyerID int64, quantity int) (*TransactionSummary, error) {
	out := new(TransactionSummary)
	req := &PurchaseRequest{ProductID: productID, BuyerID: buyerID, Quantity: quantity}
	if err := c.invoke(ctx, "Purchase", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CatalogClient) RemoveProduct(ctx context.Context, productID int64) error {
	return c.invoke(ctx, "RemoveProduct", &RemoveProductRequest{ProductID: productID}, new(Empty))
}

func (c *CatalogClient) RegisterUser(ctx context.Context, req *RegisterUserRequest) (*UserSummary, error) {
	out := new(UserSummary)
	if err := c.invoke(ctx, "RegisterUser", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CatalogClient) RemoveUser(ctx context.Context, userID int64) error {
	return c.invoke(ctx, "RemoveUser", &RemoveUserRequest{UserID: userID}, new(Empty))
}

func (c *CatalogClient) TagProduct(ctx context.Context, productID int64, tag string) (*TagSummary, error) {
	out := new(TagSummary)
	if err := c.invoke(ctx, "TagProduct", &TagProductRequest{ProductID: productID, Tag: tag}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CatalogClient) RebuildIndex(ctx context.Context) error {
	return c.invoke(ctx, "RebuildIndex", &Empty{}, new(Empty))
}
