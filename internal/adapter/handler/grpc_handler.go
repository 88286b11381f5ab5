package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/core/service"
	"github.com/rl1809/catalog/internal/obs"
)

const (
	catalogServiceName = "catalog.v1.CatalogService"
	jsonCodecName      = "json"
)

// jsonCodec lets the catalog service speak gRPC without generated protobuf
// messages. Clients select it with the "json" content-subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type SearchRequest struct {
	Term string `json:"term"`
}

type ListUserProductsRequest struct {
	UserID int64 `json:"user_id"`
}

type ListProductsPerTagRequest struct {
	TagID int64 `json:"tag_id"`
}

type AddProductRequest struct {
	UserID      int64           `json:"user_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

type UpdateProductRequest struct {
	ProductID   int64            `json:"product_id"`
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
}

type UpdateStockRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type PurchaseRequest struct {
	ProductID int64 `json:"product_id"`
	BuyerID   int64 `json:"buyer_id"`
	Quantity  int   `json:"quantity"`
}

type RemoveProductRequest struct {
	ProductID int64 `json:"product_id"`
}

type RegisterUserRequest struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	BillingInfo string `json:"billing_info"`
}

type RemoveUserRequest struct {
	UserID int64 `json:"user_id"`
}

type TagProductRequest struct {
	ProductID int64  `json:"product_id"`
	Tag       string `json:"tag"`
}

type ProductList struct {
	Products []ProductSummary `json:"products"`
}

type Empty struct{}

// CatalogServer is the gRPC surface of the catalog.
type CatalogServer interface {
	Search(ctx context.Context, req *SearchRequest) (*ProductList, error)
	ListUserProducts(ctx context.Context, req *ListUserProductsRequest) (*ProductList, error)
	ListProductsPerTag(ctx context.Context, req *ListProductsPerTagRequest) (*ProductList, error)
	AddProduct(ctx context.Context, req *AddProductRequest) (*ProductSummary, error)
	UpdateProduct(ctx context.Context, req *UpdateProductRequest) (*ProductSummary, error)
	UpdateStock(ctx context.Context, req *UpdateStockRequest) (*Empty, error)
	Purchase(ctx context.Context, req *PurchaseRequest) (*TransactionSummary, error)
	RemoveProduct(ctx context.Context, req *RemoveProductRequest) (*Empty, error)
	RegisterUser(ctx context.Context, req *RegisterUserRequest) (*UserSummary, error)
	RemoveUser(ctx context.Context, req *RemoveUserRequest) (*Empty, error)
	TagProduct(ctx context.Context, req *TagProductRequest) (*TagSummary, error)
	RebuildIndex(ctx context.Context, req *Empty) (*Empty, error)
}

type GRPCHandler struct {
	catalog *service.CatalogService
}

func NewGRPCHandler(catalog *service.CatalogService) *GRPCHandler {
	return &GRPCHandler{catalog: catalog}
}

// RegisterCatalogServer attaches srv to s under catalog.v1.CatalogService.
func RegisterCatalogServer(s grpc.ServiceRegistrar, srv CatalogServer) {
	s.RegisterService(&catalogServiceDesc, srv)
}

func (h *GRPCHandler) Search(ctx context.Context, req *SearchRequest) (*ProductList, error) {
	products, err := h.catalog.Search(ctx, req.Term)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProductList{Products: toProductSummaries(products)}, nil
}

func (h *GRPCHandler) ListUserProducts(ctx context.Context, req *ListUserProductsRequest) (*ProductList, error) {
	products, err := h.catalog.ListUserProducts(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProductList{Products: toProductSummaries(products)}, nil
}

func (h *GRPCHandler) ListProductsPerTag(ctx context.Context, req *ListProductsPerTagRequest) (*ProductList, error) {
	products, err := h.catalog.ListProductsPerTag(ctx, req.TagID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProductList{Products: toProductSummaries(products)}, nil
}

func (h *GRPCHandler) AddProduct(ctx context.Context, req *AddProductRequest) (*ProductSummary, error) {
	p, err := h.catalog.AddProduct(ctx, req.UserID, domain.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	out := toProductSummary(*p)
	return &out, nil
}

func (h *GRPCHandler) UpdateProduct(ctx context.Context, req *UpdateProductRequest) (*ProductSummary, error) {
	p, err := h.catalog.UpdateProduct(ctx, req.ProductID, domain.ProductPatch{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	out := toProductSummary(*p)
	return &out, nil
}

func (h *GRPCHandler) UpdateStock(ctx context.Context, req *UpdateStockRequest) (*Empty, error) {
	if err := h.catalog.UpdateStock(ctx, req.ProductID, req.Quantity); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) Purchase(ctx context.Context, req *PurchaseRequest) (*TransactionSummary, error) {
	txn, err := h.catalog.Purchase(ctx, req.ProductID, req.BuyerID, req.Quantity)
	if err != nil {
		return nil, toStatus(err)
	}
	out := toTransactionSummary(*txn)
	return &out, nil
}

func (h *GRPCHandler) RemoveProduct(ctx context.Context, req *RemoveProductRequest) (*Empty, error) {
	if err := h.catalog.RemoveProduct(ctx, req.ProductID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) RegisterUser(ctx context.Context, req *RegisterUserRequest) (*UserSummary, error) {
	u := &domain.User{Name: req.Name, Address: req.Address, BillingInfo: req.BillingInfo}
	if err := h.catalog.RegisterUser(ctx, u); err != nil {
		return nil, toStatus(err)
	}
	out := toUserSummary(*u)
	return &out, nil
}

func (h *GRPCHandler) RemoveUser(ctx context.Context, req *RemoveUserRequest) (*Empty, error) {
	if err := h.catalog.RemoveUser(ctx, req.UserID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) TagProduct(ctx context.Context, req *TagProductRequest) (*TagSummary, error) {
	tag, err := h.catalog.TagProduct(ctx, req.ProductID, req.Tag)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TagSummary{ID: tag.ID, Name: tag.Name}, nil
}

func (h *GRPCHandler) RebuildIndex(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := h.catalog.RebuildIndex(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrIndexUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		obs.Logger.Error("grpc call failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

// LoggingInterceptor logs every unary call with its outcome.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	obs.Logger.Info("grpc request",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

type unaryMethod = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unary[Req, Resp any](method string, call func(CatalogServer, context.Context, *Req) (*Resp, error)) unaryMethod {
	fullMethod := "/" + catalogServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CatalogServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(CatalogServer), ctx, req.(*Req))
		})
	}
}

var catalogServiceDesc = grpc.ServiceDesc{
	ServiceName: catalogServiceName,
	HandlerType: (*CatalogServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Search", Handler: unary("Search", CatalogServer.Search)},
		{MethodName: "ListUserProducts", Handler: unary("ListUserProducts", CatalogServer.ListUserProducts)},
		{MethodName: "ListProductsPerTag", Handler: unary("ListProductsPerTag", CatalogServer.ListProductsPerTag)},
		{MethodName: "AddProduct", Handler: unary("AddProduct", CatalogServer.AddProduct)},
		{MethodName: "UpdateProduct", Handler: unary("UpdateProduct", CatalogServer.UpdateProduct)},
		{MethodName: "UpdateStock", Handler: unary("UpdateStock", CatalogServer.UpdateStock)},
		{MethodName: "Purchase", Handler: unary("Purchase", CatalogServer.Purchase)},
		{MethodName: "RemoveProduct", Handler: unary("RemoveProduct", CatalogServer.RemoveProduct)},
		{MethodName: "RegisterUser", Handler: unary("RegisterUser", CatalogServer.RegisterUser)},
		{MethodName: "RemoveUser", Handler: unary("RemoveUser", CatalogServer.RemoveUser)},
		{MethodName: "TagProduct", Handler: unary("TagProduct", CatalogServer.TagProduct)},
		{MethodName: "RebuildIndex", Handler: unary("RebuildIndex", CatalogServer.RebuildIndex)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "catalog/v1/catalog.proto",
}
