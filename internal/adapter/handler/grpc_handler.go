package handler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const LedgerServiceName = "stockledger.v1.InventoryLedger"

// InventoryLedgerServer is the gRPC surface of the ledger. Messages are
// google.protobuf.Struct values carrying the same fields as the JSON API.
type InventoryLedgerServer interface {
	CheckIn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CheckOut(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	AdjustQuantity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Transfer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	WriteOff(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	PhysicalCountAdjustment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetRecord(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Locate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListMovements(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	TotalQuantity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv InventoryLedgerServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InventoryLedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + LedgerServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(InventoryLedgerServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: LedgerServiceName,
	HandlerType: (*InventoryLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CheckIn", InventoryLedgerServer.CheckIn),
		unaryMethod("CheckOut", InventoryLedgerServer.CheckOut),
		unaryMethod("AdjustQuantity", InventoryLedgerServer.AdjustQuantity),
		unaryMethod("Transfer", InventoryLedgerServer.Transfer),
		unaryMethod("WriteOff", InventoryLedgerServer.WriteOff),
		unaryMethod("PhysicalCountAdjustment", InventoryLedgerServer.PhysicalCountAdjustment),
		unaryMethod("Delete", InventoryLedgerServer.Delete),
		unaryMethod("GetRecord", InventoryLedgerServer.GetRecord),
		unaryMethod("Locate", InventoryLedgerServer.Locate),
		unaryMethod("ListMovements", InventoryLedgerServer.ListMovements),
		unaryMethod("TotalQuantity", InventoryLedgerServer.TotalQuantity),
	},
	Streams: []grpc.StreamDesc{},
}

type GRPCHandler struct {
	ledger *service.LedgerService
	logger *zap.Logger
}

func NewGRPCHandler(ledger *service.LedgerService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{ledger: ledger, logger: logger}
}

func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&ledgerServiceDesc, h)
}

func (h *GRPCHandler) CheckIn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CheckInRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	rec, err := h.ledger.CheckIn(ctx, req.command(actorFrom(ctx)))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return encodeStruct(toRecordResponse(rec))
}

func (h *GRPCHandler) CheckOut(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CheckOutRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	rec, err := h.ledger.CheckOut(ctx, req.command(actorFrom(ctx)))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return encodeStruct(toRecordResponse(rec))
}

func (h *GRPCHandler) AdjustQuantity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req AdjustRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	rec, err := h.ledger.AdjustQuantity(ctx, req.command(actorFrom(ctx)))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return encodeStruct(toRecordResponse(rec))
}

func (h *GRPCHandler) Transfer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TransferRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	res, err := h.ledger.Transfer(ctx, req.command(actorFrom(ctx)))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return encodeStruct(TransferResponse{
		TransferID: res.TransferID,
		Source:     toRecordResponse(res.Source),
		Target:     toRecordResponse(res.Target),
	})
}

func (h *GRPCHandler) WriteOff(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req WriteOffRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	rec, err := h.ledger.WriteOff(ctx, req.command(actorFrom(ctx)))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return encodeStruct(toRecordResponse(rec))
}

func (h *GRPCHandler) PhysicalCountAdjustment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PhysicalCountRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	rec, err := h.ledger.PhysicalCountAdjustment(ctx, req.command(actorFrom(ctx)))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return encodeStruct(toRecordResponse(rec))
}

func (h *GRPCHandler) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		RequestID string `json:"request_id"`
		ID        string `json:"id"`
	}
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	err := h.ledger.Delete(ctx, service.DeleteCommand{RequestID: req.RequestID, Actor: actorFrom(ctx), ID: req.ID})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return encodeStruct(map[string]any{"deleted": true, "id": req.ID})
}

func (h *GRPCHandler) GetRecord(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	rec, err := h.ledger.FindByID(ctx, req.ID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return encodeStruct(toRecordResponse(rec))
}

func (h *GRPCHandler) Locate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		WarehouseID string `json:"warehouse_id"`
		VariantID   string `json:"variant_id"`
		UnitID      string `json:"unit_id"`
		Status      string `json:"status"`
		Batch       string `json:"batch"`
	}
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	rec, err := h.ledger.Locate(ctx, service.LocateQuery{
		WarehouseID: req.WarehouseID,
		VariantID:   req.VariantID,
		UnitID:      req.UnitID,
		Status:      domain.InventoryStatus(req.Status),
		Batch:       req.Batch,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	if rec == nil {
		return encodeStruct(map[string]any{"found": false})
	}
	return encodeStruct(map[string]any{"found": true, "record": toRecordResponse(*rec)})
}

func (h *GRPCHandler) ListMovements(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		RecordID string `json:"record_id"`
		Limit    int    `json:"limit"`
		Offset   int    `json:"offset"`
	}
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	page := domain.PageRequest{Limit: req.Limit, Offset: req.Offset}
	res, err := h.ledger.ListMovements(ctx, req.RecordID, page)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return encodeStruct(toMovementPage(res, page))
}

func (h *GRPCHandler) TotalQuantity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		WarehouseID string `json:"warehouse_id"`
		VariantID   string `json:"variant_id"`
		UnitID      string `json:"unit_id"`
		Status      string `json:"status"`
	}
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	total, err := h.ledger.TotalQuantity(ctx, req.WarehouseID, req.VariantID, req.UnitID, domain.InventoryStatus(req.Status))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return encodeStruct(map[string]any{"total": total})
}

func (h *GRPCHandler) toStatus(err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		h.logger.Error("rpc failed", zap.Error(err))
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrAttributeMismatch),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrExpiredStock),
		errors.Is(err, domain.ErrNonZeroStockDeletion),
		errors.Is(err, domain.ErrNoAdjustmentNeeded):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrDuplicateRequest):
		return codes.AlreadyExists
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}

func decodeStruct(in *structpb.Struct, out any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func actorFrom(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("x-actor"); len(v) > 0 {
		return v[0]
	}
	return ""
}
