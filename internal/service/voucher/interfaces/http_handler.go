// internal/service/voucher/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"flashdeal/internal/service/voucher/application"
	"flashdeal/internal/service/voucher/domain"
)

const serviceName = "voucher-service"

// VoucherHandler 是秒杀服务的 HTTP 薄层：只做参数解析和错误翻译，
// 没有自己的业务逻辑。
type VoucherHandler struct {
	service *application.SeckillService
}

// NewVoucherHandler 创建一个新的 HTTP 处理器实例。
func NewVoucherHandler(service *application.SeckillService) *VoucherHandler {
	return &VoucherHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *VoucherHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/voucher/seckill", h.seckillHandler)
	mux.HandleFunc("/voucher/publish", h.publishHandler)
	mux.HandleFunc("/voucher/query", h.queryHandler)
	mux.HandleFunc("/voucher/hot", h.hotQueryHandler)
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	ErrMsg  string      `json:"errMsg,omitempty"`
}

func (h *VoucherHandler) seckillHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	ctx, span := otel.Tracer(serviceName).Start(ctx, "api.Seckill")
	defer span.End()

	voucherID, err1 := strconv.ParseInt(r.URL.Query().Get("voucherId"), 10, 64)
	userID, err2 := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{ErrMsg: "voucherId and userId are required"})
		return
	}

	orderID, err := h.service.Seckill(ctx, voucherID, userID)
	if err != nil {
		writeJSON(w, statusFor(err), apiResponse{ErrMsg: err.Error()})
		return
	}

	// 返回的是准入成功，落库由后台 worker 异步完成
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: map[string]int64{"orderId": orderID}})
}

type publishRequest struct {
	VoucherID int64     `json:"voucherId"`
	Title     string    `json:"title"`
	Stock     int       `json:"stock"`
	BeginTime time.Time `json:"beginTime"`
	EndTime   time.Time `json:"endTime"`
}

func (h *VoucherHandler) publishHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{ErrMsg: "invalid request body"})
		return
	}

	err := h.service.PublishVoucher(r.Context(), &domain.SeckillVoucher{
		VoucherID: req.VoucherID,
		Title:     req.Title,
		Stock:     req.Stock,
		BeginTime: req.BeginTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{ErrMsg: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (h *VoucherHandler) queryHandler(w http.ResponseWriter, r *http.Request) {
	h.handleQuery(w, r, h.service.QueryVoucher)
}

func (h *VoucherHandler) hotQueryHandler(w http.ResponseWriter, r *http.Request) {
	h.handleQuery(w, r, h.service.QueryHotVoucher)
}

func (h *VoucherHandler) handleQuery(w http.ResponseWriter, r *http.Request, query func(ctx context.Context, id int64) (*domain.SeckillVoucher, error)) {
	voucherID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{ErrMsg: "id is required"})
		return
	}

	voucher, err := query(r.Context(), voucherID)
	if err != nil {
		writeJSON(w, statusFor(err), apiResponse{ErrMsg: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: voucher})
}

func writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor 把业务性拒绝翻译成 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrStockInsufficient),
		errors.Is(err, domain.ErrDuplicateOrder),
		errors.Is(err, domain.ErrSaleNotStarted),
		errors.Is(err, domain.ErrSaleEnded):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrVoucherNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
