package controller

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/PixelMoon99/storefront-payments/app/factory"
	"github.com/PixelMoon99/storefront-payments/app/mapper"
	"github.com/PixelMoon99/storefront-payments/app/metrics"
	"github.com/PixelMoon99/storefront-payments/app/service"
	"github.com/PixelMoon99/storefront-payments/app/types"
)

type PaymentController struct {
	paymentService *service.PaymentService
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) CreateTopUp(ctx echo.Context) error {
	req, err := types.NewCreateTopUpRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.CreateTopUp(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrGatewayUnsupported):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrTransactionExists):
			return c.writeError(ctx, http.StatusConflict, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Create top-up failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.TransactionEnvelopeResponse{Transaction: mapper.TransactionToAPI(item)})
}

func (c *PaymentController) GetTopUp(ctx echo.Context) error {
	req, err := types.NewGetTopUpRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetTopUp(ctx.Request().Context(), req.Id)
	if err != nil {
		if errors.Is(err, service.ErrTransactionNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "transaction not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get top-up failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.TransactionEnvelopeResponse{Transaction: mapper.TransactionToAPI(item)})
}

// HandleGatewayWebhook is the raw-body ingress for gateway
// notifications. The body is captured unparsed because the gateways
// sign the exact byte sequence they sent; no JSON middleware may touch
// this route first.
func (c *PaymentController) HandleGatewayWebhook(ctx echo.Context) error {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "unreadable request body")
	}

	start := time.Now()
	result, err := c.paymentService.HandleGatewayWebhook(ctx.Request().Context(), rawBody, ctx.Request().Header)

	gatewayLabel := "unknown"
	if result != nil {
		gatewayLabel = result.Gateway
	}
	metrics.WebhookDuration.WithLabelValues(gatewayLabel).Observe(time.Since(start).Seconds())

	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownGateway):
			return c.writeError(ctx, http.StatusBadRequest, "unknown gateway")
		case errors.Is(err, service.ErrSignatureRejected), errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Handle gateway webhook failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{
		Message: "Webhook processed",
		Outcome: string(result.Outcome),
	})
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
