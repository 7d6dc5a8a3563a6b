package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

type placeOrderRequest struct {
	ShippingAddress types.Address `json:"shippingAddress"`
	PaymentMethod   string        `json:"paymentMethod" validate:"required,max=64"`
	Notes           *string       `json:"notes" validate:"omitempty,max=2000"`
}

type orderStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type paymentStatusRequest struct {
	Status          string  `json:"status" validate:"required"`
	PaymentIntentID *string `json:"paymentIntentId" validate:"omitempty,max=255"`
}

type vendorOrderStatusRequest struct {
	Status            string     `json:"status" validate:"required"`
	TrackingNumber    *string    `json:"trackingNumber" validate:"omitempty,max=128"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
}

var orderDetail = query.Include{
	Relation: "vendorOrders",
	Include:  []query.Include{{Relation: "items"}},
}

// visibleOrder hides orders the caller neither placed nor administers.
func visibleOrder(p middleware.Principal, order *models.Order) bool {
	return p.Is(enums.ActorRoleAdmin) || (p.Is(enums.ActorRoleCustomer) && order.CustomerID == p.SubjectID)
}

func OrderPlace(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload placeOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.PlaceOrder(r.Context(), orders.PlaceOrderInput{
			CustomerID:      p.SubjectID,
			ShippingAddress: payload.ShippingAddress,
			PaymentMethod:   payload.PaymentMethod,
			Notes:           payload.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// OrderList returns the caller's orders. Vendors get their vendor orders;
// admins pick a customer or vendor with ?customerId or ?vendorId.
func OrderList(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		args, err := pageArgs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			args.Where = query.Eq("status", status).Ptr()
		}

		customerID, vendorID := &p.SubjectID, p.VendorID
		switch p.Role {
		case enums.ActorRoleCustomer:
			vendorID = nil
		case enums.ActorRoleVendor:
			customerID = nil
		case enums.ActorRoleAdmin:
			if customerID, err = validators.ParseQueryUUID(r, "customerId"); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if vendorID, err = validators.ParseQueryUUID(r, "vendorId"); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		switch {
		case customerID != nil:
			list, err := svc.ListForCustomer(r.Context(), *customerID, args)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, list)
		case vendorID != nil:
			list, err := svc.ListForVendor(r.Context(), *vendorID, args)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, list)
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "customerId or vendorId is required"))
		}
	}
}

func OrderGet(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.PathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), id, orderDetail)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !visibleOrder(p, order) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.NotFound("Order"))
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// OrderTransition moves an order through its lifecycle. Customers may only
// cancel their own orders.
func OrderTransition(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.PathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload orderStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		if !p.Is(enums.ActorRoleAdmin) {
			current, err := svc.Get(r.Context(), id)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if !visibleOrder(p, current) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.NotFound("Order"))
				return
			}
			if status != enums.OrderStatusCancelled {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "customers may only cancel orders"))
				return
			}
		}

		order, err := svc.TransitionOrder(r.Context(), orders.TransitionInput{
			OrderID: id,
			To:      status,
			Reason:  validators.SanitizeString(payload.Reason, 500),
			Actor:   actorRef(p),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func OrderPaymentStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.PathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload paymentStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParsePaymentStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status"))
			return
		}
		order, err := svc.UpdatePaymentStatus(r.Context(), orders.PaymentInput{
			OrderID:         id,
			To:              status,
			PaymentIntentID: payload.PaymentIntentID,
			Actor:           actorRef(p),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func OrderDelete(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.PathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

func VendorOrderGet(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.PathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		vendorOrder, err := svc.GetVendorOrder(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !p.OwnsVendor(vendorOrder.VendorID) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.NotFound("VendorOrder"))
			return
		}
		responses.WriteSuccess(w, vendorOrder)
	}
}

// VendorOrderTransition lets a vendor fulfil its share of an order.
func VendorOrderTransition(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.PathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload vendorOrderStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		input := orders.VendorTransitionInput{
			VendorOrderID:     id,
			To:                status,
			TrackingNumber:    payload.TrackingNumber,
			EstimatedDelivery: payload.EstimatedDelivery,
			Actor:             actorRef(p),
		}
		if !p.Is(enums.ActorRoleAdmin) {
			input.VendorID = p.VendorID
		}
		vendorOrder, err := svc.TransitionVendorOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, vendorOrder)
	}
}
