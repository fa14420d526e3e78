package main

import (
	"errors"
	"log"
	"net/http"

	"nftdiarias/src/boot"
	"nftdiarias/src/lib"
	"nftdiarias/src/lifecycle"
	"nftdiarias/src/middlewares"
	"nftdiarias/src/models"
	"nftdiarias/src/types"
	"nftdiarias/src/utils"

	"github.com/gin-gonic/gin"
)

// errorResponse is the one place lifecycle error kinds become status codes.
func errorResponse(err error) (int, gin.H) {
	var lerr *lifecycle.Error
	if !errors.As(err, &lerr) {
		log.Printf("Unexpected error: %s\n", err.Error())
		return http.StatusInternalServerError, gin.H{"error": "something went wrong", "kind": lifecycle.KindInternal}
	}
	status := http.StatusInternalServerError
	switch lerr.Kind {
	case lifecycle.KindInvalidInput:
		status = http.StatusBadRequest
	case lifecycle.KindForbidden:
		status = http.StatusForbidden
	case lifecycle.KindNotFound, lifecycle.KindPropertyNotFound:
		status = http.StatusNotFound
	case lifecycle.KindConflict:
		status = http.StatusConflict
	}
	// chain failures are all 500; kind tells them apart
	body := gin.H{"error": lerr.Message, "kind": lerr.Kind}
	if lerr.Message == "" {
		body["error"] = string(lerr.Kind)
	}
	if lerr.TxHash != "" {
		body["tx"] = lerr.TxHash
	}
	return status, body
}

func respondError(ctx *gin.Context, err error) {
	ctx.JSON(errorResponse(err))
}

// transitionResponse reports a refused transition together with the record it was refused on.
func transitionResponse(ctx *gin.Context, rec *models.Reservation, err error) {
	if err != nil {
		status, body := errorResponse(err)
		if rec != nil {
			body["data"] = rec
		}
		ctx.JSON(status, body)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": rec, "tx": latestTx(rec)})
}

func latestTx(rec *models.Reservation) string {
	switch rec.Status {
	case types.RESERVATION_ACTIVE:
		return rec.PaymentTx
	case types.RESERVATION_CANCELED:
		return rec.CancelTx
	case types.RESERVATION_COMPLETED:
		return rec.CheckoutTx
	}
	return rec.MintTx
}

// resolveTokenURI pins body.Metadata when no tokenURI was given.
func resolveTokenURI(ctx *gin.Context, pinner lib.MetadataPinner, body *types.MintReservationRequestBody) (string, error) {
	if body.TokenURI != "" {
		return body.TokenURI, nil
	}
	if body.Metadata == nil {
		return "", &lifecycle.Error{Kind: lifecycle.KindInvalidInput, Message: "tokenURI or metadata is required"}
	}
	if pinner == nil {
		return "", &lifecycle.Error{Kind: lifecycle.KindInvalidInput, Message: "metadata pinning is not configured; send tokenURI"}
	}
	doc, err := lib.ReservationMetadata(*body.Metadata, body.ImovelID.String(), body.StartDate, body.EndDate, "")
	if err != nil {
		return "", &lifecycle.Error{Kind: lifecycle.KindInvalidInput, Message: "metadata is not encodable", Err: err}
	}
	uri, err := pinner.Pin(ctx, body.Metadata.Name, doc)
	if err != nil {
		log.Printf("Error pinning metadata for property %s: %s\n", body.ImovelID.String(), err.Error())
		return "", &lifecycle.Error{Kind: lifecycle.KindTransient, Message: "could not store metadata", Err: err}
	}
	return uri, nil
}

func reservationHandlers(g *gin.RouterGroup, s *boot.Services) *gin.RouterGroup {
	g.
		POST("/reservas", func(ctx *gin.Context) {
			var body types.MintReservationRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			tokenURI, err := resolveTokenURI(ctx, s.Pinner, &body)
			if err != nil {
				respondError(ctx, err)
				return
			}
			rec, err := s.Manager.Mint(ctx, lifecycle.MintRequest{
				Caller:      ctx.GetString(middlewares.WalletKey),
				PropertyRef: body.ImovelID.String(),
				Guest:       body.GuestWallet,
				Start:       body.StartDate,
				End:         body.EndDate,
				TokenURI:    tokenURI,
			})
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": rec, "tokenId": rec.TokenID, "tx": rec.MintTx})
		}).
		POST("/reservas/metadata", func(ctx *gin.Context) {
			var body types.PinMetadataRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			if s.Pinner == nil {
				ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "metadata pinning is not configured", "kind": lifecycle.KindUnconfigured})
				return
			}
			doc, err := lib.ReservationMetadata(body.TokenMetadata, body.ImovelID.String(), body.StartDate, body.EndDate, body.Address)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			uri, err := s.Pinner.Pin(ctx, body.Name, doc)
			if err != nil {
				log.Printf("Error pinning metadata: %s\n", err.Error())
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not store metadata", "kind": lifecycle.KindTransient})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"tokenURI": uri})
		}).
		POST("/reservas/confirm/:tokenId", func(ctx *gin.Context) {
			var params types.TokenURIParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			rec, err := s.Manager.Confirm(ctx, ctx.GetString(middlewares.WalletKey), params.TokenID)
			transitionResponse(ctx, rec, err)
		}).
		POST("/reservas/cancel/:tokenId", func(ctx *gin.Context) {
			var params types.TokenURIParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			rec, err := s.Manager.Cancel(ctx, ctx.GetString(middlewares.WalletKey), params.TokenID)
			transitionResponse(ctx, rec, err)
		}).
		POST("/reservas/checkout/:tokenId", func(ctx *gin.Context) {
			var params types.TokenURIParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			rec, err := s.Manager.Checkout(ctx, ctx.GetString(middlewares.WalletKey), params.TokenID)
			transitionResponse(ctx, rec, err)
		}).
		GET("/reservas", func(ctx *gin.Context) {
			var query types.ReservationsQueryFilters
			if err := ctx.ShouldBindQuery(&query); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			data, err := s.Manager.List(ctx, lifecycle.ListFilter{
				PropertyRef: query.Property,
				Guest:       query.Guest,
				Status:      query.Status,
			})
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": data, "count": len(data)})
		}).
		GET("/reservas/:tokenId", func(ctx *gin.Context) {
			var params types.TokenURIParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			rec, err := s.Manager.Get(ctx, params.TokenID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": rec})
		}).
		GET("/reservas/:tokenId/sync", func(ctx *gin.Context) {
			var params types.TokenURIParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			if _, err := s.Manager.AuthorizeReservation(ctx, ctx.GetString(middlewares.WalletKey), params.TokenID); err != nil {
				respondError(ctx, err)
				return
			}
			rec, err := s.Reconciler.ReconcileToken(ctx, params.TokenID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": rec})
		}).
		GET("/reservas/:tokenId/qrcode", func(ctx *gin.Context) {
			var params types.TokenURIParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			rec, err := s.Manager.Get(ctx, params.TokenID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			png, err := utils.ReceiptQRCode(rec.TokenURI)
			if err != nil {
				log.Printf("Error rendering QR code for token %s: %s\n", rec.TokenID, err.Error())
				ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": lifecycle.KindNotFound})
				return
			}
			ctx.Data(http.StatusOK, "image/png", png)
		})
	return g
}
