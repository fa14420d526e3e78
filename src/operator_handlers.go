package main

import (
	"net/http"

	"nftdiarias/src/boot"
	"nftdiarias/src/lifecycle"
	"nftdiarias/src/middlewares"
	"nftdiarias/src/types"

	"github.com/gin-gonic/gin"
)

func operatorHandlers(g *gin.RouterGroup, s *boot.Services) *gin.RouterGroup {
	g.
		POST("/gestores/:propertyId/operadores", func(ctx *gin.Context) {
			var params types.PropertyURIParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			var body types.SetOperatorRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": lifecycle.KindInvalidInput})
				return
			}
			receipt, err := s.Manager.SetOperator(ctx, ctx.GetString(middlewares.WalletKey), params.PropertyID, body.Operator, *body.Approved)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"tx": receipt.TxHash, "operador": body.Operator, "aprovado": *body.Approved})
		})
	return g
}
