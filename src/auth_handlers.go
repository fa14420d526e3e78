package main

import (
	"log"
	"net/http"

	"nftdiarias/src/boot"

	"github.com/gin-gonic/gin"
)

func authHandlers(g *gin.RouterGroup, s *boot.Services) *gin.RouterGroup {
	g.
		POST("/challenge", func(ctx *gin.Context) {
			message, status, err := s.Auth.Challenge(ctx)
			if err != nil {
				log.Printf("Error on Challenge: %s\n", err.Error())
				ctx.JSON(status, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"message": message})
		}).
		POST("/verify", func(ctx *gin.Context) {
			token, status, err := s.Auth.Verify(ctx)
			if err != nil {
				log.Printf("Error on Verify: %s\n", err.Error())
				ctx.JSON(status, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"token": token})
		})
	return g
}
