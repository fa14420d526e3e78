package utils

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"nftdiarias/src/lib/chain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/yeqown/go-qrcode"
)

const IPFS_GATEWAY = "https://ipfs.io/ipfs/"

// IPFSToHTTP rewrites ipfs:// URIs to the public gateway. Other URIs are returned unchanged.
func IPFSToHTTP(uri string) string {
	trimmed := strings.TrimSpace(uri)
	if rest, ok := strings.CutPrefix(trimmed, "ipfs://"); ok {
		return IPFS_GATEWAY + strings.TrimPrefix(rest, "ipfs/")
	}
	return trimmed
}

// ReceiptQRCode renders a PNG QR code pointing at the reservation's metadata.
func ReceiptQRCode(tokenURI string) ([]byte, error) {
	target := IPFSToHTTP(tokenURI)
	if target == "" {
		return nil, fmt.Errorf("reservation has no token uri")
	}
	qrc, err := qrcode.New(target, qrcode.WithBuiltinImageEncoder(qrcode.PNG_FORMAT))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := qrc.SaveTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var registerOnce sync.Once

// RegisterValidators adds the custom binding tags used by request bodies.
func RegisterValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterValidation("ethaddr", func(fl validator.FieldLevel) bool {
				return chain.IsAddress(fl.Field().String())
			})
		}
	})
}
