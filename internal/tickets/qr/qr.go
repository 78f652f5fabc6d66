// Package qr renders ticket QR codes and reads them back at the gate. The
// code carries an AES-GCM sealed payload so a forged or edited code fails to
// open instead of resolving to someone else's ticket.
package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"

	"ms-checkin/internal/models"
)

// payloadPrefix marks scanner text produced by this package.
const payloadPrefix = "TKT1."

var ErrNotPayload = errors.New("not a ticket QR payload")

type Payload struct {
	TicketNumber string `json:"n"`
	EventID      string `json:"e"`
}

type QRGenerator struct {
	aead cipher.AEAD
	size int
}

func NewQRGenerator(secret string) (*QRGenerator, error) {
	if secret == "" {
		return nil, errors.New("QR secret key is empty")
	}
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &QRGenerator{aead: aead, size: 256}, nil
}

// Encode returns the text a scanner reads off the ticket's QR code.
func (q *QRGenerator) Encode(ticket models.Ticket) (string, error) {
	data, err := json.Marshal(Payload{TicketNumber: ticket.Number, EventID: ticket.EventID})
	if err != nil {
		return "", err
	}

	nonce := make([]byte, q.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := q.aead.Seal(nonce, nonce, data, nil)
	return payloadPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// GenerateEncryptedQR renders the ticket's QR code as a PNG.
func (q *QRGenerator) GenerateEncryptedQR(ticket models.Ticket) ([]byte, error) {
	text, err := q.Encode(ticket)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(text, qrcode.Medium, q.size)
}

// Decode opens scanner text produced by Encode. Text without the payload
// prefix returns ErrNotPayload so callers can treat it as a typed number.
func (q *QRGenerator) Decode(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, payloadPrefix) {
		return Payload{}, ErrNotPayload
	}

	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, payloadPrefix))
	if err != nil {
		return Payload{}, fmt.Errorf("decode QR payload: %w", err)
	}
	ns := q.aead.NonceSize()
	if len(sealed) < ns {
		return Payload{}, errors.New("QR payload too short")
	}
	data, err := q.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return Payload{}, fmt.Errorf("open QR payload: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("parse QR payload: %w", err)
	}
	return p, nil
}
