// Package codec turns remote signer requests and responses into signed,
// encrypted kind 24133 envelopes and back. Every function is pure apart from
// randomness and is safe for concurrent use.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/nostr"
)

// EncryptRequest builds an envelope carrying method(params) from local to
// remotePub. The returned correlation id is the request id the response must
// echo.
func EncryptRequest(local model.KeyMaterial, remotePub, method string, params []string) ([]byte, string, error) {
	if params == nil {
		params = []string{}
	}
	req := model.Request{
		ID:     uuid.NewString(),
		Method: method,
		Params: params,
	}
	env, err := seal(local, remotePub, req)
	if err != nil {
		return nil, "", err
	}
	return env, req.ID, nil
}

// DecryptEnvelope opens a response envelope addressed to local. When
// remotePub is empty any author is accepted and reported in Response.Sender.
func DecryptEnvelope(local model.KeyMaterial, remotePub string, envelope []byte) (*model.Response, error) {
	var resp model.Response
	author, err := open(local, remotePub, envelope, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, apperrors.Decode("response has no id", nil)
	}
	resp.Sender = author
	return &resp, nil
}

// EncryptResponse is the signer side of the exchange.
func EncryptResponse(local model.KeyMaterial, remotePub string, resp model.Response) ([]byte, error) {
	return seal(local, remotePub, resp)
}

// DecryptRequest is the signer side of the exchange. It returns the request
// and the public key of the client that sent it.
func DecryptRequest(local model.KeyMaterial, envelope []byte) (*model.Request, string, error) {
	var req model.Request
	author, err := open(local, "", envelope, &req)
	if err != nil {
		return nil, "", err
	}
	if req.ID == "" || req.Method == "" {
		return nil, "", apperrors.Decode("request has no id or method", nil)
	}
	return &req, author, nil
}

func seal(local model.KeyMaterial, recipient string, body any) ([]byte, error) {
	plaintext, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	convKey, err := ConversationKey(local.SecretKey, recipient)
	if err != nil {
		return nil, fmt.Errorf("conversation key: %w", err)
	}
	content, err := Encrypt(string(plaintext), convKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	ev := nostr.NewEnvelope(recipient, content, time.Now())
	if err := ev.Sign(local.SecretKey); err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}

func open(local model.KeyMaterial, expectedAuthor string, envelope []byte, out any) (string, error) {
	ev, err := nostr.ParseEvent(envelope)
	if err != nil {
		return "", apperrors.Decode("invalid envelope", err)
	}
	if ev.Kind != nostr.KindNostrConnect {
		return "", apperrors.Decode(fmt.Sprintf("unexpected kind %d", ev.Kind), nil)
	}
	if p, ok := ev.Tag("p"); !ok || p != local.PublicKey {
		return "", apperrors.Decode("envelope not addressed to this key", nil)
	}
	if expectedAuthor != "" && ev.PubKey != expectedAuthor {
		return "", apperrors.Decode("unexpected envelope author", nil)
	}

	convKey, err := ConversationKey(local.SecretKey, ev.PubKey)
	if err != nil {
		return "", apperrors.Decode("conversation key", err)
	}
	plaintext, err := Decrypt(ev.Content, convKey)
	if err != nil {
		return "", apperrors.Decode("decrypt payload", err)
	}
	if err := json.Unmarshal([]byte(plaintext), out); err != nil {
		return "", apperrors.Decode("malformed payload", err)
	}
	return ev.PubKey, nil
}
