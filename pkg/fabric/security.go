package fabric

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/security"
)

// securityState holds the fabric's secure-messaging configuration: the
// AEAD encryption service backing the envelope, per-agent HMAC keys, and
// the set of senders authorized to use SendSecure.
type securityState struct {
	enabled    bool
	encryption *security.EncryptionService
	authKeys   map[string][]byte
	authorized map[string]bool
}

// EnableSecurity turns on secure messaging. If key is nil, a random 256-bit
// key is generated and returned. The key seeds an AES-256-GCM encryption
// service (pkg/security) used by SendSecure/ReceiveSecureMessage in place of
// a bare encoding.
func (f *Fabric) EnableSecurity(key []byte) ([]byte, error) {
	if key == nil {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, awcperrors.Wrap(err, awcperrors.Unavailable, "generate encryption key")
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.security = &securityState{
		enabled:    true,
		encryption: security.NewEncryptionService(hex.EncodeToString(key)),
		authKeys:   make(map[string][]byte),
		authorized: make(map[string]bool),
	}
	return key, nil
}

// DisableSecurity turns off secure messaging and discards the encryption
// service and authorization state.
func (f *Fabric) DisableSecurity() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.security = nil
}

// RegisterAuthKey registers the HMAC signing key used to authenticate
// agentID's secure messages.
func (f *Fabric) RegisterAuthKey(agentID string, authKey []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.security == nil {
		f.security = &securityState{authKeys: make(map[string][]byte), authorized: make(map[string]bool)}
	}
	f.security.authKeys[agentID] = authKey
}

// AuthorizeSender adds senderID to the set of agents allowed to use
// SendSecure.
func (f *Fabric) AuthorizeSender(senderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.security == nil {
		f.security = &securityState{authKeys: make(map[string][]byte), authorized: make(map[string]bool)}
	}
	f.security.authorized[senderID] = true
}

// RevokeSender removes senderID from the authorized senders set.
func (f *Fabric) RevokeSender(senderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.security != nil {
		delete(f.security.authorized, senderID)
	}
}

// secureEnvelope is the signed payload sealed by SendSecure, keyed so the
// signature covers deterministic JSON (Go marshals map keys sorted, matching
// the canonical form used on both ends).
type secureEnvelope struct {
	Sender    string                 `json:"sender"`
	Type      string                 `json:"message_type"`
	Content   interface{}            `json:"content"`
	Timestamp string                 `json:"timestamp"`
	Signature string                 `json:"signature,omitempty"`
}

// SendSecure signs content with sender's registered auth key, encrypts the
// signed envelope with AES-256-GCM, and delivers it as a "secure_message"
// with encrypted/requires_auth metadata.
func (f *Fabric) SendSecure(ctx context.Context, recipient interface{}, messageType string, content interface{}, sender string) Delivery {
	f.mu.RLock()
	sec := f.security
	f.mu.RUnlock()

	if sec == nil || !sec.enabled {
		return Delivery{Status: StatusFailed, Error: "security not enabled"}
	}
	if sender == "" {
		return Delivery{Status: StatusFailed, Error: "sender id required for secure messages"}
	}

	f.mu.RLock()
	authorized := sec.authorized[sender]
	authKey := sec.authKeys[sender]
	f.mu.RUnlock()
	if !authorized {
		return Delivery{Status: StatusFailed, Error: "sender not authorized"}
	}

	envelope := secureEnvelope{Sender: sender, Type: messageType, Content: content, Timestamp: nowRFC3339()}
	signature, err := signEnvelope(envelope, authKey)
	if err != nil {
		return Delivery{Status: StatusFailed, Error: err.Error()}
	}
	envelope.Signature = signature

	encrypted, err := sec.encryption.EncryptJSON(envelope, sender)
	if err != nil {
		return Delivery{Status: StatusFailed, Error: fmt.Sprintf("encrypt secure envelope: %v", err)}
	}

	metadata := map[string]interface{}{"encrypted": true, "requires_auth": true}
	return f.Send(ctx, recipient, "secure_message", encrypted, sender, metadata)
}

// ReceiveSecureMessage decrypts and verifies a secure envelope received
// from sender, returning its content. It fails closed: any decryption,
// identity, or signature mismatch returns an Integrity error and no
// content.
func (f *Fabric) ReceiveSecureMessage(sender, encryptedContent string) (interface{}, error) {
	f.mu.RLock()
	sec := f.security
	f.mu.RUnlock()

	if sec == nil || !sec.enabled {
		return nil, awcperrors.New(awcperrors.PolicyDenied, "security not enabled")
	}

	var envelope secureEnvelope
	if err := sec.encryption.DecryptJSON(encryptedContent, sender, &envelope); err != nil {
		return nil, awcperrors.Wrap(err, awcperrors.Integrity, "decrypt secure envelope")
	}

	if envelope.Sender != sender {
		return nil, awcperrors.New(awcperrors.Integrity, "envelope sender does not match claimed sender")
	}

	f.mu.RLock()
	authKey, hasKey := sec.authKeys[sender]
	f.mu.RUnlock()

	if !hasKey {
		return nil, awcperrors.New(awcperrors.Integrity, "no auth key registered for sender")
	}
	if hasKey {
		signature := envelope.Signature
		envelope.Signature = ""
		expected, err := signEnvelope(envelope, authKey)
		if err != nil {
			return nil, awcperrors.Wrap(err, awcperrors.Integrity, "compute expected signature")
		}
		if signature == "" || !hmac.Equal([]byte(signature), []byte(expected)) {
			return nil, awcperrors.New(awcperrors.Integrity, "signature verification failed")
		}
	}

	return envelope.Content, nil
}

// signEnvelope computes the hex HMAC-SHA256 of env's canonical JSON
// encoding. Go's encoding/json marshals map keys in sorted order, giving the
// same canonical form on both the signing and verifying side without a
// bespoke serializer.
func signEnvelope(env secureEnvelope, authKey []byte) (string, error) {
	canonical, err := canonicalJSON(env)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, authKey)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// canonicalJSON re-marshals v through a generic map so that struct field
// order never leaks into the signed bytes, mirroring the source's
// json.dumps(message, sort_keys=True).
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(generic))
	for k := range generic {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, len(raw))
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		keyJSON, _ := json.Marshal(k)
		valJSON, err := json.Marshal(generic[k])
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, keyJSON...)
		ordered = append(ordered, ':')
		ordered = append(ordered, valJSON...)
	}
	ordered = append(ordered, '}')
	return ordered, nil
}

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func base64Decode(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
