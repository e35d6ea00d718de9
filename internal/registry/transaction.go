package registry

import (
	"crypto/ecdsa"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
)

const payloadTypeIssue = "IssueCommand"

const (
	attributeFuelCode = "fuel_code"
	attributeTechCode = "tech_code"
)

// ErrUnknownGridArea is returned when no issuer key is configured for the
// certificate's grid area.
var ErrUnknownGridArea = errors.New("no issuer key for grid area")

type FederatedStreamID struct {
	Registry string    `json:"registry"`
	StreamID uuid.UUID `json:"streamId"`
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type QuantityCommitment struct {
	Commitment []byte `json:"commitment"`
	RangeProof []byte `json:"rangeProof"`
}

// IssuePayload is the body of an issue transaction.
type IssuePayload struct {
	Type               contract.MeterType `json:"type"`
	Period             interval.Interval  `json:"period"`
	GridArea           string             `json:"gridArea"`
	QuantityCommitment QuantityCommitment `json:"quantityCommitment"`
	OwnerPublicKey     []byte             `json:"ownerPublicKey"`
	Attributes         []Attribute        `json:"attributes"`
}

type Header struct {
	FederatedStreamID FederatedStreamID `json:"federatedStreamId"`
	PayloadType       string            `json:"payloadType"`
	PayloadSHA512     []byte            `json:"payloadSha512"`
	Nonce             string            `json:"nonce"`
}

// Transaction is a signed header plus the encoded payload it commits to.
type Transaction struct {
	Header          Header `json:"header"`
	HeaderSignature []byte `json:"headerSignature"`
	Payload         []byte `json:"payload"`
}

// ID is the Keccak-256 hex digest of the encoded transaction.
func (t Transaction) ID() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	return crypto.Keccak256Hash(raw).Hex(), nil
}

// IssueRequest is what the submission stage knows about a certificate.
type IssueRequest struct {
	CertificateID  uuid.UUID
	MeterType      contract.MeterType
	Period         interval.Interval
	GridArea       string
	Commitment     []byte
	RangeProof     []byte
	OwnerPublicKey []byte
	Technology     *contract.Technology
}

// Issuer signs issue transactions with the key of the certificate's grid area.
type Issuer struct {
	registry string
	keys     map[string]*ecdsa.PrivateKey
}

func NewIssuer(registry string, keys map[string]*ecdsa.PrivateKey) *Issuer {
	return &Issuer{registry: registry, keys: keys}
}

// Registry is the name used in federated stream ids.
func (i *Issuer) Registry() string {
	return i.registry
}

// ParseIssuerKeys decodes hex secp256k1 private keys keyed by grid area.
func ParseIssuerKeys(hexKeys map[string]string) (map[string]*ecdsa.PrivateKey, error) {
	keys := make(map[string]*ecdsa.PrivateKey, len(hexKeys))
	for area, hexKey := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("issuer key for %s: %w", area, err)
		}
		keys[area] = key
	}
	return keys, nil
}

// BuildIssueTransaction encodes and signs the issue transaction for req. The
// result depends only on req, so a redelivered request yields the same id.
func (i *Issuer) BuildIssueTransaction(req IssueRequest) (Transaction, error) {
	key, ok := i.keys[req.GridArea]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %s", ErrUnknownGridArea, req.GridArea)
	}

	payload, err := json.Marshal(IssuePayload{
		Type:     req.MeterType,
		Period:   req.Period,
		GridArea: req.GridArea,
		QuantityCommitment: QuantityCommitment{
			Commitment: req.Commitment,
			RangeProof: req.RangeProof,
		},
		OwnerPublicKey: req.OwnerPublicKey,
		Attributes:     attributesFor(req.MeterType, req.Technology),
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("encode issue payload: %w", err)
	}

	digest := sha512.Sum512(payload)
	header := Header{
		FederatedStreamID: FederatedStreamID{Registry: i.registry, StreamID: req.CertificateID},
		PayloadType:       payloadTypeIssue,
		PayloadSHA512:     digest[:],
		Nonce:             req.CertificateID.String(),
	}
	signature, err := signHeader(header, key)
	if err != nil {
		return Transaction{}, err
	}

	return Transaction{Header: header, HeaderSignature: signature, Payload: payload}, nil
}

// VerifyHeader checks that tx was signed by pub.
func VerifyHeader(tx Transaction, pub *ecdsa.PublicKey) bool {
	raw, err := json.Marshal(tx.Header)
	if err != nil || len(tx.HeaderSignature) != crypto.SignatureLength {
		return false
	}
	return crypto.VerifySignature(crypto.FromECDSAPub(pub), crypto.Keccak256(raw), tx.HeaderSignature[:crypto.RecoveryIDOffset])
}

func signHeader(header Header, key *ecdsa.PrivateKey) ([]byte, error) {
	raw, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	sig, err := crypto.Sign(crypto.Keccak256(raw), key)
	if err != nil {
		return nil, fmt.Errorf("sign header: %w", err)
	}
	return sig, nil
}

// attributesFor returns technology attributes for production meters only.
func attributesFor(meterType contract.MeterType, tech *contract.Technology) []Attribute {
	if meterType != contract.MeterTypeProduction || tech == nil {
		return []Attribute{}
	}
	return []Attribute{
		{Key: attributeFuelCode, Value: tech.FuelCode},
		{Key: attributeTechCode, Value: tech.TechCode},
	}
}
