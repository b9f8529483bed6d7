// Package crypto implements hashing, key generation and Ethereum wallet
// helpers.
package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
)

var (
	ErrMissingInput      = errors.New("Missing input for hash operation")
	ErrMissingHMACInput  = errors.New("Missing data or key for HMAC operation")
	ErrMissingMnemonic   = errors.New("Missing mnemonic phrase")
	ErrMissingPrivateKey = errors.New("Missing private key")
	ErrMissingKeccak     = errors.New("Missing data for keccak256 hash")
	ErrMissingAddress    = errors.New("Missing address for balance query")
	ErrUnsupported       = errors.New("Unsupported algorithm")
)

const (
	defaultRandomLength = 32
	maxRandomLength     = 1 << 16
	rsaBits             = 2048
)

// DerivationPath is the first account of the standard Ethereum BIP-44 tree.
var DerivationPath = hdwallet.MustParseDerivationPath("m/44'/60'/0'/0/0")

var hashes = map[string]func() hash.Hash{
	"sha1":      sha1.New,
	"sha256":    sha256.New,
	"sha512":    sha512.New,
	"sha3-256":  sha3.New256,
	"keccak256": sha3.NewLegacyKeccak256,
	"blake3":    func() hash.Hash { return blake3.New() },
}

func hasher(algorithm string) (string, func() hash.Hash, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = "sha256"
	}
	h, ok := hashes[algorithm]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupported, algorithm)
	}
	return algorithm, h, nil
}

type Manager struct {
	defaultRPC string

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

func New(defaultRPC string) *Manager {
	return &Manager{defaultRPC: defaultRPC, clients: make(map[string]*ethclient.Client)}
}

func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"cryptoHash":                 bridge.Typed(m.Hash),
		"cryptoGenerateKeyPair":      bridge.NoInput(m.GenerateKeyPair),
		"cryptoGenerateRandomBytes":  bridge.Typed(m.GenerateRandomBytes),
		"cryptoHmac":                 bridge.Typed(m.HMAC),
		"cryptoCreateWallet":         bridge.NoInput(m.CreateWallet),
		"cryptoWalletFromMnemonic":   bridge.Typed(m.WalletFromMnemonic),
		"cryptoWalletFromPrivateKey": bridge.Typed(m.WalletFromPrivateKey),
		"cryptoValidateAddress":      bridge.Typed(m.ValidateAddress),
		"cryptoKeccak256":            bridge.Typed(m.Keccak256),
		"cryptoGetLatestBlock":       bridge.Typed(m.LatestBlock),
		"cryptoGetBalance":           bridge.Typed(m.Balance),
	}
}

// Close drops every cached RPC client.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for url, c := range m.clients {
		c.Close()
		delete(m.clients, url)
	}
}

type hashIn struct {
	Input     string `json:"input"`
	Algorithm string `json:"algorithm"`
}

func (m *Manager) Hash(ctx context.Context, in hashIn) (bridge.Result, error) {
	if in.Input == "" {
		return bridge.Result{}, ErrMissingInput
	}
	algorithm, newHash, err := hasher(in.Algorithm)
	if err != nil {
		return bridge.Result{}, err
	}
	h := newHash()
	h.Write([]byte(in.Input))
	return bridge.Success(nil).
		With("hash", hex.EncodeToString(h.Sum(nil))).
		With("algorithm", algorithm), nil
}

// GenerateKeyPair returns an RSA-2048 pair as SPKI and PKCS#8 PEM.
func (m *Manager) GenerateKeyPair(ctx context.Context) (bridge.Result, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return bridge.Result{}, fmt.Errorf("generate rsa key: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return bridge.Result{}, err
	}
	priv, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return bridge.Result{}, err
	}
	return bridge.Success(nil).
		With("publicKey", string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}))).
		With("privateKey", string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: priv}))), nil
}

type randomIn struct {
	Length bridge.Int `json:"length"`
}

func (m *Manager) GenerateRandomBytes(ctx context.Context, in randomIn) (bridge.Result, error) {
	n := defaultRandomLength
	if in.Length.Set && in.Length.Value != 0 {
		n = in.Length.Value
	}
	if n < 1 || n > maxRandomLength {
		return bridge.Result{}, fmt.Errorf("Invalid length. Must be between 1 and %d.", maxRandomLength)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return bridge.Result{}, err
	}
	return bridge.Success(nil).With("bytes", hex.EncodeToString(buf)).With("length", n), nil
}

type hmacIn struct {
	Data      string `json:"data"`
	Key       string `json:"key"`
	Algorithm string `json:"algorithm"`
}

func (m *Manager) HMAC(ctx context.Context, in hmacIn) (bridge.Result, error) {
	if in.Data == "" || in.Key == "" {
		return bridge.Result{}, ErrMissingHMACInput
	}
	algorithm, newHash, err := hasher(in.Algorithm)
	if err != nil {
		return bridge.Result{}, err
	}
	mac := hmac.New(newHash, []byte(in.Key))
	mac.Write([]byte(in.Data))
	return bridge.Success(nil).
		With("hmac", hex.EncodeToString(mac.Sum(nil))).
		With("algorithm", algorithm), nil
}

func walletResult(w *hdwallet.Wallet) (bridge.Result, error) {
	account, err := w.Derive(DerivationPath, false)
	if err != nil {
		return bridge.Result{}, fmt.Errorf("derive account: %w", err)
	}
	keyHex, err := w.PrivateKeyHex(account)
	if err != nil {
		return bridge.Result{}, err
	}
	return bridge.Success(nil).
		With("address", account.Address.Hex()).
		With("privateKey", "0x"+keyHex), nil
}

// CreateWallet makes a fresh 12-word mnemonic and its first account.
func (m *Manager) CreateWallet(ctx context.Context) (bridge.Result, error) {
	mnemonic, err := hdwallet.NewMnemonic(128)
	if err != nil {
		return bridge.Result{}, err
	}
	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return bridge.Result{}, err
	}
	res, err := walletResult(w)
	if err != nil {
		return res, err
	}
	return res.With("mnemonic", mnemonic), nil
}

type mnemonicIn struct {
	Mnemonic string `json:"mnemonic"`
}

func (m *Manager) WalletFromMnemonic(ctx context.Context, in mnemonicIn) (bridge.Result, error) {
	phrase := strings.Join(strings.Fields(in.Mnemonic), " ")
	if phrase == "" {
		return bridge.Result{}, ErrMissingMnemonic
	}
	w, err := hdwallet.NewFromMnemonic(phrase)
	if err != nil {
		return bridge.Result{}, fmt.Errorf("invalid mnemonic: %w", err)
	}
	return walletResult(w)
}

type privateKeyIn struct {
	PrivateKey string `json:"privateKey"`
}

func (m *Manager) WalletFromPrivateKey(ctx context.Context, in privateKeyIn) (bridge.Result, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(in.PrivateKey), "0x")
	if raw == "" {
		return bridge.Result{}, ErrMissingPrivateKey
	}
	key, err := ethcrypto.HexToECDSA(raw)
	if err != nil {
		return bridge.Result{}, fmt.Errorf("invalid private key: %w", err)
	}
	return bridge.Success(nil).
		With("address", ethcrypto.PubkeyToAddress(key.PublicKey).Hex()).
		With("privateKey", hexutil.Encode(ethcrypto.FromECDSA(key))), nil
}

type addressIn struct {
	Address string `json:"address"`
	RPCURL  string `json:"rpcUrl"`
}

// IsAddress accepts 0x-prefixed 20-byte hex. Mixed-case input must carry a
// valid EIP-55 checksum.
func IsAddress(s string) bool {
	if !common.IsHexAddress(s) || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return false
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(s).Hex() == s
}

func (m *Manager) ValidateAddress(ctx context.Context, in addressIn) (bridge.Result, error) {
	addr := strings.TrimSpace(in.Address)
	valid := IsAddress(addr)
	var checksum any
	if valid {
		checksum = common.HexToAddress(addr).Hex()
	}
	return bridge.Success(nil).With("isValid", valid).With("checksumAddress", checksum), nil
}

type keccakIn struct {
	Input string `json:"input"`
}

func (m *Manager) Keccak256(ctx context.Context, in keccakIn) (bridge.Result, error) {
	if in.Input == "" {
		return bridge.Result{}, ErrMissingKeccak
	}
	return bridge.Success(nil).With("hash", ethcrypto.Keccak256Hash([]byte(in.Input)).Hex()), nil
}

// client returns the cached RPC client for url, dialing it on first use.
func (m *Manager) client(ctx context.Context, url string) (*ethclient.Client, string, error) {
	if url == "" {
		url = m.defaultRPC
	}
	m.mu.Lock()
	c, ok := m.clients[url]
	m.mu.Unlock()
	if ok {
		return c, url, nil
	}

	logger.Debug("Dialing Ethereum RPC", "url", url)
	dialed, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, url, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// another call may have dialed the same url meanwhile
	if c, ok := m.clients[url]; ok {
		dialed.Close()
		return c, url, nil
	}
	m.clients[url] = dialed
	return dialed, url, nil
}

type rpcIn struct {
	RPCURL string `json:"rpcUrl"`
}

func (m *Manager) LatestBlock(ctx context.Context, in rpcIn) (bridge.Result, error) {
	c, url, err := m.client(ctx, in.RPCURL)
	if err != nil {
		return bridge.Failuref("Network error: %v", err).With("rpcUrl", url), nil
	}
	b, err := c.BlockByNumber(ctx, nil)
	if err != nil {
		logger.Warn("Latest block query failed", "rpc", url, "error", err)
		return bridge.Failuref("Network error: %v", err).With("rpcUrl", url), nil
	}
	return bridge.Success(nil).
		With("blockNumber", b.NumberU64()).
		With("blockHash", b.Hash().Hex()).
		With("timestamp", b.Time()).
		With("gasUsed", strconv.FormatUint(b.GasUsed(), 10)).
		With("gasLimit", strconv.FormatUint(b.GasLimit(), 10)).
		With("transactionCount", len(b.Transactions())), nil
}

func (m *Manager) Balance(ctx context.Context, in addressIn) (bridge.Result, error) {
	addr := strings.TrimSpace(in.Address)
	if addr == "" {
		return bridge.Result{}, ErrMissingAddress
	}
	if !IsAddress(addr) {
		return bridge.Result{}, fmt.Errorf("Invalid address: %s", addr)
	}
	c, url, err := m.client(ctx, in.RPCURL)
	if err != nil {
		return bridge.Failuref("Network error: %v", err).With("rpcUrl", url), nil
	}
	wei, err := c.BalanceAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		logger.Warn("Balance query failed", "rpc", url, "error", err)
		return bridge.Failuref("Network error: %v", err).With("rpcUrl", url), nil
	}
	return bridge.Success(nil).
		With("address", addr).
		With("balanceWei", wei.String()).
		With("balanceEth", FormatEther(wei)), nil
}

var weiPerEther = big.NewInt(1_000_000_000_000_000_000)

// FormatEther renders wei as a decimal ether amount that always carries a
// fractional part, e.g. "1.0" or "0.000000000000000001".
func FormatEther(wei *big.Int) string {
	sign := ""
	v := new(big.Int).Set(wei)
	if v.Sign() < 0 {
		sign = "-"
		v.Neg(v)
	}
	whole, frac := new(big.Int).QuoRem(v, weiPerEther, new(big.Int))
	fs := frac.String()
	fs = strings.TrimRight(strings.Repeat("0", 18-len(fs))+fs, "0")
	if fs == "" {
		fs = "0"
	}
	return sign + whole.String() + "." + fs
}
