package crypto

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	devMnemonic   = "test test test test test test test test test test test junk"
	devAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	devPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

func TestHash(t *testing.T) {
	m := New("")
	ctx := context.Background()

	cases := map[string]string{
		"":          "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		"sha3-256":  "3338be694f50c5f338814986cdf0686453a888b84f424d792af4b9202398f392",
		"keccak256": "1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8",
	}
	for algorithm, want := range cases {
		res, err := m.Hash(ctx, hashIn{Input: "hello", Algorithm: algorithm})
		require.NoError(t, err, algorithm)
		assert.Equal(t, want, res.Field("hash"), algorithm)
	}

	res, err := m.Hash(ctx, hashIn{Input: "hello", Algorithm: "BLAKE3"})
	require.NoError(t, err)
	assert.Equal(t, "blake3", res.Field("algorithm"))
	assert.Len(t, res.Field("hash"), 64)

	_, err = m.Hash(ctx, hashIn{})
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = m.Hash(ctx, hashIn{Input: "x", Algorithm: "md5"})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestHMAC(t *testing.T) {
	m := New("")

	res, err := m.HMAC(context.Background(), hmacIn{Data: "The quick brown fox jumps over the lazy dog", Key: "key"})

	require.NoError(t, err)
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", res.Field("hmac"))
	assert.Equal(t, "sha256", res.Field("algorithm"))

	_, err = m.HMAC(context.Background(), hmacIn{Data: "x"})
	assert.ErrorIs(t, err, ErrMissingHMACInput)
}

func TestGenerateRandomBytes(t *testing.T) {
	m := New("")

	res, err := m.GenerateRandomBytes(context.Background(), randomIn{})
	require.NoError(t, err)
	assert.Len(t, res.Field("bytes"), 64)
	assert.Equal(t, 32, res.Field("length"))

	res, err = m.GenerateRandomBytes(context.Background(), randomIn{Length: bridge.NewInt(4)})
	require.NoError(t, err)
	assert.Len(t, res.Field("bytes"), 8)

	_, err = m.GenerateRandomBytes(context.Background(), randomIn{Length: bridge.NewInt(-1)})
	assert.Error(t, err)
}

func TestGenerateKeyPair(t *testing.T) {
	if testing.Short() {
		t.Skip("rsa generation is slow")
	}
	res, err := New("").GenerateKeyPair(context.Background())
	require.NoError(t, err)

	pub, _ := pem.Decode([]byte(res.Field("publicKey").(string)))
	require.NotNil(t, pub)
	assert.Equal(t, "PUBLIC KEY", pub.Type)
	priv, _ := pem.Decode([]byte(res.Field("privateKey").(string)))
	require.NotNil(t, priv)
	assert.Equal(t, "PRIVATE KEY", priv.Type)
}

func TestWallets(t *testing.T) {
	m := New("")
	ctx := context.Background()

	res, err := m.WalletFromMnemonic(ctx, mnemonicIn{Mnemonic: "  " + devMnemonic + "\n"})
	require.NoError(t, err)
	assert.Equal(t, devAddress, res.Field("address"))
	assert.Equal(t, devPrivateKey, res.Field("privateKey"))

	res, err = m.WalletFromPrivateKey(ctx, privateKeyIn{PrivateKey: devPrivateKey})
	require.NoError(t, err)
	assert.Equal(t, devAddress, res.Field("address"))
	assert.Equal(t, devPrivateKey, res.Field("privateKey"))

	_, err = m.WalletFromMnemonic(ctx, mnemonicIn{})
	assert.ErrorIs(t, err, ErrMissingMnemonic)
	_, err = m.WalletFromMnemonic(ctx, mnemonicIn{Mnemonic: "not a real phrase"})
	assert.Error(t, err)
	_, err = m.WalletFromPrivateKey(ctx, privateKeyIn{})
	assert.ErrorIs(t, err, ErrMissingPrivateKey)
}

func TestCreateWallet(t *testing.T) {
	m := New("")

	res, err := m.CreateWallet(context.Background())
	require.NoError(t, err)

	mnemonic := res.Field("mnemonic").(string)
	assert.Len(t, strings.Fields(mnemonic), 12)
	again, err := m.WalletFromMnemonic(context.Background(), mnemonicIn{Mnemonic: mnemonic})
	require.NoError(t, err)
	assert.Equal(t, res.Field("address"), again.Field("address"))
}

func TestValidateAddress(t *testing.T) {
	m := New("")
	ctx := context.Background()

	res, _ := m.ValidateAddress(ctx, addressIn{Address: strings.ToLower(devAddress)})
	assert.Equal(t, true, res.Field("isValid"))
	assert.Equal(t, devAddress, res.Field("checksumAddress"))

	res, _ = m.ValidateAddress(ctx, addressIn{Address: "0xF39Fd6e51aad88F6F4ce6aB8827279cffFb92266"})
	assert.Equal(t, false, res.Field("isValid"), "bad checksum")
	assert.Nil(t, res.Field("checksumAddress"))

	res, _ = m.ValidateAddress(ctx, addressIn{Address: "hello"})
	assert.Equal(t, false, res.Field("isValid"))

	res, _ = m.ValidateAddress(ctx, addressIn{Address: " " + strings.ToLower(devAddress) + "\n"})
	assert.Equal(t, true, res.Field("isValid"))
	assert.Equal(t, devAddress, res.Field("checksumAddress"))
}

func TestKeccak256(t *testing.T) {
	res, err := New("").Keccak256(context.Background(), keccakIn{Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8", res.Field("hash"))
}

func TestFormatEther(t *testing.T) {
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatEther(wei))
	assert.Equal(t, "1.0", FormatEther(big.NewInt(1_000_000_000_000_000_000)))
	assert.Equal(t, "0.000000000000000001", FormatEther(big.NewInt(1)))
	assert.Equal(t, "0.0", FormatEther(big.NewInt(0)))
}

// rpcServer answers JSON-RPC calls from a method table.
func rpcServer(t *testing.T, methods map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls.Add(1)
		result, ok := methods[req.Method]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

const zeroHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

var latestBlock = `{
	"number": "0x10",
	"hash": "` + zeroHash + `",
	"parentHash": "` + zeroHash + `",
	"sha3Uncles": "0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347",
	"miner": "0x0000000000000000000000000000000000000000",
	"stateRoot": "` + zeroHash + `",
	"transactionsRoot": "0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
	"receiptsRoot": "0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
	"logsBloom": "0x` + strings.Repeat("00", 256) + `",
	"difficulty": "0x0",
	"gasLimit": "0x1c9c380",
	"gasUsed": "0x5208",
	"timestamp": "0x6553f100",
	"extraData": "0x",
	"mixHash": "` + zeroHash + `",
	"nonce": "0x0000000000000000",
	"transactions": [],
	"uncles": []
}`

func TestLatestBlock(t *testing.T) {
	srv, _ := rpcServer(t, map[string]string{"eth_getBlockByNumber": latestBlock})
	m := New(srv.URL)
	defer m.Close()

	res, err := m.LatestBlock(context.Background(), rpcIn{})

	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, uint64(16), res.Field("blockNumber"))
	assert.Equal(t, uint64(1700000000), res.Field("timestamp"))
	assert.Equal(t, "21000", res.Field("gasUsed"))
	assert.Equal(t, "30000000", res.Field("gasLimit"))
	assert.Equal(t, 0, res.Field("transactionCount"))
}

func TestBalance_ReusesClient(t *testing.T) {
	srv, calls := rpcServer(t, map[string]string{"eth_getBalance": `"0xde0b6b3a7640000"`})
	m := New("http://127.0.0.1:1")
	defer m.Close()

	for i := 0; i < 2; i++ {
		res, err := m.Balance(context.Background(), addressIn{Address: devAddress, RPCURL: srv.URL})
		require.NoError(t, err)
		require.True(t, res.OK(), res.Message)
		assert.Equal(t, "1000000000000000000", res.Field("balanceWei"))
		assert.Equal(t, "1.0", res.Field("balanceEth"))
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, m.clients, 1)
}

func TestClient_ConcurrentDialsShareOneClient(t *testing.T) {
	srv, _ := rpcServer(t, map[string]string{})
	m := New(srv.URL)
	defer m.Close()

	var wg sync.WaitGroup
	got := make([]*ethclient.Client, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := m.client(context.Background(), "")
			assert.NoError(t, err)
			got[i] = c
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.clients, 1)
	for _, c := range got {
		assert.Same(t, got[0], c)
	}
}

func TestBalance_Errors(t *testing.T) {
	srv, _ := rpcServer(t, map[string]string{})
	m := New(srv.URL)
	defer m.Close()

	_, err := m.Balance(context.Background(), addressIn{})
	assert.ErrorIs(t, err, ErrMissingAddress)

	_, err = m.Balance(context.Background(), addressIn{Address: "0x123"})
	assert.EqualError(t, err, "Invalid address: 0x123")

	res, err := m.Balance(context.Background(), addressIn{Address: devAddress})
	require.NoError(t, err)
	assert.Equal(t, bridge.StatusError, res.Status)
	assert.True(t, strings.HasPrefix(res.Message, "Network error: "))
	assert.Equal(t, srv.URL, res.Field("rpcUrl"))
}
